// Package main contains the entrypoint for the Dooms Deal Clock service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/doomsdeal/clock/internal/clock"
	"github.com/doomsdeal/clock/internal/config"
	"github.com/doomsdeal/clock/internal/database"
	"github.com/doomsdeal/clock/internal/logger"
	"github.com/doomsdeal/clock/internal/scheduler"
	"github.com/doomsdeal/clock/internal/server"
	"github.com/doomsdeal/clock/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, db, gateway, pipeline,
// scheduler, http server), handles graceful shutdown, and returns an exit
// code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	// Optional .env for local development; absence is not an error.
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded environment from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	gateway := telegram.NewBotGateway(cfg.Telegram.Token, cfg.Telegram.Channel, log)
	service := clock.NewService(gateway, store, log)

	var sched *scheduler.Scheduler
	if cfg.Fetch.Background {
		sched, err = scheduler.New(log, cfg.Fetch.Interval, func(ctx context.Context) (int, error) {
			return service.FetchAndStore(ctx, cfg.Fetch.Limit)
		})
		if err != nil {
			log.Error("Failed to create scheduler", "error", err)
			return 1
		}
		if err := sched.Start(); err != nil {
			log.Error("Failed to start scheduler", "error", err)
			return 1
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				log.Error("Failed to stop scheduler", "error", err)
			}
		}()
	} else {
		log.Info("Background fetch disabled; use POST /api/clock/fetch to ingest manually")
	}

	srv := server.New(service, log, cfg.Server.Host, cfg.Server.Port, cfg.Fetch.Limit, cfg.Server.WebDir)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gCtx)
	})

	log.Info("Dooms Deal Clock service started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped due to error", "error", err)
		return 1
	}

	log.Info("Service stopped gracefully.")
	return 0
}
