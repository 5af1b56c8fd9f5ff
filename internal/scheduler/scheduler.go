// Package scheduler runs the periodic background fetch using gocron.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// FetchFunc is the ingestion entry point invoked on every cycle.
type FetchFunc func(ctx context.Context) (int, error)

// Scheduler triggers the bounded fetch on a fixed interval. Singleton mode
// guarantees a slow fetch never overlaps the next cycle, and a failed
// cycle simply waits for the next interval instead of crashing the loop.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	interval  time.Duration
	fetch     FetchFunc
	mu        sync.Mutex
	running   bool
}

// New creates a scheduler that calls fetch every interval.
func New(logger *slog.Logger, interval time.Duration, fetch FetchFunc) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
		interval:  interval,
		fetch:     fetch,
	}, nil
}

// Start registers the fetch job and starts the scheduler ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func(ctx context.Context) {
			s.logger.Info("Running scheduled fetch")
			startTime := time.Now()

			count, err := s.fetch(ctx)
			if err != nil {
				s.logger.Error("Scheduled fetch failed", "error", err)
				return
			}

			s.logger.Info("Finished scheduled fetch",
				"new_updates", count, "duration", time.Since(startTime))
		}, context.Background()),
		gocron.WithName("fetch_updates"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule fetch job: %w", err)
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "interval", s.interval)
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running fetch to
// complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}

	s.running = false
	s.logger.Info("Scheduler stopped gracefully.")
	return nil
}
