// Package server exposes the clock service over a small JSON HTTP API and
// serves the static web frontend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/doomsdeal/clock/internal/clock"
	"github.com/doomsdeal/clock/internal/database"
)

const serviceVersion = "0.1.0"

// defaultHistoryLimit matches the history endpoint's documented default.
const defaultHistoryLimit = 10

// Server wires the clock service into an http.Server.
type Server struct {
	service    *clock.Service
	logger     *slog.Logger
	httpServer *http.Server
	fetchLimit int
	webDir     string
}

// New creates a Server listening on host:port.
func New(service *clock.Service, logger *slog.Logger, host string, port int, fetchLimit int, webDir string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		service:    service,
		logger:     logger.With("component", "server"),
		fetchLimit: fetchLimit,
		webDir:     webDir,
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed separately so tests can drive the
// handlers through httptest without binding a socket.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/clock/latest", s.handleLatest)
	mux.HandleFunc("GET /api/clock/history", s.handleHistory)
	mux.HandleFunc("POST /api/clock/fetch", s.handleFetch)
	mux.HandleFunc("POST /api/clock/reload/{messageID}", s.handleReload)

	if s.webDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.webDir))))
	}

	return s.withCORS(s.withLogging(mux))
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped gracefully.")
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Handled request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// withCORS mirrors the permissive policy of the original deployment: the
// frontend may be served from a different origin.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// updatePayload is the boundary representation of one stored update.
type updatePayload struct {
	ID        int64   `json:"id"`
	Time      *string `json:"time"`
	Content   string  `json:"content"`
	ImageData *string `json:"image_data"`
	CreatedAt string  `json:"created_at"`
	MessageID int64   `json:"message_id"`
}

func toPayload(update *database.ClockUpdate) updatePayload {
	p := updatePayload{
		ID:        update.ID,
		Content:   update.Content,
		CreatedAt: update.CreatedAt.Format(time.RFC3339),
		MessageID: update.MessageID,
	}
	if update.TimeValue.Valid {
		p.Time = &update.TimeValue.String
	}
	if update.ImageData.Valid {
		p.ImageData = &update.ImageData.String
	}
	return p
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Dooms Deal Clock API",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "dooms-deal-clock",
		"version": serviceVersion,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	update, err := s.service.LatestUpdate(r.Context())
	if errors.Is(err, database.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "No clock updates found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load latest update", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load latest update")
		return
	}

	s.writeJSON(w, http.StatusOK, toPayload(update))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	updates, err := s.service.RecentUpdates(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to load history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	total, err := s.service.CountUpdates(r.Context())
	if err != nil {
		s.logger.Error("Failed to count updates", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to count updates")
		return
	}

	payloads := make([]updatePayload, 0, len(updates))
	for i := range updates {
		payloads = append(payloads, toPayload(&updates[i]))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"updates":     payloads,
		"total_count": total,
		"limit":       limit,
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.FetchAndStore(r.Context(), s.fetchLimit)
	if err != nil {
		s.logger.Error("Failed to fetch updates", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Successfully fetched %d new updates", count),
		"updates_count": count,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(r.PathValue("messageID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "message_id must be an integer")
		return
	}

	count, err := s.service.Reload(r.Context(), messageID)
	if err != nil {
		s.logger.Error("Failed to reload message", "message_id", messageID, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Successfully reloaded message %d, fetched %d updates", messageID, count),
		"message_id":    messageID,
		"updates_count": count,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
