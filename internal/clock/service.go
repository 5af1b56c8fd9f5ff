// Package clock implements the clock update ingestion pipeline and the
// read-side queries backing the HTTP API.
package clock

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/doomsdeal/clock/internal/database"
	"github.com/doomsdeal/clock/internal/parser"
	"github.com/doomsdeal/clock/internal/telegram"
)

// DefaultFetchLimit is the bounded fetch window size.
const DefaultFetchLimit = 5

// DefaultWindowDays is the windowed fetch cutoff.
const DefaultWindowDays = 30

// Service ingests channel messages into the store and answers queries over
// the stored updates. Gateway and Store are injected; the service holds no
// other state.
type Service struct {
	gateway telegram.Gateway
	store   database.Store
	logger  *slog.Logger
}

// NewService creates a Service with the given collaborators.
func NewService(gateway telegram.Gateway, store database.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		gateway: gateway,
		store:   store,
		logger:  logger.With("component", "clock"),
	}
}

// FetchAndStore retrieves the most recent 'limit' channel messages and
// stores the ones not seen before, returning the number of new records.
//
// A connection failure is returned to the caller; the serving layer turns
// it into an error response. Once connected, retrieval and storage
// failures roll back the batch, are logged, and yield (0, nil): a failed
// cycle is not fatal to periodic ingestion.
func (s *Service) FetchAndStore(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	if err := s.gateway.Connect(ctx); err != nil {
		return 0, err
	}
	defer s.gateway.Disconnect()

	count, err := s.ingest(ctx, func(ctx context.Context) ([]telegram.Message, error) {
		return s.gateway.LatestMessages(ctx, limit)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching and storing updates", "error", err)
		return 0, nil
	}

	s.logger.InfoContext(ctx, "Successfully stored new clock updates", "count", count)
	return count, nil
}

// FetchWindow ingests all channel messages newer than 'days' days ago.
// days <= 0 means no cutoff. Error policy matches FetchAndStore.
func (s *Service) FetchWindow(ctx context.Context, days int) (int, error) {
	var minDate time.Time
	if days > 0 {
		minDate = time.Now().UTC().AddDate(0, 0, -days)
	}

	if err := s.gateway.Connect(ctx); err != nil {
		return 0, err
	}
	defer s.gateway.Disconnect()

	count, err := s.ingest(ctx, func(ctx context.Context) ([]telegram.Message, error) {
		return s.gateway.MessagesSince(ctx, minDate)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching windowed updates", "days", days, "error", err)
		return 0, nil
	}

	s.logger.InfoContext(ctx, "Successfully stored windowed clock updates", "days", days, "count", count)
	return count, nil
}

// ingest runs one transactional batch over the messages produced by
// retrieve. Records become visible only when the whole batch commits.
func (s *Service) ingest(ctx context.Context, retrieve func(context.Context) ([]telegram.Message, error)) (int, error) {
	messages, err := retrieve(ctx)
	if err != nil {
		return 0, err
	}

	batch, err := s.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer batch.Rollback()

	for _, msg := range messages {
		if msg.Text == "" {
			continue
		}

		exists, err := batch.Exists(ctx, msg.ID)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}

		update := s.buildUpdate(ctx, msg)
		if err := batch.Add(ctx, update); err != nil {
			return 0, err
		}

		s.logger.InfoContext(ctx, "Staged clock update",
			"message_id", msg.ID, "time_value", update.TimeValue.String)
	}

	return batch.Commit(ctx)
}

// buildUpdate assembles the record for one new message. The parser's
// normalized HH:MM:SS is the canonical time_value; messages that don't
// qualify as clock messages keep the gateway's raw token so the stored
// row still carries whatever time-like content was present.
func (s *Service) buildUpdate(ctx context.Context, msg telegram.Message) *database.ClockUpdate {
	update := &database.ClockUpdate{
		MessageID: msg.ID,
		Content:   msg.Text,
		CreatedAt: msg.Date,
	}
	if update.CreatedAt.IsZero() {
		update.CreatedAt = time.Now().UTC()
	}

	if data, ok := parser.Parse(msg.Text); ok {
		update.TimeValue = sql.NullString{String: data.Time, Valid: true}
	} else if token := telegram.ExtractTimeToken(msg.Text); token != "" {
		update.TimeValue = sql.NullString{String: token, Valid: true}
	}

	if img := s.gateway.MessageImage(ctx, msg); len(img) > 0 {
		update.ImageData = sql.NullString{
			String: base64.StdEncoding.EncodeToString(img),
			Valid:  true,
		}
	}

	return update
}

// LatestUpdate returns the most recent stored update.
func (s *Service) LatestUpdate(ctx context.Context) (*database.ClockUpdate, error) {
	return s.store.LatestUpdate(ctx)
}

// RecentUpdates returns up to 'limit' stored updates, newest first.
func (s *Service) RecentUpdates(ctx context.Context, limit int) ([]database.ClockUpdate, error) {
	return s.store.RecentUpdates(ctx, limit)
}

// CountUpdates returns the total number of stored updates.
func (s *Service) CountUpdates(ctx context.Context) (int64, error) {
	return s.store.CountUpdates(ctx)
}

// Reload deletes the stored record for messageID (when present) and
// re-runs the bounded fetch. The message is re-admitted only if it still
// falls inside the latest-N window; reload guarantees removal, not
// re-creation.
func (s *Service) Reload(ctx context.Context, messageID int64) (int, error) {
	deleted, err := s.store.DeleteByMessageID(ctx, messageID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete message %d before reload: %w", messageID, err)
	}
	if deleted {
		s.logger.InfoContext(ctx, "Deleted existing message for reload", "message_id", messageID)
	}

	return s.FetchAndStore(ctx, DefaultFetchLimit)
}
