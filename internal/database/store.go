package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("record not found")

// flushThreshold is the number of staged updates held in memory before the
// batch writes them to the open transaction. Writes stay invisible to
// readers until Commit.
const flushThreshold = 50

// Store defines the data access operations for clock updates. Methods
// accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Begin opens a transaction-scoped batch for staging new updates.
	Begin(ctx context.Context) (*UpdateBatch, error)

	// ExistsByMessageID reports whether an update with the given source
	// message ID is already stored.
	ExistsByMessageID(ctx context.Context, messageID int64) (bool, error)

	// LatestUpdate returns the most recent update by created_at.
	// Returns ErrNotFound when the store is empty.
	LatestUpdate(ctx context.Context) (*ClockUpdate, error)

	// RecentUpdates returns up to 'limit' updates, newest first.
	RecentUpdates(ctx context.Context, limit int) ([]ClockUpdate, error)

	// CountUpdates returns the total number of stored updates.
	CountUpdates(ctx context.Context) (int64, error)

	// DeleteByMessageID removes the update for the given source message ID
	// and reports whether a row was actually deleted.
	DeleteByMessageID(ctx context.Context, messageID int64) (bool, error)
}

// sqlxStore implements Store using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by the given sqlx connection.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// insertQuery relies on the unique index on message_id: a conflicting row
// is silently skipped, so a concurrent ingestion run that staged the same
// message cannot produce a duplicate.
const insertQuery = `
        INSERT INTO clock_updates (message_id, content, time_value, image_data, created_at)
        VALUES (:message_id, :content, :time_value, :image_data, :created_at)
        ON CONFLICT(message_id) DO NOTHING;
    `

// UpdateBatch stages clock updates inside a single transaction. Staged rows
// are written to the transaction in chunks of flushThreshold to bound
// memory, but only Commit makes them visible.
type UpdateBatch struct {
	tx       *sqlx.Tx
	logger   *slog.Logger
	staged   []*ClockUpdate
	inserted int
	done     bool
}

// Begin opens a new batch transaction.
func (s *sqlxStore) Begin(ctx context.Context) (*UpdateBatch, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin batch transaction", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UpdateBatch{tx: tx, logger: s.logger}, nil
}

// Exists reports whether an update with the given source message ID is
// visible inside the batch transaction, including rows flushed earlier in
// this same batch. With a single SQLite writer connection the dedup check
// must run through the open transaction, not the pool.
func (b *UpdateBatch) Exists(ctx context.Context, messageID int64) (bool, error) {
	if b.done {
		return false, errors.New("batch already finished")
	}
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM clock_updates WHERE message_id = ?);`
	if err := b.tx.GetContext(ctx, &exists, query, messageID); err != nil {
		return false, fmt.Errorf("failed to check existence of message %d: %w", messageID, err)
	}
	return exists, nil
}

// Add stages one update for insertion. Every flushThreshold staged rows are
// executed against the open transaction.
func (b *UpdateBatch) Add(ctx context.Context, update *ClockUpdate) error {
	if b.done {
		return errors.New("batch already finished")
	}
	if update == nil {
		return errors.New("cannot stage nil update")
	}
	if update.Content == "" {
		return errors.New("update must have non-empty content")
	}
	if update.CreatedAt.IsZero() {
		return errors.New("update must have a non-zero created_at")
	}

	b.staged = append(b.staged, update)
	if len(b.staged) >= flushThreshold {
		return b.flush(ctx)
	}
	return nil
}

func (b *UpdateBatch) flush(ctx context.Context) error {
	for _, update := range b.staged {
		result, err := b.tx.NamedExecContext(ctx, insertQuery, update)
		if err != nil {
			return fmt.Errorf("failed to insert update for message %d: %w", update.MessageID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected for message %d: %w", update.MessageID, err)
		}
		if affected == 0 {
			// Lost a dedup race to another writer; not an error.
			b.logger.DebugContext(ctx, "Skipped duplicate update", "message_id", update.MessageID)
			continue
		}

		if id, err := result.LastInsertId(); err == nil {
			update.ID = id
		}
		b.inserted++
	}
	b.staged = b.staged[:0]
	return nil
}

// Commit flushes any remaining staged rows and commits the transaction,
// returning the number of rows actually inserted.
func (b *UpdateBatch) Commit(ctx context.Context) (int, error) {
	if b.done {
		return 0, errors.New("batch already finished")
	}
	if err := b.flush(ctx); err != nil {
		return 0, err
	}
	if err := b.tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	b.done = true
	return b.inserted, nil
}

// Rollback discards the whole batch. Safe to call after Commit.
func (b *UpdateBatch) Rollback() {
	if b.done {
		return
	}
	b.done = true
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		b.logger.Warn("Error rolling back batch", "error", err)
	}
}

func (s *sqlxStore) ExistsByMessageID(ctx context.Context, messageID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM clock_updates WHERE message_id = ?);`
	if err := s.db.GetContext(ctx, &exists, query, messageID); err != nil {
		s.logger.ErrorContext(ctx, "Error checking update existence", "message_id", messageID, "error", err)
		return false, fmt.Errorf("failed to check existence of message %d: %w", messageID, err)
	}
	return exists, nil
}

func (s *sqlxStore) LatestUpdate(ctx context.Context) (*ClockUpdate, error) {
	var update ClockUpdate
	query := `
        SELECT id, message_id, content, time_value, image_data, created_at, updated_at
        FROM clock_updates
        ORDER BY created_at DESC
        LIMIT 1;
    `
	err := s.db.GetContext(ctx, &update, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting latest update", "error", err)
		return nil, fmt.Errorf("failed to get latest update: %w", err)
	}
	return &update, nil
}

func (s *sqlxStore) RecentUpdates(ctx context.Context, limit int) ([]ClockUpdate, error) {
	if limit <= 0 {
		limit = 10
	}

	updates := []ClockUpdate{}
	query := `
        SELECT id, message_id, content, time_value, image_data, created_at, updated_at
        FROM clock_updates
        ORDER BY created_at DESC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &updates, query, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent updates", "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent updates: %w", err)
	}
	return updates, nil
}

func (s *sqlxStore) CountUpdates(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM clock_updates;`); err != nil {
		s.logger.ErrorContext(ctx, "Error counting updates", "error", err)
		return 0, fmt.Errorf("failed to count updates: %w", err)
	}
	return count, nil
}

func (s *sqlxStore) DeleteByMessageID(ctx context.Context, messageID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM clock_updates WHERE message_id = ?;`, messageID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting update", "message_id", messageID, "error", err)
		return false, fmt.Errorf("failed to delete update for message %d: %w", messageID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for delete of message %d: %w", messageID, err)
	}

	if affected > 0 {
		s.logger.InfoContext(ctx, "Deleted stored update", "message_id", messageID)
	}
	return affected > 0, nil
}
