// Package database provides the SQLite connection, schema migrations, and
// the clock update data access layer (Store).
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/doomsdeal/clock/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// NewDB connects to the SQLite database at dbPath, applies migrations, and
// returns the connection pool.
func NewDB(dbPath string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite doesn't support concurrent writes, so max open conns = 1
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	dbName := ExtractDBNameFromPath(dbPath)
	if err := ApplyMigrations(db.DB, dbName); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := EnsureImageColumn(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to ensure image_data column: %w", err)
	}

	slog.Info("Database connected and migrations applied successfully", "path", dbPath)
	return db, nil
}

// CloseDB closes the database connection pool.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing database connection", "error", err)
	} else {
		slog.Info("Database connection closed successfully.")
	}
}

// ApplyMigrations runs database migrations using embedded files.
func ApplyMigrations(db *sql.DB, dbName string) error {
	if db == nil {
		return errors.New("database connection is nil, cannot apply migrations")
	}
	if dbName == "" {
		return errors.New("database name/path for migration driver is empty")
	}

	slog.Info("Applying database migrations...", "database_name", dbName)

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite3 database driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance(
		"iofs",
		sourceDriver,
		"sqlite3",
		dbDriver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	migrateErr := migrator.Up()
	if migrateErr != nil {
		if errors.Is(migrateErr, migrate.ErrNoChange) {
			slog.Info("No database migrations to apply.")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", migrateErr)
	}

	slog.Info("Database migrations applied successfully.")
	return nil
}

// EnsureImageColumn adds the image_data column to clock_updates when it is
// missing. The column arrived after the table shipped, so the step checks
// pragma_table_info first and no-ops when a previous run already added it.
func EnsureImageColumn(db *sqlx.DB) error {
	var name string
	err := db.Get(&name, "SELECT name FROM pragma_table_info('clock_updates') WHERE name = 'image_data'")
	if err == nil {
		slog.Debug("image_data column already exists")
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to inspect clock_updates schema: %w", err)
	}

	if _, err := db.Exec("ALTER TABLE clock_updates ADD COLUMN image_data TEXT"); err != nil {
		return fmt.Errorf("failed to add image_data column: %w", err)
	}

	slog.Info("Added image_data column to clock_updates table")
	return nil
}

// ExtractDBNameFromPath extracts the database file path from a possibly
// URL-formatted path. This handles both simple file paths and paths with
// URL-style encoding.
func ExtractDBNameFromPath(path string) string {
	path = strings.TrimPrefix(path, "file:")

	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}

	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}

	return path
}
