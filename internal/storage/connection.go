// Package storage provides the embedded execution-history store for Argos:
// schema installation, typed CRUD over execution history, lint, coverage,
// rules and CI records, and transactional grouping of ingests.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/argos-io/argos/internal/config"
)

const (
	defaultBusyTimeout     = 5 * time.Second
	defaultHealthCheckTime = 2 * time.Second
)

// ErrDatabasePathEmpty is returned when the database path is an empty string.
var ErrDatabasePathEmpty = errors.New("database path cannot be empty")

// Config holds SQLite connection configuration.
//
// The store is a single local file; there is no connection pool tuning beyond
// limiting to one open connection, which both matches the one-writer contract
// and avoids SQLITE_BUSY churn between pooled handles.
type Config struct {
	// Path is the database file location, e.g. ".anvil/history.db".
	Path string

	// BusyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY.
	BusyTimeout time.Duration
}

// LoadConfig loads SQLite configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Path:        config.GetEnvStr("ARGOS_DATABASE", config.DefaultDatabasePath),
		BusyTimeout: config.GetEnvDuration("ARGOS_DATABASE_BUSY_TIMEOUT", defaultBusyTimeout),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return ErrDatabasePathEmpty
	}

	return nil
}

// Connection wraps the SQLite database handle.
//
// Deleting the database file while no Connection is open is a valid reset;
// the schema recreates itself on the next open. Close must be called before
// the file is unlinked (Windows keeps the file locked while a handle is open).
type Connection struct {
	DB   *sql.DB
	path string
}

// NewConnection opens (and creates if absent) the SQLite database file and
// configures the pragmas the store relies on: foreign keys, WAL journaling,
// and a busy timeout. The parent directory is created when missing so that a
// fresh checkout works without setup.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	busyMillis := cfg.BusyTimeout.Milliseconds()
	if busyMillis <= 0 {
		busyMillis = defaultBusyTimeout.Milliseconds()
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL",
		cfg.Path, busyMillis)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}

	// One writer at a time is the store contract; a single pooled connection
	// makes SQLite enforce it instead of surfacing lock races.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, classifyError(err))
	}

	return &Connection{DB: db, path: cfg.Path}, nil
}

// Path returns the database file location.
func (c *Connection) Path() string {
	return c.path
}

// HealthCheck verifies the database file is reachable and responsive.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoConnection
	}

	ctx, cancel := context.WithTimeout(ctx, defaultHealthCheckTime)
	defer cancel()

	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", classifyError(err))
	}

	return nil
}

// Close closes the database handle. Safe to call on a nil connection.
func (c *Connection) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}

	if err := c.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
