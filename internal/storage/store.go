package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/argos-io/argos/internal/config"
)

type (
	// Store exclusively owns all persistent Argos entities. All other
	// components interact through its typed read/write operations.
	//
	// Writers are serialized by a process-wide mutex bracketing every write
	// transaction; readers run concurrently against the same file. Detected
	// file corruption latches the store into a read-refusing state rather
	// than silently reopening.
	Store struct {
		conn          *Connection
		logger        *slog.Logger
		writerMu      sync.Mutex
		writersQueued atomic.Int64
		corrupted     atomic.Bool
	}

	// Tx is one open write transaction. Every ingest owns exactly one Tx;
	// Commit or Rollback releases the process-wide writer lock.
	Tx struct {
		tx    *sql.Tx
		store *Store
		done  bool
	}

	// querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
	// letting insert helpers serve both transactional and direct writes.
	querier interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	}
)

// NewStore opens the store over an existing connection and installs any
// missing schema. The connection remains owned by the caller.
func NewStore(ctx context.Context, conn *Connection) (*Store, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoConnection
	}

	store := &Store{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("ARGOS_LOG_LEVEL", slog.LevelInfo),
		})),
	}

	if err := installSchema(ctx, conn.DB, store.logger); err != nil {
		return nil, err
	}

	return store, nil
}

// SchemaVersion returns the schema generation recorded in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int

	err := s.conn.DB.QueryRowContext(ctx,
		`SELECT version FROM anvil_schema_version LIMIT 1`).Scan(&version)
	if err != nil {
		return 0, s.fail("read schema version", err)
	}

	return version, nil
}

// WritersQueued returns the number of writers currently waiting for or
// holding the write lock. Surfaced by the health endpoint.
func (s *Store) WritersQueued() int64 {
	return s.writersQueued.Load()
}

// HealthCheck verifies the underlying database file is responsive.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.corrupted.Load() {
		return ErrCorruption
	}

	return s.conn.HealthCheck(ctx)
}

// Begin opens a write transaction, waiting for the process-wide writer lock.
// The caller must Commit or Rollback; both release the lock. A store that has
// observed corruption refuses new transactions.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	if s.corrupted.Load() {
		return nil, ErrCorruption
	}

	s.writersQueued.Add(1)
	s.writerMu.Lock()

	tx, err := s.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		s.writerMu.Unlock()
		s.writersQueued.Add(-1)

		return nil, s.fail("begin transaction", err)
	}

	return &Tx{tx: tx, store: s}, nil
}

// Commit commits the transaction and releases the writer lock.
func (t *Tx) Commit() error {
	if t.done {
		return nil
	}

	t.done = true
	err := t.tx.Commit()
	t.store.writerMu.Unlock()
	t.store.writersQueued.Add(-1)

	if err != nil {
		return t.store.fail("commit transaction", err)
	}

	return nil
}

// Rollback aborts the transaction and releases the writer lock. Safe to call
// after Commit (no-op), which enables the usual defer pattern.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}

	t.done = true
	err := t.tx.Rollback()
	t.store.writerMu.Unlock()
	t.store.writersQueued.Add(-1)

	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return t.store.fail("rollback transaction", err)
	}

	return nil
}

// write runs fn inside a short-lived transaction of its own. Used by
// operations that are single writes rather than part of an ingest.
func (s *Store) write(ctx context.Context, op string, fn func(q querier) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // Safe after commit
	}()

	if err := fn(tx.tx); err != nil {
		return s.fail(op, err)
	}

	return tx.Commit()
}

// fail classifies err, latches corruption, and wraps with the operation name.
// Already-classified errors pass through so callers see a single taxonomy
// sentinel in the chain.
func (s *Store) fail(op string, err error) error {
	classified := classifyError(err)

	if errors.Is(classified, ErrCorruption) {
		if s.corrupted.CompareAndSwap(false, true) {
			s.logger.Error("Database corruption detected, store refuses further writes",
				slog.String("operation", op),
				slog.String("path", s.conn.Path()),
				slog.String("error", err.Error()),
			)
		}
	}

	return fmt.Errorf("%s: %w", op, classified)
}
