package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Sentinel errors forming the store error taxonomy. Every store operation
// fails with exactly one of these (wrapped with operation context) so callers
// can map failures onto HTTP statuses and CLI exit codes without string
// matching.
var (
	// ErrConstraint is returned when a write violates a uniqueness or check
	// constraint, e.g. a duplicate (entity_id, execution_id) pair.
	ErrConstraint = errors.New("store constraint violation")

	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store row not found")

	// ErrBusy is returned when the writer lock or the database file is held
	// longer than the configured timeout. The operation may be retried.
	ErrBusy = errors.New("store busy")

	// ErrCorruption is returned when SQLite reports file-level corruption.
	// This is fatal: the store refuses further writes and the process should
	// exit rather than silently reopen the file.
	ErrCorruption = errors.New("store corruption detected")

	// ErrNoConnection is returned when a store is constructed without a
	// database connection.
	ErrNoConnection = errors.New("no database connection")
)

// classifyError maps a raw database error onto the store taxonomy, preserving
// the cause in the wrap chain. Unclassified errors pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", ErrBusy, err)
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %w", ErrCorruption, err)
		}
	}

	return err
}

// isConstraintErr reports whether err is a uniqueness violation, used by
// insert paths that treat duplicates as idempotent no-ops.
func isConstraintErr(err error) bool {
	return errors.Is(classifyError(err), ErrConstraint)
}
