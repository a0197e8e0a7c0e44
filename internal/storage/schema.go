package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// SchemaVersion is the schema generation this build writes into the
// anvil_schema_version sentinel. Schema changes are forward-only and
// additive; there is no migration framework.
const SchemaVersion = 1

// schemaDDL creates every core table and index when missing. Statements are
// idempotent (CREATE ... IF NOT EXISTS) so installation runs on every open.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS anvil_schema_version (
		version INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS execution_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		execution_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('PASSED','FAILED','SKIPPED','ERROR')),
		duration_seconds REAL NOT NULL DEFAULT 0 CHECK (duration_seconds >= 0),
		space TEXT NOT NULL CHECK (space IN ('local','ci')),
		metadata TEXT,
		UNIQUE (entity_id, execution_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_entity_ts
		ON execution_history (entity_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_history_space_ts
		ON execution_history (space, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS execution_rules (
		name TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1,
		criteria TEXT NOT NULL,
		window_size INTEGER NOT NULL DEFAULT 1 CHECK (window_size >= 1),
		threshold REAL NOT NULL DEFAULT 0 CHECK (threshold >= 0 AND threshold <= 1),
		groups TEXT NOT NULL DEFAULT '[]',
		executor_config TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS entity_statistics (
		entity_id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		total_runs INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failure_rate REAL NOT NULL DEFAULT 0,
		avg_duration REAL NOT NULL DEFAULT 0,
		last_run TIMESTAMP,
		last_failure TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS lint_violations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		line INTEGER NOT NULL DEFAULT 0,
		col INTEGER,
		severity TEXT NOT NULL CHECK (severity IN ('ERROR','WARNING','INFO')),
		code TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		validator TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		space TEXT NOT NULL CHECK (space IN ('local','ci'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lint_validator_code
		ON lint_violations (validator, code)`,
	`CREATE INDEX IF NOT EXISTS idx_lint_execution
		ON lint_violations (execution_id, validator)`,

	`CREATE TABLE IF NOT EXISTS lint_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		validator TEXT NOT NULL,
		files_scanned INTEGER NOT NULL DEFAULT 0,
		total_violations INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		warnings INTEGER NOT NULL DEFAULT 0,
		info INTEGER NOT NULL DEFAULT 0,
		by_code TEXT NOT NULL DEFAULT '{}',
		space TEXT NOT NULL CHECK (space IN ('local','ci')),
		UNIQUE (execution_id, validator)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lint_summaries_space_ts
		ON lint_summaries (space, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS code_quality_metrics (
		file_path TEXT NOT NULL,
		validator TEXT NOT NULL,
		total_scans INTEGER NOT NULL DEFAULT 0,
		total_violations INTEGER NOT NULL DEFAULT 0,
		avg_violations_per_scan REAL NOT NULL DEFAULT 0,
		most_common_code TEXT NOT NULL DEFAULT '',
		last_scan TIMESTAMP,
		last_violation TIMESTAMP,
		UNIQUE (file_path, validator)
	)`,

	`CREATE TABLE IF NOT EXISTS coverage_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		total_statements INTEGER NOT NULL DEFAULT 0,
		covered_statements INTEGER NOT NULL DEFAULT 0,
		coverage_percentage REAL NOT NULL DEFAULT 0,
		missing_lines TEXT NOT NULL DEFAULT '[]',
		space TEXT NOT NULL CHECK (space IN ('local','ci'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_coverage_file_ts
		ON coverage_history (file_path, timestamp)`,

	`CREATE TABLE IF NOT EXISTS coverage_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMP NOT NULL,
		total_coverage REAL NOT NULL DEFAULT 0,
		files_analyzed INTEGER NOT NULL DEFAULT 0,
		total_statements INTEGER NOT NULL DEFAULT 0,
		covered_statements INTEGER NOT NULL DEFAULT 0,
		space TEXT NOT NULL CHECK (space IN ('local','ci'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_coverage_summaries_space_ts
		ON coverage_summaries (space, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS ci_workflow_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_run_id INTEGER NOT NULL UNIQUE,
		workflow_name TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		commit_sha TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		conclusion TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP,
		duration_seconds REAL NOT NULL DEFAULT 0,
		run_number INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS ci_workflow_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_job_id INTEGER NOT NULL UNIQUE,
		remote_run_id INTEGER NOT NULL REFERENCES ci_workflow_runs (remote_run_id),
		job_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		conclusion TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		runner_os TEXT NOT NULL DEFAULT '',
		log_content TEXT,
		test_results_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ci_jobs_run
		ON ci_workflow_jobs (remote_run_id)`,
}

// installSchema creates missing tables and indexes, then reconciles the
// anvil_schema_version sentinel:
//
//   - No sentinel row: this is a fresh database, the current version is
//     recorded.
//   - Sentinel older or equal: nothing to do (additive columns only).
//   - Sentinel newer than this build: a newer Argos created the file. All
//     required tables exist (the DDL above just ensured them), so this is a
//     warning, not a failure.
func installSchema(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	for _, stmt := range schemaDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema installation failed: %w", classifyError(err))
		}
	}

	var stored int

	err := db.QueryRowContext(ctx, `SELECT version FROM anvil_schema_version LIMIT 1`).Scan(&stored)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx,
			`INSERT INTO anvil_schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", classifyError(err))
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", classifyError(err))
	case stored > SchemaVersion:
		logger.Warn("Database schema is newer than this build",
			slog.Int("stored_version", stored),
			slog.Int("supported_version", SchemaVersion),
		)
	}

	return nil
}
