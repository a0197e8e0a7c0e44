package storage

import (
	"context"
	"database/sql"
)

// UpsertEntityStatistics replaces the rollup row for one entity within the
// ingest transaction. Statistics are derived state; the full tuple is written
// every time so the row always mirrors the latest recomputation.
func (t *Tx) UpsertEntityStatistics(ctx context.Context, stats *EntityStatistics) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO entity_statistics (
			entity_id, entity_type, total_runs, passed, failed, skipped,
			failure_rate, avg_duration, last_run, last_failure
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			total_runs = excluded.total_runs,
			passed = excluded.passed,
			failed = excluded.failed,
			skipped = excluded.skipped,
			failure_rate = excluded.failure_rate,
			avg_duration = excluded.avg_duration,
			last_run = excluded.last_run,
			last_failure = excluded.last_failure
	`,
		stats.EntityID,
		string(stats.EntityType),
		stats.TotalRuns,
		stats.Passed,
		stats.Failed,
		stats.Skipped,
		stats.FailureRate,
		stats.AvgDuration,
		nullableTime(stats.LastRun),
		nullableTime(stats.LastFailure),
	)
	if err != nil {
		return t.store.fail("upsert entity statistics", err)
	}

	return nil
}

// DeleteEntityStatistics removes the rollup row of an entity within a write
// transaction. Used after retention pruning erases an entity's entire history.
func (t *Tx) DeleteEntityStatistics(ctx context.Context, entityID string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM entity_statistics WHERE entity_id = ?`, entityID)
	if err != nil {
		return t.store.fail("delete entity statistics", err)
	}

	return nil
}

// GetEntityStatistics returns the rollup for one entity, or ErrNotFound.
func (s *Store) GetEntityStatistics(ctx context.Context, entityID string) (*EntityStatistics, error) {
	row := s.conn.DB.QueryRowContext(ctx, `
		SELECT entity_id, entity_type, total_runs, passed, failed, skipped,
		       failure_rate, avg_duration, last_run, last_failure
		FROM entity_statistics
		WHERE entity_id = ?
	`, entityID)

	stats, err := scanEntityStatistics(row)
	if err != nil {
		return nil, s.fail("get entity statistics", err)
	}

	return stats, nil
}

// ListEntityStatistics returns rollups ordered by failure rate descending,
// then total runs descending, then entity id. The ordering is total, so the
// flaky query built on top of it is reproducible.
func (s *Store) ListEntityStatistics(ctx context.Context, entityType EntityType) ([]EntityStatistics, error) {
	query := `
		SELECT entity_id, entity_type, total_runs, passed, failed, skipped,
		       failure_rate, avg_duration, last_run, last_failure
		FROM entity_statistics
	`

	var args []any

	if entityType != "" {
		query += " WHERE entity_type = ?"
		args = append(args, string(entityType))
	}

	query += " ORDER BY failure_rate DESC, total_runs DESC, entity_id ASC"

	rows, err := s.conn.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("list entity statistics", err)
	}
	defer rows.Close()

	var result []EntityStatistics

	for rows.Next() {
		stats, err := scanEntityStatistics(rows)
		if err != nil {
			return nil, s.fail("scan entity statistics", err)
		}

		result = append(result, *stats)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate entity statistics", err)
	}

	return result, nil
}

func scanEntityStatistics(scanner rowScanner) (*EntityStatistics, error) {
	var (
		stats       EntityStatistics
		entityType  string
		lastRun     sql.NullTime
		lastFailure sql.NullTime
	)

	if err := scanner.Scan(
		&stats.EntityID, &entityType, &stats.TotalRuns, &stats.Passed, &stats.Failed,
		&stats.Skipped, &stats.FailureRate, &stats.AvgDuration, &lastRun, &lastFailure,
	); err != nil {
		return nil, err
	}

	stats.EntityType = EntityType(entityType)
	stats.LastRun = lastRun.Time
	stats.LastFailure = lastFailure.Time

	return &stats, nil
}
