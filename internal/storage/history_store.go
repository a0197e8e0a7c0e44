package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InsertExecutionHistory inserts one outcome row within the ingest
// transaction. Fails with ErrConstraint on a duplicate
// (entity_id, execution_id) pair, leaving the first row intact.
func (t *Tx) InsertExecutionHistory(ctx context.Context, row *ExecutionHistory) (int64, error) {
	id, err := insertExecutionHistory(ctx, t.tx, row)
	if err != nil {
		return 0, t.store.fail("insert execution history", err)
	}

	return id, nil
}

// InsertExecutionHistoryIgnoreDuplicate inserts one outcome row, treating a
// duplicate (entity_id, execution_id) as an idempotent no-op. Returns false
// when the row already existed. Used by CI re-ingest, which must converge.
func (t *Tx) InsertExecutionHistoryIgnoreDuplicate(ctx context.Context, row *ExecutionHistory) (bool, error) {
	_, err := insertExecutionHistory(ctx, t.tx, row)
	if err != nil {
		if isConstraintErr(err) {
			return false, nil
		}

		return false, t.store.fail("insert execution history", err)
	}

	return true, nil
}

func insertExecutionHistory(ctx context.Context, q querier, row *ExecutionHistory) (int64, error) {
	metadataJSON, err := marshalMetadata(row.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO execution_history (
			entity_id, entity_type, execution_id, timestamp,
			status, duration_seconds, space, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.EntityID,
		string(row.EntityType),
		row.ExecutionID,
		row.Timestamp.UTC(),
		string(row.Status),
		row.DurationSeconds,
		string(row.Space),
		metadataJSON,
	)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// GetExecutionHistory returns rows matching the filter, most recent first.
// Ordering is (timestamp DESC, execution_id DESC) so that rows sharing a
// timestamp still have a stable, commit-consistent order.
func (s *Store) GetExecutionHistory(ctx context.Context, filter HistoryFilter) ([]ExecutionHistory, error) {
	var (
		conds []string
		args  []any
	)

	if filter.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, filter.EntityID)
	}

	if filter.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, string(filter.EntityType))
	}

	if filter.ExecutionID != "" {
		conds = append(conds, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}

	if filter.Space != "" {
		conds = append(conds, "space = ?")
		args = append(args, string(filter.Space))
	}

	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}

	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until.UTC())
	}

	query := `
		SELECT id, entity_id, entity_type, execution_id, timestamp,
		       status, duration_seconds, space, metadata
		FROM execution_history
	`

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY timestamp DESC, execution_id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query execution history", err)
	}
	defer rows.Close()

	result, err := scanExecutionHistoryRows(rows)
	if err != nil {
		return nil, s.fail("scan execution history", err)
	}

	return result, nil
}

func scanExecutionHistoryRows(rows *sql.Rows) ([]ExecutionHistory, error) {
	var result []ExecutionHistory

	for rows.Next() {
		var (
			row          ExecutionHistory
			entityType   string
			status       string
			space        string
			metadataJSON sql.NullString
		)

		if err := rows.Scan(
			&row.ID, &row.EntityID, &entityType, &row.ExecutionID, &row.Timestamp,
			&status, &row.DurationSeconds, &space, &metadataJSON,
		); err != nil {
			return nil, err
		}

		row.EntityType = EntityType(entityType)
		row.Status = Status(status)
		row.Space = Space(space)

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &row.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetEntityHistory reads the most recent rows of one entity through the open
// transaction, so an ingest sees its own uncommitted writes when recomputing
// statistics. Limit 0 means all rows.
func (t *Tx) GetEntityHistory(ctx context.Context, entityID string, limit int) ([]ExecutionHistory, error) {
	query := `
		SELECT id, entity_id, entity_type, execution_id, timestamp,
		       status, duration_seconds, space, metadata
		FROM execution_history
		WHERE entity_id = ?
		ORDER BY timestamp DESC, execution_id DESC
	`

	args := []any{entityID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, t.store.fail("query entity history", err)
	}
	defer rows.Close()

	result, err := scanExecutionHistoryRows(rows)
	if err != nil {
		return nil, t.store.fail("scan entity history", err)
	}

	return result, nil
}

// ListEntityIDs returns the distinct entity ids of the given type known to
// the history, ordered alphabetically. Used by the rule engine's "all"
// criteria.
func (s *Store) ListEntityIDs(ctx context.Context, entityType EntityType) ([]string, error) {
	rows, err := s.conn.DB.QueryContext(ctx, `
		SELECT DISTINCT entity_id FROM execution_history
		WHERE entity_type = ?
		ORDER BY entity_id ASC
	`, string(entityType))
	if err != nil {
		return nil, s.fail("list entity ids", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("scan entity id", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate entity ids", err)
	}

	return ids, nil
}

// PruneExecutionHistoryOlderThan deletes history rows older than the
// retention window and returns the number deleted together with the entity
// ids whose statistics must be recomputed. This is the only sanctioned
// deletion besides rule removal.
func (s *Store) PruneExecutionHistoryOlderThan(ctx context.Context, days int) (int64, []string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var (
		deleted  int64
		affected []string
	)

	err := s.write(ctx, "prune execution history", func(q querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT DISTINCT entity_id FROM execution_history WHERE timestamp < ?
		`, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}

			affected = append(affected, id)
		}

		if err := rows.Err(); err != nil {
			return err
		}

		result, err := q.ExecContext(ctx,
			`DELETE FROM execution_history WHERE timestamp < ?`, cutoff)
		if err != nil {
			return err
		}

		deleted, err = result.RowsAffected()

		return err
	})
	if err != nil {
		return 0, nil, err
	}

	return deleted, affected, nil
}

// marshalMetadata marshals a map to TEXT, returning SQL NULL for empty maps.
func marshalMetadata(data map[string]string) (sql.NullString, error) {
	if len(data) == 0 {
		return sql.NullString{}, nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, err
	}

	return sql.NullString{String: string(jsonBytes), Valid: true}, nil
}
