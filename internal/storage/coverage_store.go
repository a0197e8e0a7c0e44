package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// InsertCoverageHistory inserts one per-file coverage row within the ingest
// transaction.
func (t *Tx) InsertCoverageHistory(ctx context.Context, row *CoverageHistory) (int64, error) {
	missingJSON, err := json.Marshal(missingOrEmpty(row.MissingLines))
	if err != nil {
		return 0, t.store.fail("insert coverage history", fmt.Errorf("failed to marshal missing_lines: %w", err))
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO coverage_history (
			execution_id, file_path, timestamp, total_statements,
			covered_statements, coverage_percentage, missing_lines, space
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.ExecutionID,
		row.FilePath,
		row.Timestamp.UTC(),
		row.TotalStatements,
		row.CoveredStatements,
		row.CoveragePercentage,
		string(missingJSON),
		string(row.Space),
	)
	if err != nil {
		return 0, t.store.fail("insert coverage history", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, t.store.fail("insert coverage history", err)
	}

	return id, nil
}

// InsertCoverageSummary upserts the overall coverage row for an execution
// within the ingest transaction. Execution ids are unique per summary, so a
// re-ingest replaces rather than duplicates.
func (t *Tx) InsertCoverageSummary(ctx context.Context, row *CoverageSummary) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO coverage_summaries (
			execution_id, timestamp, total_coverage, files_analyzed,
			total_statements, covered_statements, space
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET
			timestamp = excluded.timestamp,
			total_coverage = excluded.total_coverage,
			files_analyzed = excluded.files_analyzed,
			total_statements = excluded.total_statements,
			covered_statements = excluded.covered_statements,
			space = excluded.space
	`,
		row.ExecutionID,
		row.Timestamp.UTC(),
		row.TotalCoverage,
		row.FilesAnalyzed,
		row.TotalStatements,
		row.CoveredStatements,
		string(row.Space),
	)
	if err != nil {
		return t.store.fail("insert coverage summary", err)
	}

	return nil
}

// DeleteCoverageHistory removes the per-file rows of an execution within the
// ingest transaction, so re-ingesting the same coverage report converges.
func (t *Tx) DeleteCoverageHistory(ctx context.Context, executionID string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM coverage_history WHERE execution_id = ?`, executionID)
	if err != nil {
		return t.store.fail("delete coverage history", err)
	}

	return nil
}

// GetCoverageHistory returns per-file coverage rows matching the filter,
// most recent first.
func (s *Store) GetCoverageHistory(ctx context.Context, filter CoverageFilter) ([]CoverageHistory, error) {
	var (
		conds []string
		args  []any
	)

	if filter.ExecutionID != "" {
		conds = append(conds, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}

	if filter.FilePath != "" {
		conds = append(conds, "file_path = ?")
		args = append(args, filter.FilePath)
	}

	if filter.Space != "" {
		conds = append(conds, "space = ?")
		args = append(args, string(filter.Space))
	}

	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `
		SELECT id, execution_id, file_path, timestamp, total_statements,
		       covered_statements, coverage_percentage, missing_lines, space
		FROM coverage_history
	`

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query coverage history", err)
	}
	defer rows.Close()

	var result []CoverageHistory

	for rows.Next() {
		var (
			row         CoverageHistory
			missingJSON string
			space       string
		)

		if err := rows.Scan(
			&row.ID, &row.ExecutionID, &row.FilePath, &row.Timestamp, &row.TotalStatements,
			&row.CoveredStatements, &row.CoveragePercentage, &missingJSON, &space,
		); err != nil {
			return nil, s.fail("scan coverage history", err)
		}

		if err := json.Unmarshal([]byte(missingJSON), &row.MissingLines); err != nil {
			return nil, s.fail("decode missing_lines", err)
		}

		row.Space = Space(space)
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate coverage history", err)
	}

	return result, nil
}

// GetCoverageSummaries returns overall coverage rows matching the filter,
// most recent first.
func (s *Store) GetCoverageSummaries(ctx context.Context, filter CoverageFilter) ([]CoverageSummary, error) {
	var (
		conds []string
		args  []any
	)

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

	query := `
		SELECT id, execution_id, timestamp, total_coverage, files_analyzed,
		       total_statements, covered_statements, space
		FROM coverage_summaries
	`

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query coverage summaries", err)
	}
	defer rows.Close()

	var result []CoverageSummary

	for rows.Next() {
		var (
			row   CoverageSummary
			space string
		)

		if err := rows.Scan(
			&row.ID, &row.ExecutionID, &row.Timestamp, &row.TotalCoverage, &row.FilesAnalyzed,
			&row.TotalStatements, &row.CoveredStatements, &space,
		); err != nil {
			return nil, s.fail("scan coverage summary", err)
		}

		row.Space = Space(space)
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate coverage summaries", err)
	}

	return result, nil
}

func missingOrEmpty(lines []int) []int {
	if lines == nil {
		return []int{}
	}

	return lines
}
