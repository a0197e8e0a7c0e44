package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertLintViolation inserts one violation row within the ingest
// transaction.
func (t *Tx) InsertLintViolation(ctx context.Context, row *LintViolation) (int64, error) {
	var col sql.NullInt64
	if row.Column > 0 {
		col = sql.NullInt64{Int64: int64(row.Column), Valid: true}
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO lint_violations (
			execution_id, file_path, line, col, severity,
			code, message, validator, timestamp, space
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.ExecutionID,
		row.FilePath,
		row.Line,
		col,
		string(row.Severity),
		row.Code,
		row.Message,
		row.Validator,
		row.Timestamp.UTC(),
		string(row.Space),
	)
	if err != nil {
		return 0, t.store.fail("insert lint violation", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, t.store.fail("insert lint violation", err)
	}

	return id, nil
}

// InsertLintSummary upserts the summary for (execution_id, validator) within
// the ingest transaction. Re-ingesting the same execution replaces the
// summary, keeping it consistent with the violation rows written alongside.
func (t *Tx) InsertLintSummary(ctx context.Context, row *LintSummary) error {
	byCodeJSON, err := json.Marshal(byCodeOrEmpty(row.ByCode))
	if err != nil {
		return t.store.fail("insert lint summary", fmt.Errorf("failed to marshal by_code: %w", err))
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO lint_summaries (
			execution_id, timestamp, validator, files_scanned,
			total_violations, errors, warnings, info, by_code, space
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id, validator) DO UPDATE SET
			timestamp = excluded.timestamp,
			files_scanned = excluded.files_scanned,
			total_violations = excluded.total_violations,
			errors = excluded.errors,
			warnings = excluded.warnings,
			info = excluded.info,
			by_code = excluded.by_code,
			space = excluded.space
	`,
		row.ExecutionID,
		row.Timestamp.UTC(),
		row.Validator,
		row.FilesScanned,
		row.TotalViolations,
		row.Errors,
		row.Warnings,
		row.Info,
		string(byCodeJSON),
		string(row.Space),
	)
	if err != nil {
		return t.store.fail("insert lint summary", err)
	}

	return nil
}

// DeleteLintViolations removes the violation rows of (execution_id,
// validator) within the ingest transaction. Called before re-ingesting the
// same execution so the by_code invariant holds after convergence.
func (t *Tx) DeleteLintViolations(ctx context.Context, executionID, validator string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM lint_violations WHERE execution_id = ? AND validator = ?
	`, executionID, validator)
	if err != nil {
		return t.store.fail("delete lint violations", err)
	}

	return nil
}

// GetLintViolations returns violation rows matching the filter, most recent
// first.
func (s *Store) GetLintViolations(ctx context.Context, filter LintFilter) ([]LintViolation, error) {
	conds, args := lintFilterConds(filter)

	query := `
		SELECT id, execution_id, file_path, line, col, severity,
		       code, message, validator, timestamp, space
		FROM lint_violations
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
		return nil, s.fail("query lint violations", err)
	}
	defer rows.Close()

	var result []LintViolation

	for rows.Next() {
		var (
			row      LintViolation
			col      sql.NullInt64
			severity string
			space    string
		)

		if err := rows.Scan(
			&row.ID, &row.ExecutionID, &row.FilePath, &row.Line, &col,
			&severity, &row.Code, &row.Message, &row.Validator, &row.Timestamp, &space,
		); err != nil {
			return nil, s.fail("scan lint violation", err)
		}

		if col.Valid {
			row.Column = int(col.Int64)
		}

		row.Severity = Severity(severity)
		row.Space = Space(space)
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate lint violations", err)
	}

	return result, nil
}

// GetLintSummaries returns summary rows matching the filter, most recent
// first.
func (s *Store) GetLintSummaries(ctx context.Context, filter LintFilter) ([]LintSummary, error) {
	var (
		conds []string
		args  []any
	)

	if filter.ExecutionID != "" {
		conds = append(conds, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}

	if filter.Validator != "" {
		conds = append(conds, "validator = ?")
		args = append(args, filter.Validator)
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
		SELECT id, execution_id, timestamp, validator, files_scanned,
		       total_violations, errors, warnings, info, by_code, space
		FROM lint_summaries
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
		return nil, s.fail("query lint summaries", err)
	}
	defer rows.Close()

	var result []LintSummary

	for rows.Next() {
		var (
			row        LintSummary
			byCodeJSON string
			space      string
		)

		if err := rows.Scan(
			&row.ID, &row.ExecutionID, &row.Timestamp, &row.Validator, &row.FilesScanned,
			&row.TotalViolations, &row.Errors, &row.Warnings, &row.Info, &byCodeJSON, &space,
		); err != nil {
			return nil, s.fail("scan lint summary", err)
		}

		if err := json.Unmarshal([]byte(byCodeJSON), &row.ByCode); err != nil {
			return nil, s.fail("decode by_code", err)
		}

		row.Space = Space(space)
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate lint summaries", err)
	}

	return result, nil
}

// UpsertCodeQualityMetrics recomputes and upserts the per-(file, validator)
// quality rollup from the stored violation and summary rows. Called within
// the ingest transaction after a lint ingest touches the file.
func (t *Tx) UpsertCodeQualityMetrics(ctx context.Context, filePath, validator string, now time.Time) error {
	var (
		totalViolations int
		mostCommonCode  sql.NullString
		lastViolation   sql.NullTime
	)

	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(timestamp) FROM lint_violations
		WHERE file_path = ? AND validator = ?
	`, filePath, validator).Scan(&totalViolations, &lastViolation)
	if err != nil {
		return t.store.fail("aggregate quality metrics", err)
	}

	err = t.tx.QueryRowContext(ctx, `
		SELECT code FROM lint_violations
		WHERE file_path = ? AND validator = ?
		GROUP BY code
		ORDER BY COUNT(*) DESC, code ASC
		LIMIT 1
	`, filePath, validator).Scan(&mostCommonCode)
	if err != nil && !isNoRows(err) {
		return t.store.fail("aggregate quality metrics", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO code_quality_metrics (
			file_path, validator, total_scans, total_violations,
			avg_violations_per_scan, most_common_code, last_scan, last_violation
		) VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT (file_path, validator) DO UPDATE SET
			total_scans = code_quality_metrics.total_scans + 1,
			total_violations = excluded.total_violations,
			avg_violations_per_scan =
				CAST(excluded.total_violations AS REAL) / (code_quality_metrics.total_scans + 1),
			most_common_code = excluded.most_common_code,
			last_scan = excluded.last_scan,
			last_violation = excluded.last_violation
	`,
		filePath,
		validator,
		totalViolations,
		float64(totalViolations),
		mostCommonCode.String,
		now.UTC(),
		lastViolation,
	)
	if err != nil {
		return t.store.fail("upsert quality metrics", err)
	}

	return nil
}

// GetCodeQualityMetrics returns the quality rollup for a file and validator.
func (s *Store) GetCodeQualityMetrics(ctx context.Context, filePath, validator string) (*CodeQualityMetrics, error) {
	var (
		row           CodeQualityMetrics
		lastScan      sql.NullTime
		lastViolation sql.NullTime
	)

	err := s.conn.DB.QueryRowContext(ctx, `
		SELECT file_path, validator, total_scans, total_violations,
		       avg_violations_per_scan, most_common_code, last_scan, last_violation
		FROM code_quality_metrics
		WHERE file_path = ? AND validator = ?
	`, filePath, validator).Scan(
		&row.FilePath, &row.Validator, &row.TotalScans, &row.TotalViolations,
		&row.AvgViolationsPerScan, &row.MostCommonCode, &lastScan, &lastViolation,
	)
	if err != nil {
		return nil, s.fail("get quality metrics", err)
	}

	row.LastScan = lastScan.Time
	row.LastViolation = lastViolation.Time

	return &row, nil
}

func lintFilterConds(filter LintFilter) ([]string, []any) {
	var (
		conds []string
		args  []any
	)

	if filter.ExecutionID != "" {
		conds = append(conds, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}

	if filter.Validator != "" {
		conds = append(conds, "validator = ?")
		args = append(args, filter.Validator)
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

	return conds, args
}

func byCodeOrEmpty(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}

	return m
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
