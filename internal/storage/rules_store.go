package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertOrUpdateExecutionRule upserts a rule by name. Created time is
// preserved on update.
func (s *Store) InsertOrUpdateExecutionRule(ctx context.Context, rule *ExecutionRule) error {
	if !rule.Criteria.Valid() {
		return fmt.Errorf("%w: unknown criteria %q", ErrConstraint, rule.Criteria)
	}

	groupsJSON, err := json.Marshal(groupsOrEmpty(rule.Groups))
	if err != nil {
		return s.fail("upsert execution rule", fmt.Errorf("failed to marshal groups: %w", err))
	}

	executorJSON, err := json.Marshal(executorOrEmpty(rule.ExecutorConfig))
	if err != nil {
		return s.fail("upsert execution rule", fmt.Errorf("failed to marshal executor config: %w", err))
	}

	now := time.Now().UTC()

	return s.write(ctx, "upsert execution rule", func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO execution_rules (
				name, enabled, criteria, window_size, threshold,
				groups, executor_config, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET
				enabled = excluded.enabled,
				criteria = excluded.criteria,
				window_size = excluded.window_size,
				threshold = excluded.threshold,
				groups = excluded.groups,
				executor_config = excluded.executor_config,
				updated_at = excluded.updated_at
		`,
			rule.Name,
			rule.Enabled,
			string(rule.Criteria),
			rule.Window,
			rule.Threshold,
			string(groupsJSON),
			string(executorJSON),
			now,
			now,
		)

		return err
	})
}

// DeleteExecutionRule removes a rule by name. Deleting an unknown rule fails
// with ErrNotFound.
func (s *Store) DeleteExecutionRule(ctx context.Context, name string) error {
	return s.write(ctx, "delete execution rule", func(q querier) error {
		result, err := q.ExecContext(ctx, `DELETE FROM execution_rules WHERE name = ?`, name)
		if err != nil {
			return err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}

		if affected == 0 {
			return fmt.Errorf("%w: rule %q", ErrNotFound, name)
		}

		return nil
	})
}

// GetExecutionRule returns one rule by name, or ErrNotFound.
func (s *Store) GetExecutionRule(ctx context.Context, name string) (*ExecutionRule, error) {
	row := s.conn.DB.QueryRowContext(ctx, `
		SELECT name, enabled, criteria, window_size, threshold,
		       groups, executor_config, created_at, updated_at
		FROM execution_rules
		WHERE name = ?
	`, name)

	rule, err := scanExecutionRule(row)
	if err != nil {
		return nil, s.fail("get execution rule", err)
	}

	return rule, nil
}

// ListExecutionRules returns all rules ordered by name, optionally only
// enabled ones.
func (s *Store) ListExecutionRules(ctx context.Context, enabledOnly bool) ([]ExecutionRule, error) {
	query := `
		SELECT name, enabled, criteria, window_size, threshold,
		       groups, executor_config, created_at, updated_at
		FROM execution_rules
	`

	if enabledOnly {
		query += " WHERE enabled = 1"
	}

	query += " ORDER BY name ASC"

	rows, err := s.conn.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, s.fail("list execution rules", err)
	}
	defer rows.Close()

	var result []ExecutionRule

	for rows.Next() {
		rule, err := scanExecutionRule(rows)
		if err != nil {
			return nil, s.fail("scan execution rule", err)
		}

		result = append(result, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate execution rules", err)
	}

	return result, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecutionRule(scanner rowScanner) (*ExecutionRule, error) {
	var (
		rule         ExecutionRule
		criteria     string
		groupsJSON   string
		executorJSON string
	)

	if err := scanner.Scan(
		&rule.Name, &rule.Enabled, &criteria, &rule.Window, &rule.Threshold,
		&groupsJSON, &executorJSON, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Criteria = Criteria(criteria)

	if err := json.Unmarshal([]byte(groupsJSON), &rule.Groups); err != nil {
		return nil, fmt.Errorf("failed to decode groups: %w", err)
	}

	if err := json.Unmarshal([]byte(executorJSON), &rule.ExecutorConfig); err != nil {
		return nil, fmt.Errorf("failed to decode executor config: %w", err)
	}

	return &rule, nil
}

func groupsOrEmpty(groups []string) []string {
	if groups == nil {
		return []string{}
	}

	return groups
}

func executorOrEmpty(cfg map[string]string) map[string]string {
	if cfg == nil {
		return map[string]string{}
	}

	return cfg
}
