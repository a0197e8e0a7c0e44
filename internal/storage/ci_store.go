package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// UpsertCIWorkflowRun inserts or refreshes a workflow run keyed by its remote
// run id, within the ingest transaction. CI data arrives repeatedly from
// polling, so the upsert must converge to the latest snapshot.
func (t *Tx) UpsertCIWorkflowRun(ctx context.Context, run *CIWorkflowRun) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ci_workflow_runs (
			remote_run_id, workflow_name, branch, commit_sha, status,
			conclusion, started_at, duration_seconds, run_number
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (remote_run_id) DO UPDATE SET
			workflow_name = excluded.workflow_name,
			branch = excluded.branch,
			commit_sha = excluded.commit_sha,
			status = excluded.status,
			conclusion = excluded.conclusion,
			started_at = excluded.started_at,
			duration_seconds = excluded.duration_seconds,
			run_number = excluded.run_number
	`,
		run.RemoteRunID,
		run.WorkflowName,
		run.Branch,
		run.CommitSHA,
		run.Status,
		run.Conclusion,
		nullableTime(run.StartedAt),
		run.DurationSeconds,
		run.RunNumber,
	)
	if err != nil {
		return t.store.fail("upsert ci workflow run", err)
	}

	return nil
}

// UpsertCIWorkflowJob inserts or refreshes a job keyed by its remote job id,
// within the ingest transaction. LogContent and TestResultsJSON are only
// overwritten when the incoming snapshot carries them, so metadata refreshes
// never erase a log fetched earlier.
func (t *Tx) UpsertCIWorkflowJob(ctx context.Context, job *CIWorkflowJob) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ci_workflow_jobs (
			remote_job_id, remote_run_id, job_name, status, conclusion,
			started_at, completed_at, runner_os, log_content, test_results_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (remote_job_id) DO UPDATE SET
			remote_run_id = excluded.remote_run_id,
			job_name = excluded.job_name,
			status = excluded.status,
			conclusion = excluded.conclusion,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			runner_os = excluded.runner_os,
			log_content = COALESCE(excluded.log_content, ci_workflow_jobs.log_content),
			test_results_json = COALESCE(excluded.test_results_json, ci_workflow_jobs.test_results_json)
	`,
		job.RemoteJobID,
		job.RemoteRunID,
		job.JobName,
		job.Status,
		job.Conclusion,
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		job.RunnerOS,
		nullableText(job.LogContent),
		nullableText(job.TestResultsJSON),
	)
	if err != nil {
		return t.store.fail("upsert ci workflow job", err)
	}

	return nil
}

// SetCIJobLog stores the fetched log text for a job. Fails with ErrNotFound
// when the job is unknown.
func (s *Store) SetCIJobLog(ctx context.Context, remoteJobID int64, log string) error {
	return s.write(ctx, "set ci job log", func(q querier) error {
		result, err := q.ExecContext(ctx, `
			UPDATE ci_workflow_jobs SET log_content = ? WHERE remote_job_id = ?
		`, log, remoteJobID)
		if err != nil {
			return err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}

		if affected == 0 {
			return ErrNotFound
		}

		return nil
	})
}

// GetCIWorkflowRuns returns runs matching the filter, most recent first by
// start time, with offset pagination.
func (s *Store) GetCIWorkflowRuns(ctx context.Context, filter CIRunFilter) ([]CIWorkflowRun, error) {
	var (
		conds []string
		args  []any
	)

	if filter.Workflow != "" {
		conds = append(conds, "workflow_name = ?")
		args = append(args, filter.Workflow)
	}

	if filter.Branch != "" {
		conds = append(conds, "branch = ?")
		args = append(args, filter.Branch)
	}

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	query := `
		SELECT remote_run_id, workflow_name, branch, commit_sha, status,
		       conclusion, started_at, duration_seconds, run_number
		FROM ci_workflow_runs
	`

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY started_at DESC, remote_run_id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.conn.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query ci workflow runs", err)
	}
	defer rows.Close()

	var result []CIWorkflowRun

	for rows.Next() {
		var (
			run       CIWorkflowRun
			startedAt sql.NullTime
		)

		if err := rows.Scan(
			&run.RemoteRunID, &run.WorkflowName, &run.Branch, &run.CommitSHA, &run.Status,
			&run.Conclusion, &startedAt, &run.DurationSeconds, &run.RunNumber,
		); err != nil {
			return nil, s.fail("scan ci workflow run", err)
		}

		run.StartedAt = startedAt.Time
		result = append(result, run)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate ci workflow runs", err)
	}

	return result, nil
}

// GetCIWorkflowRun returns one run by its remote id, or ErrNotFound.
func (s *Store) GetCIWorkflowRun(ctx context.Context, remoteRunID int64) (*CIWorkflowRun, error) {
	var (
		run       CIWorkflowRun
		startedAt sql.NullTime
	)

	err := s.conn.DB.QueryRowContext(ctx, `
		SELECT remote_run_id, workflow_name, branch, commit_sha, status,
		       conclusion, started_at, duration_seconds, run_number
		FROM ci_workflow_runs
		WHERE remote_run_id = ?
	`, remoteRunID).Scan(
		&run.RemoteRunID, &run.WorkflowName, &run.Branch, &run.CommitSHA, &run.Status,
		&run.Conclusion, &startedAt, &run.DurationSeconds, &run.RunNumber,
	)
	if err != nil {
		return nil, s.fail("get ci workflow run", err)
	}

	run.StartedAt = startedAt.Time

	return &run, nil
}

// GetCIWorkflowJobs returns the jobs of a run ordered by start time. Log
// content is deliberately excluded; fetch it per job with GetCIJobLog.
func (s *Store) GetCIWorkflowJobs(ctx context.Context, remoteRunID int64) ([]CIWorkflowJob, error) {
	rows, err := s.conn.DB.QueryContext(ctx, `
		SELECT remote_job_id, remote_run_id, job_name, status, conclusion,
		       started_at, completed_at, runner_os
		FROM ci_workflow_jobs
		WHERE remote_run_id = ?
		ORDER BY started_at ASC, remote_job_id ASC
	`, remoteRunID)
	if err != nil {
		return nil, s.fail("query ci workflow jobs", err)
	}
	defer rows.Close()

	var result []CIWorkflowJob

	for rows.Next() {
		var (
			job         CIWorkflowJob
			startedAt   sql.NullTime
			completedAt sql.NullTime
		)

		if err := rows.Scan(
			&job.RemoteJobID, &job.RemoteRunID, &job.JobName, &job.Status, &job.Conclusion,
			&startedAt, &completedAt, &job.RunnerOS,
		); err != nil {
			return nil, s.fail("scan ci workflow job", err)
		}

		job.StartedAt = startedAt.Time
		job.CompletedAt = completedAt.Time
		result = append(result, job)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail("iterate ci workflow jobs", err)
	}

	return result, nil
}

// GetCIJobLog returns the stored log text of a job. Fails with ErrNotFound
// both when the job is unknown and when no log has been fetched for it yet.
func (s *Store) GetCIJobLog(ctx context.Context, remoteJobID int64) (string, error) {
	var log sql.NullString

	err := s.conn.DB.QueryRowContext(ctx, `
		SELECT log_content FROM ci_workflow_jobs WHERE remote_job_id = ?
	`, remoteJobID).Scan(&log)
	if err != nil {
		return "", s.fail("get ci job log", err)
	}

	if !log.Valid {
		return "", ErrNotFound
	}

	return log.String, nil
}

// CountCIWorkflowRuns returns the total number of stored runs. Used to verify
// that repeated syncs converge instead of duplicating.
func (s *Store) CountCIWorkflowRuns(ctx context.Context) (int, error) {
	var n int

	err := s.conn.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ci_workflow_runs`).Scan(&n)
	if err != nil {
		return 0, s.fail("count ci workflow runs", err)
	}

	return n, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
