// Package ingest turns parsed tool output into consistent store writes. One
// ingest owns exactly one write transaction; either every row of a batch
// becomes visible or none does.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/argos-io/argos/internal/config"
	"github.com/argos-io/argos/internal/parser"
	"github.com/argos-io/argos/internal/stats"
	"github.com/argos-io/argos/internal/storage"
)

// DefaultIngestTimeout is the wall-clock ceiling for one ingest transaction.
// Exceeding it surfaces as a Busy error.
const DefaultIngestTimeout = 10 * time.Minute

type (
	// Pipeline coordinates parser output, the store, and the statistics
	// recompute that follows every ingest.
	Pipeline struct {
		store   *storage.Store
		calc    *stats.Calculator
		logger  *slog.Logger
		timeout time.Duration
	}

	// Context carries the provenance shared by every row of one ingest.
	Context struct {
		ExecutionID string
		Space       storage.Space
		Timestamp   time.Time
		Metadata    map[string]string
	}

	// Summary reports what one ingest wrote.
	Summary struct {
		ExecutionID string `json:"execution_id"`
		Ran         int    `json:"ran"`
		Passed      int    `json:"passed"`
		Failed      int    `json:"failed"`
		Skipped     int    `json:"skipped"`
		Errors      int    `json:"errors"`
	}
)

// ErrInvalidContext indicates an ingest context missing its execution id or
// carrying an unknown space.
var ErrInvalidContext = errors.New("invalid ingest context")

// NewPipeline returns a pipeline writing to the given store.
func NewPipeline(store *storage.Store, calc *stats.Calculator) *Pipeline {
	return &Pipeline{
		store: store,
		calc:  calc,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("ARGOS_LOG_LEVEL", slog.LevelInfo),
		})),
		timeout: DefaultIngestTimeout,
	}
}

// IngestTestReport writes one execution's test outcomes, then recomputes the
// statistics of every touched entity in the same transaction.
func (p *Pipeline) IngestTestReport(ctx context.Context, results []parser.TestResult, ic Context) (*Summary, error) {
	if err := ic.validate(); err != nil {
		return nil, err
	}

	summary := &Summary{ExecutionID: ic.ExecutionID}

	err := p.transact(ctx, "test report", func(ctx context.Context, tx *storage.Tx) error {
		for _, result := range results {
			row := &storage.ExecutionHistory{
				EntityID:        result.NodeID,
				EntityType:      storage.EntityTest,
				ExecutionID:     ic.ExecutionID,
				Timestamp:       ic.Timestamp,
				Status:          result.Outcome,
				DurationSeconds: result.DurationSeconds,
				Space:           ic.Space,
				Metadata:        ic.Metadata,
			}

			inserted, err := p.insertOutcome(ctx, tx, row, ic.Space)
			if err != nil {
				return err
			}

			if !inserted {
				continue
			}

			summary.count(result.Outcome)

			if err := p.calc.RecomputeEntity(ctx, tx, result.NodeID, storage.EntityTest); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Ingested test report",
		slog.String("execution_id", ic.ExecutionID),
		slog.String("space", string(ic.Space)),
		slog.Int("ran", summary.Ran),
		slog.Int("failed", summary.Failed),
	)

	return summary, nil
}

// IngestLint writes one validator's violations and summary, keeps the
// per-file quality rollups current, and records a lint-file outcome per
// affected file.
func (p *Pipeline) IngestLint(ctx context.Context, report *parser.LintReport, ic Context) (*Summary, error) {
	if err := ic.validate(); err != nil {
		return nil, err
	}

	summary := &Summary{ExecutionID: ic.ExecutionID}

	err := p.transact(ctx, "lint report", func(ctx context.Context, tx *storage.Tx) error {
		// Re-ingesting the same execution replaces its rows so by_code stays
		// consistent with the stored violations.
		if err := tx.DeleteLintViolations(ctx, ic.ExecutionID, report.Validator); err != nil {
			return err
		}

		files := map[string]bool{}

		for _, v := range report.Violations {
			_, err := tx.InsertLintViolation(ctx, &storage.LintViolation{
				ExecutionID: ic.ExecutionID,
				FilePath:    v.FilePath,
				Line:        v.Line,
				Column:      v.Column,
				Severity:    v.Severity,
				Code:        v.Code,
				Message:     v.Message,
				Validator:   report.Validator,
				Timestamp:   ic.Timestamp,
				Space:       ic.Space,
			})
			if err != nil {
				return err
			}

			if v.Severity == storage.SeverityError {
				files[v.FilePath] = true
			} else if _, seen := files[v.FilePath]; !seen {
				files[v.FilePath] = false
			}
		}

		if err := tx.InsertLintSummary(ctx, &storage.LintSummary{
			ExecutionID:     ic.ExecutionID,
			Timestamp:       ic.Timestamp,
			Validator:       report.Validator,
			FilesScanned:    report.FilesScanned,
			TotalViolations: report.TotalViolations,
			Errors:          report.Errors,
			Warnings:        report.Warnings,
			Info:            report.Info,
			ByCode:          report.ByCode,
			Space:           ic.Space,
		}); err != nil {
			return err
		}

		for filePath, hasErrors := range files {
			if err := tx.UpsertCodeQualityMetrics(ctx, filePath, report.Validator, ic.Timestamp); err != nil {
				return err
			}

			status := storage.StatusPassed
			if hasErrors {
				status = storage.StatusFailed
			}

			inserted, err := p.insertOutcome(ctx, tx, &storage.ExecutionHistory{
				EntityID:    filePath,
				EntityType:  storage.EntityLintFile,
				ExecutionID: ic.ExecutionID,
				Timestamp:   ic.Timestamp,
				Status:      status,
				Space:       ic.Space,
			}, ic.Space)
			if err != nil {
				return err
			}

			if inserted {
				summary.count(status)

				if err := p.calc.RecomputeEntity(ctx, tx, filePath, storage.EntityLintFile); err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Ingested lint report",
		slog.String("execution_id", ic.ExecutionID),
		slog.String("validator", report.Validator),
		slog.Int("violations", report.TotalViolations),
	)

	return summary, nil
}

// IngestCoverage writes one execution's per-file coverage and its overall
// summary.
func (p *Pipeline) IngestCoverage(ctx context.Context, data *parser.CoverageData, ic Context) (*Summary, error) {
	if err := ic.validate(); err != nil {
		return nil, err
	}

	summary := &Summary{ExecutionID: ic.ExecutionID, Ran: data.FilesAnalyzed}

	err := p.transact(ctx, "coverage report", func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.DeleteCoverageHistory(ctx, ic.ExecutionID); err != nil {
			return err
		}

		for _, file := range data.PerFile {
			_, err := tx.InsertCoverageHistory(ctx, &storage.CoverageHistory{
				ExecutionID:        ic.ExecutionID,
				FilePath:           file.FilePath,
				Timestamp:          ic.Timestamp,
				TotalStatements:    file.TotalStatements,
				CoveredStatements:  file.CoveredStatements,
				CoveragePercentage: file.CoveragePercentage,
				MissingLines:       file.MissingLines,
				Space:              ic.Space,
			})
			if err != nil {
				return err
			}
		}

		return tx.InsertCoverageSummary(ctx, &storage.CoverageSummary{
			ExecutionID:       ic.ExecutionID,
			Timestamp:         ic.Timestamp,
			TotalCoverage:     data.TotalCoverage,
			FilesAnalyzed:     data.FilesAnalyzed,
			TotalStatements:   data.TotalStatements,
			CoveredStatements: data.CoveredStatements,
			Space:             ic.Space,
		})
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Ingested coverage report",
		slog.String("execution_id", ic.ExecutionID),
		slog.Int("files", data.FilesAnalyzed),
		slog.Float64("total_coverage", data.TotalCoverage),
	)

	return summary, nil
}

// IngestCIRun upserts a workflow run with its jobs and records a ci-job
// outcome per completed job. Re-running against the same remote run
// converges.
func (p *Pipeline) IngestCIRun(ctx context.Context, run *storage.CIWorkflowRun, jobs []storage.CIWorkflowJob) (*Summary, error) {
	executionID := CIRunExecutionID(run.RemoteRunID)
	summary := &Summary{ExecutionID: executionID}

	err := p.transact(ctx, "ci run", func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.UpsertCIWorkflowRun(ctx, run); err != nil {
			return err
		}

		for i := range jobs {
			job := &jobs[i]

			if err := tx.UpsertCIWorkflowJob(ctx, job); err != nil {
				return err
			}

			status, terminal := jobStatus(job)
			if !terminal {
				continue
			}

			inserted, err := tx.InsertExecutionHistoryIgnoreDuplicate(ctx, &storage.ExecutionHistory{
				EntityID:        job.JobName,
				EntityType:      storage.EntityCIJob,
				ExecutionID:     executionID,
				Timestamp:       jobTimestamp(job, run),
				Status:          status,
				DurationSeconds: job.CompletedAt.Sub(job.StartedAt).Seconds(),
				Space:           storage.SpaceCI,
				Metadata: map[string]string{
					"runner_os": job.RunnerOS,
					"branch":    run.Branch,
				},
			})
			if err != nil {
				return err
			}

			if inserted {
				summary.count(status)

				if err := p.calc.RecomputeEntity(ctx, tx, job.JobName, storage.EntityCIJob); err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Ingested ci run",
		slog.Int64("remote_run_id", run.RemoteRunID),
		slog.Int("jobs", len(jobs)),
	)

	return summary, nil
}

// IngestCITestResults writes per-test outcomes extracted from one job's log,
// keyed by the job-level execution id so repeated parses of the same log
// converge.
func (p *Pipeline) IngestCITestResults(ctx context.Context, remoteRunID, remoteJobID int64, results []parser.TestResult, timestamp time.Time) (*Summary, error) {
	ic := Context{
		ExecutionID: CIJobExecutionID(remoteRunID, remoteJobID),
		Space:       storage.SpaceCI,
		Timestamp:   timestamp,
	}

	return p.IngestTestReport(ctx, results, ic)
}

// transact runs fn in one write transaction under the ingest deadline. A
// deadline overrun maps to Busy; every other error rolls back and passes
// through unchanged.
func (p *Pipeline) transact(ctx context.Context, kind string, fn func(ctx context.Context, tx *storage.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // Safe after commit
	}()

	if err := fn(ctx, tx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ingest %s: %w", kind, storage.ErrBusy)
		}

		return err
	}

	return tx.Commit()
}

// insertOutcome applies the per-space dedupe policy: CI ingests converge on
// re-ingest, local ingests surface the conflict.
func (p *Pipeline) insertOutcome(ctx context.Context, tx *storage.Tx, row *storage.ExecutionHistory, space storage.Space) (bool, error) {
	if space == storage.SpaceCI {
		return tx.InsertExecutionHistoryIgnoreDuplicate(ctx, row)
	}

	if _, err := tx.InsertExecutionHistory(ctx, row); err != nil {
		return false, err
	}

	return true, nil
}

func (c Context) validate() error {
	if c.ExecutionID == "" {
		return fmt.Errorf("%w: execution id is empty", ErrInvalidContext)
	}

	if !c.Space.Valid() {
		return fmt.Errorf("%w: unknown space %q", ErrInvalidContext, c.Space)
	}

	return nil
}

func (s *Summary) count(status storage.Status) {
	s.Ran++

	switch status {
	case storage.StatusPassed:
		s.Passed++
	case storage.StatusFailed:
		s.Failed++
	case storage.StatusSkipped:
		s.Skipped++
	case storage.StatusError:
		s.Errors++
	}
}

func jobStatus(job *storage.CIWorkflowJob) (storage.Status, bool) {
	switch job.Conclusion {
	case "success":
		return storage.StatusPassed, true
	case "failure":
		return storage.StatusFailed, true
	case "skipped", "cancelled":
		return storage.StatusSkipped, true
	case "":
		return "", false
	default:
		return storage.StatusError, true
	}
}

func jobTimestamp(job *storage.CIWorkflowJob, run *storage.CIWorkflowRun) time.Time {
	if !job.StartedAt.IsZero() {
		return job.StartedAt
	}

	return run.StartedAt
}
