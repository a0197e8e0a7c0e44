// Package exec drives rule-selected test executions end to end: entity
// selection, the runner subprocess, ingestion, and progress streaming.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/argos-io/argos/internal/config"
	"github.com/argos-io/argos/internal/ingest"
	"github.com/argos-io/argos/internal/parser"
	"github.com/argos-io/argos/internal/rules"
	"github.com/argos-io/argos/internal/runner"
	"github.com/argos-io/argos/internal/storage"
)

// Stage is one state of a rule-driven execution.
type Stage string

// Execution states. Terminal stages are Done, Cancelled and Failed.
const (
	StagePending     Stage = "PENDING"
	StageSelecting   Stage = "SELECTING"
	StageExecuting   Stage = "EXECUTING"
	StageIngesting   Stage = "INGESTING"
	StageSummarizing Stage = "SUMMARIZING"
	StageDone        Stage = "DONE"
	StageCancelled   Stage = "CANCELLED"
	StageFailed      Stage = "FAILED"
)

// Terminal reports whether the stage ends an execution.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageCancelled || s == StageFailed
}

// Coordinator errors.
var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionFinished = errors.New("execution already finished")
	ErrExecutionExists   = errors.New("execution id already in use")
)

type (
	// TestRunner is the subprocess surface the coordinator drives.
	TestRunner interface {
		Run(ctx context.Context, entities []string, opts runner.Options) (*runner.Result, error)
	}

	// Execution is one in-flight or finished rule-driven execution.
	Execution struct {
		ID    string
		Rule  string
		start time.Time

		cancel    context.CancelFunc
		broadcast *broadcaster

		mu    sync.Mutex
		stage Stage
	}

	// Coordinator owns the bounded runner pool and the registry of
	// executions.
	Coordinator struct {
		store    *storage.Store
		engine   *rules.Engine
		pipeline *ingest.Pipeline
		runner   TestRunner
		logger   *slog.Logger

		slots chan struct{}

		mu         sync.Mutex
		executions map[string]*Execution
	}
)

// NewCoordinator returns a coordinator with a runner pool sized to the CPU
// count.
func NewCoordinator(store *storage.Store, engine *rules.Engine, pipeline *ingest.Pipeline, testRunner TestRunner) *Coordinator {
	return &Coordinator{
		store:    store,
		engine:   engine,
		pipeline: pipeline,
		runner:   testRunner,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("ARGOS_LOG_LEVEL", slog.LevelInfo),
		})),
		slots:      make(chan struct{}, runtime.NumCPU()),
		executions: map[string]*Execution{},
	}
}

// Start dispatches a rule-driven execution and returns immediately. The
// execution id identifies the run for Subscribe and Cancel. Fails with
// storage.ErrNotFound when the rule does not exist.
func (c *Coordinator) Start(ctx context.Context, ruleName string, opts rules.Options) (*Execution, error) {
	return c.StartWithID(ctx, "", ruleName, opts)
}

// StartWithID is Start with a caller-chosen execution id, for runs an
// external system needs to correlate. An empty id gets the local timestamp
// form.
func (c *Coordinator) StartWithID(ctx context.Context, executionID, ruleName string, opts rules.Options) (*Execution, error) {
	rule, err := c.store.GetExecutionRule(ctx, ruleName)
	if err != nil {
		return nil, err
	}

	if executionID == "" {
		executionID = ingest.LocalExecutionID(time.Now())
	}

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	execution := &Execution{
		ID:        executionID,
		Rule:      rule.Name,
		start:     time.Now().UTC(),
		cancel:    cancel,
		broadcast: newBroadcaster(),
		stage:     StagePending,
	}

	c.mu.Lock()
	if _, exists := c.executions[execution.ID]; exists {
		c.mu.Unlock()
		cancel()

		return nil, fmt.Errorf("%w: %s", ErrExecutionExists, execution.ID)
	}

	c.executions[execution.ID] = execution
	c.mu.Unlock()

	go c.run(execCtx, execution, rule, opts)

	return execution, nil
}

// Cancel requests termination of a running execution. Accepted while the
// runner is alive or the ingest is in flight; a finished execution fails
// with ErrExecutionFinished.
func (c *Coordinator) Cancel(executionID string) error {
	execution, err := c.get(executionID)
	if err != nil {
		return err
	}

	if execution.Stage().Terminal() {
		return fmt.Errorf("%w: %s", ErrExecutionFinished, executionID)
	}

	execution.cancel()

	return nil
}

// Subscribe attaches to an execution's progress stream.
func (c *Coordinator) Subscribe(executionID string) (<-chan Progress, func(), error) {
	execution, err := c.get(executionID)
	if err != nil {
		return nil, nil, err
	}

	ch, cancel := execution.broadcast.subscribe()

	return ch, cancel, nil
}

// Stage returns the execution's current state.
func (e *Execution) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stage
}

func (c *Coordinator) get(executionID string) (*Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	execution, ok := c.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	return execution, nil
}

// run walks the execution through its states. Any stage error is terminal;
// cancellation wins over errors it caused.
func (c *Coordinator) run(ctx context.Context, execution *Execution, rule *storage.ExecutionRule, opts rules.Options) {
	defer execution.cancel()

	c.transition(execution, StageSelecting, 10, ProgressStats{})

	selection, err := c.engine.Select(ctx, rule, opts)
	if err != nil {
		c.fail(ctx, execution, err)

		return
	}

	if len(selection.EntityIDs) == 0 {
		c.finish(execution, StageDone, ProgressStats{})

		return
	}

	// Wait for a runner slot; concurrent executions beyond the pool queue
	// here.
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		c.finish(execution, StageCancelled, ProgressStats{})

		return
	}
	defer func() { <-c.slots }()

	c.transition(execution, StageExecuting, 30, ProgressStats{})

	result, err := c.runner.Run(ctx, selection.EntityIDs, runner.Options{
		Markers:  selection.Markers,
		Patterns: selection.Patterns,
		Sink:     &progressSink{execution: execution, broadcast: execution.broadcast},
	})
	if err != nil {
		c.fail(ctx, execution, err)

		return
	}

	c.transition(execution, StageIngesting, 70, ProgressStats{})

	report, err := os.ReadFile(result.ReportPath)
	if err != nil {
		c.fail(ctx, execution, fmt.Errorf("failed to read runner report: %w", err))

		return
	}

	results, err := parser.ParseTestReport(report)
	if err != nil {
		c.fail(ctx, execution, err)

		return
	}

	summary, err := c.pipeline.IngestTestReport(ctx, results, ingest.Context{
		ExecutionID: execution.ID,
		Space:       storage.SpaceLocal,
		Timestamp:   execution.start,
		Metadata:    map[string]string{"rule": rule.Name},
	})
	if err != nil {
		c.fail(ctx, execution, err)

		return
	}

	stats := ProgressStats{
		Ran:     summary.Ran,
		Passed:  summary.Passed,
		Failed:  summary.Failed,
		Skipped: summary.Skipped,
	}

	c.transition(execution, StageSummarizing, 90, stats)
	c.finish(execution, StageDone, stats)
}

func (c *Coordinator) transition(execution *Execution, stage Stage, percent float64, stats ProgressStats) {
	execution.mu.Lock()
	execution.stage = stage
	execution.mu.Unlock()

	execution.broadcast.publish(Progress{
		Stage:   stage,
		Percent: percent,
		Stats:   stats,
		TS:      time.Now().UTC(),
	})
}

func (c *Coordinator) finish(execution *Execution, stage Stage, stats ProgressStats) {
	execution.mu.Lock()
	execution.stage = stage
	execution.mu.Unlock()

	execution.broadcast.finish(Progress{
		Stage:   stage,
		Percent: 100,
		Stats:   stats,
		TS:      time.Now().UTC(),
	})

	c.logger.Info("Execution finished",
		slog.String("execution_id", execution.ID),
		slog.String("rule", execution.Rule),
		slog.String("stage", string(stage)),
	)
}

// fail resolves the terminal stage for an error: a cancelled context means
// the user stopped the run, everything else is a failure.
func (c *Coordinator) fail(ctx context.Context, execution *Execution, err error) {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, runner.ErrCancelled) {
		c.finish(execution, StageCancelled, ProgressStats{})

		return
	}

	c.logger.Error("Execution failed",
		slog.String("execution_id", execution.ID),
		slog.String("rule", execution.Rule),
		slog.String("error", err.Error()),
	)

	c.finish(execution, StageFailed, ProgressStats{})
}
