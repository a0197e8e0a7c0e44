// Package runner spawns the test and lint tools as subprocesses and hands
// their structured output to the parsers.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/argos-io/argos/internal/config"
)

// DefaultEntityTimeout is the per-entity timeout forwarded to the runner's
// own timeout option.
const DefaultEntityTimeout = 300 * time.Second

// Runner errors. A nonzero exit caused by failing tests is not an error;
// ErrRunner covers exits the runner reserves for its own problems
// (unknown options, collection errors, missing plugins).
var (
	ErrRunner    = errors.New("runner failed")
	ErrNoBinary  = errors.New("runner binary not configured")
	ErrCancelled = errors.New("execution cancelled")
)

type (
	// Options configures one test run.
	Options struct {
		// EntityTimeout is forwarded to the runner; zero means
		// DefaultEntityTimeout.
		EntityTimeout time.Duration

		// WallClock caps the whole invocation regardless of per-entity
		// timeouts; zero means no ceiling.
		WallClock time.Duration

		// Coverage enables coverage collection; the XML path is returned in
		// the result.
		Coverage bool

		// Markers and Patterns are runner-side filters forwarded verbatim.
		Markers  []string
		Patterns []string

		// Sink receives the runner's interleaved stdout and stderr as it is
		// produced. Nil discards the stream.
		Sink io.Writer
	}

	// Result is the outcome of one invocation. ExitCode 0 means all passed,
	// 1 means test failures; both are successful executions.
	Result struct {
		ReportPath      string
		CoverageXMLPath string
		ExitCode        int
	}

	// Adapter runs the configured test runner and validators.
	Adapter struct {
		testBinary string
		workDir    string
		logger     *slog.Logger
	}
)

// NewAdapter returns an adapter spawning binaries in workDir. The test
// runner binary defaults to "pytest" and can be overridden with
// ARGOS_TEST_RUNNER.
func NewAdapter(workDir string) *Adapter {
	return &Adapter{
		testBinary: config.GetEnvStr("ARGOS_TEST_RUNNER", "pytest"),
		workDir:    workDir,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("ARGOS_LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Run executes the selected entities and returns the paths of the structured
// outputs. Cancellation through ctx signals the whole process group; a
// cancelled run returns ErrCancelled and the caller must not ingest.
func (a *Adapter) Run(ctx context.Context, entities []string, opts Options) (*Result, error) {
	if a.testBinary == "" {
		return nil, ErrNoBinary
	}

	if opts.WallClock > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.WallClock)
		defer cancel()
	}

	outDir, err := os.MkdirTemp("", "argos-run-")
	if err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	result := &Result{
		ReportPath: filepath.Join(outDir, "report.json"),
	}

	timeout := opts.EntityTimeout
	if timeout <= 0 {
		timeout = DefaultEntityTimeout
	}

	args := []string{
		"--json-report",
		"--json-report-file=" + result.ReportPath,
		"--timeout=" + strconv.Itoa(int(timeout.Seconds())),
		"-q",
	}

	if opts.Coverage {
		result.CoverageXMLPath = filepath.Join(outDir, "coverage.xml")
		args = append(args, "--cov", "--cov-report=xml:"+result.CoverageXMLPath)
	}

	for _, marker := range opts.Markers {
		args = append(args, "-m", marker)
	}

	for _, pattern := range opts.Patterns {
		args = append(args, "-k", pattern)
	}

	args = append(args, entities...)

	a.logger.Info("Starting test runner",
		slog.String("binary", a.testBinary),
		slog.Int("entities", len(entities)),
		slog.Bool("coverage", opts.Coverage),
	)

	exitCode, err := a.exec(ctx, a.testBinary, args, opts.Sink, nil)
	if err != nil {
		return nil, err
	}

	// Exit 0 and 1 are pass/fail; 2 and up are the runner's own failures.
	if exitCode > 1 {
		return nil, fmt.Errorf("%w: %s exited with code %d", ErrRunner, a.testBinary, exitCode)
	}

	result.ExitCode = exitCode

	return result, nil
}

// RunLint invokes one validator and returns its captured stdout for the
// matching parser. Validators signal findings with exit 1, which is not an
// error here.
func (a *Adapter) RunLint(ctx context.Context, validator string, paths []string) (string, error) {
	var args []string

	switch validator {
	case "flake8":
		args = paths
	case "black":
		args = append([]string{"--check"}, paths...)
	case "isort":
		args = append([]string{"--check-only"}, paths...)
	default:
		return "", fmt.Errorf("%w: unknown validator %q", ErrRunner, validator)
	}

	var stdout bytes.Buffer

	exitCode, err := a.exec(ctx, validator, args, nil, &stdout)
	if err != nil {
		return "", err
	}

	if exitCode > 1 {
		return "", fmt.Errorf("%w: %s exited with code %d", ErrRunner, validator, exitCode)
	}

	return stdout.String(), nil
}

// exec runs one subprocess in its own process group, streaming output to
// sink and optionally capturing stdout. Returns the exit code.
func (a *Adapter) exec(ctx context.Context, binary string, args []string, sink, capture io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = a.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Cancellation signals the whole group so runner-spawned workers die too.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var outputs []io.Writer
	if sink != nil {
		outputs = append(outputs, sink)
	}

	if capture != nil {
		outputs = append(outputs, capture)
	}

	if len(outputs) > 0 {
		w := io.MultiWriter(outputs...)
		cmd.Stdout = w

		if capture == nil {
			cmd.Stderr = w
		} else if sink != nil {
			// Stderr is noise for lint parsers; stream it but keep it out of
			// the captured stdout.
			cmd.Stderr = sink
		}
	}

	err := cmd.Run()

	if ctx.Err() != nil {
		return 0, fmt.Errorf("%w: %s", ErrCancelled, binary)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}

		return 0, fmt.Errorf("%w: %s: %v", ErrRunner, binary, err)
	}

	return 0, nil
}
