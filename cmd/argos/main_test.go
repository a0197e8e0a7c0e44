package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"
)

// testApp returns the CLI with process exits disabled so actions returning
// exit-coded errors surface as plain errors.
func testApp(t *testing.T) *cli.App {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("ARGOS_DATABASE", filepath.Join(dir, "history.db"))
	t.Setenv("ARGOS_CONFIG_PATH", filepath.Join(dir, "argos.yaml"))

	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}

	return app
}

func TestRulesAddAndDelete(t *testing.T) {
	app := testApp(t)
	ctx := context.Background()

	// Flag parsing stops at the first positional argument, so flags come
	// before the rule name.
	err := app.RunContext(ctx, []string{"argos", "rules", "add",
		"--criteria", "failed-in-last", "--window", "5", "recent-failures"})
	if err != nil {
		t.Fatalf("failed to add rule: %v", err)
	}

	if err := app.RunContext(ctx, []string{"argos", "rules", "list"}); err != nil {
		t.Fatalf("failed to list rules: %v", err)
	}

	err = app.RunContext(ctx, []string{"argos", "rules", "delete", "recent-failures"})
	if err != nil {
		t.Fatalf("failed to delete rule: %v", err)
	}
}

func TestRulesAddRejectsUnknownCriteria(t *testing.T) {
	app := testApp(t)

	err := app.RunContext(context.Background(), []string{"argos", "rules", "add",
		"--criteria", "sometimes", "bad"})
	if err == nil {
		t.Fatal("expected an error for unknown criteria")
	}

	coder, ok := err.(cli.ExitCoder)
	if !ok || coder.ExitCode() != exitError {
		t.Errorf("exit code = %v, want %d", err, exitError)
	}
}

func TestRulesImportFromConfig(t *testing.T) {
	app := testApp(t)

	configPath := os.Getenv("ARGOS_CONFIG_PATH")

	config := []byte(`project:
  name: demo
rules:
  - name: flaky-tests
    criteria: failure-rate
    threshold: 0.2
    window: 10
  - name: unit
    criteria: group
    groups:
      - "tests/unit/**"
`)
	if err := os.WriteFile(configPath, config, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	ctx := context.Background()

	if err := app.RunContext(ctx, []string{"argos", "rules", "import"}); err != nil {
		t.Fatalf("failed to import rules: %v", err)
	}

	// Re-importing upserts and must not fail on existing names.
	if err := app.RunContext(ctx, []string{"argos", "rules", "import"}); err != nil {
		t.Fatalf("failed to re-import rules: %v", err)
	}
}

func TestHistoryPruneOnEmptyStore(t *testing.T) {
	app := testApp(t)

	err := app.RunContext(context.Background(), []string{"argos", "history", "prune", "--days", "30"})
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
}

func TestStatsFlakyRejectsBadThreshold(t *testing.T) {
	app := testApp(t)

	err := app.RunContext(context.Background(), []string{"argos", "stats", "flaky",
		"--threshold", "1.5"})
	if err == nil {
		t.Fatal("expected an error for out-of-range threshold")
	}
}

func TestReportTestsMarkdownOnEmptyStore(t *testing.T) {
	app := testApp(t)

	output := filepath.Join(t.TempDir(), "report.md")

	err := app.RunContext(context.Background(), []string{"argos", "report", "tests",
		"--format", "markdown", "--output", output})
	if err != nil {
		t.Fatalf("failed to render report: %v", err)
	}

	if _, err := os.Stat(output); err != nil {
		t.Errorf("report file missing: %v", err)
	}
}
