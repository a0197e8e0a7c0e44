package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/argos-io/argos/internal/parser"
	"github.com/argos-io/argos/internal/report"
	"github.com/argos-io/argos/internal/storage"
)

const reportFilePerm = 0o644

func reportCommand() *cli.Command {
	formatFlags := []cli.Flag{
		&cli.StringFlag{Name: "format", Usage: "html or markdown", Value: "markdown"},
		&cli.StringFlag{Name: "output", Usage: "write to a file instead of stdout"},
	}

	return &cli.Command{
		Name:  "report",
		Usage: "render stored history into HTML or Markdown documents",
		Subcommands: []*cli.Command{
			{
				Name:  "tests",
				Usage: "test execution report with trend, flaky and slowest tables",
				Flags: append([]cli.Flag{
					&cli.IntFlag{Name: "days", Usage: "history window in days", Value: 30},
					&cli.IntFlag{Name: "top", Usage: "slowest tests listed", Value: 10},
				}, formatFlags...),
				Action: runReportTests,
			},
			{
				Name:  "coverage",
				Usage: "coverage report for the most recent execution",
				Flags: append([]cli.Flag{
					&cli.Float64Flag{Name: "threshold", Usage: "regression threshold in percentage points", Value: 1.0},
				}, formatFlags...),
				Action: runReportCoverage,
			},
			{
				Name:   "quality",
				Usage:  "code quality report with local-vs-CI comparison",
				Flags:  formatFlags,
				Action: runReportQuality,
			},
		},
	}
}

func runReportTests(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	since := time.Now().UTC().AddDate(0, 0, -c.Int("days"))

	rows, err := svc.store.GetExecutionHistory(c.Context, storage.HistoryFilter{
		EntityType: storage.EntityTest,
		Space:      storage.SpaceLocal,
		Since:      since,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	flaky, err := svc.calc.GetFlaky(c.Context, storage.EntityTest, 0.1, 10, storage.SpaceLocal)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	r := report.BuildTestReport(rows, flaky, c.Int("top"))

	if c.String("format") == "html" {
		html, err := report.RenderTestHTML(r)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		return writeReport(c.String("output"), html)
	}

	return writeReport(c.String("output"), report.RenderTestMarkdown(r))
}

func runReportCoverage(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	// Most recent first; the trend renders oldest first.
	summaries, err := svc.store.GetCoverageSummaries(c.Context, storage.CoverageFilter{
		Space: storage.SpaceLocal,
		Limit: 10,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	if len(summaries) == 0 {
		return cli.Exit("no coverage recorded", exitError)
	}

	files, err := svc.store.GetCoverageHistory(c.Context, storage.CoverageFilter{
		ExecutionID: summaries[0].ExecutionID,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	trend := make([]storage.CoverageSummary, 0, len(summaries))
	for i := len(summaries) - 1; i >= 0; i-- {
		trend = append(trend, summaries[i])
	}

	var regressions []parser.CoverageDelta

	if len(summaries) > 1 {
		current, err := coverageDataFor(c.Context, svc, summaries[0].ExecutionID)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		baseline, err := coverageDataFor(c.Context, svc, summaries[1].ExecutionID)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		regressions = parser.Regressions(current, baseline, c.Float64("threshold"))
	}

	r := report.BuildCoverageReport(files, trend, regressions)

	if c.String("format") == "html" {
		html, err := report.RenderCoverageHTML(r)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		return writeReport(c.String("output"), html)
	}

	return writeReport(c.String("output"), report.RenderCoverageMarkdown(r))
}

func runReportQuality(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	local, err := latestLintSummaries(c.Context, svc, storage.SpaceLocal)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	remote, err := latestLintSummaries(c.Context, svc, storage.SpaceCI)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	// Violations backing the top-codes and top-files tables come from the
	// executions the local summaries describe.
	var violations []storage.LintViolation

	for _, summary := range local {
		rows, err := svc.store.GetLintViolations(c.Context, storage.LintFilter{
			ExecutionID: summary.ExecutionID,
			Validator:   summary.Validator,
		})
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		violations = append(violations, rows...)
	}

	r := report.BuildQualityReport(local, remote, violations)

	if c.String("format") == "html" {
		html, err := report.RenderQualityHTML(r)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		return writeReport(c.String("output"), html)
	}

	return writeReport(c.String("output"), report.RenderQualityMarkdown(r))
}

// latestLintSummaries returns the most recent summary per validator in one
// space. The store orders summaries most recent first, so the first row seen
// for a validator wins.
func latestLintSummaries(ctx context.Context, svc *services, space storage.Space) ([]storage.LintSummary, error) {
	rows, err := svc.store.GetLintSummaries(ctx, storage.LintFilter{Space: space, Limit: 200})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}

	var latest []storage.LintSummary

	for _, row := range rows {
		if seen[row.Validator] {
			continue
		}

		seen[row.Validator] = true
		latest = append(latest, row)
	}

	return latest, nil
}

func coverageDataFor(ctx context.Context, svc *services, executionID string) (*parser.CoverageData, error) {
	rows, err := svc.store.GetCoverageHistory(ctx, storage.CoverageFilter{ExecutionID: executionID})
	if err != nil {
		return nil, err
	}

	data := &parser.CoverageData{FilesAnalyzed: len(rows)}

	for _, row := range rows {
		data.TotalStatements += row.TotalStatements
		data.CoveredStatements += row.CoveredStatements
		data.PerFile = append(data.PerFile, parser.FileCoverage{
			FilePath:           row.FilePath,
			TotalStatements:    row.TotalStatements,
			CoveredStatements:  row.CoveredStatements,
			CoveragePercentage: row.CoveragePercentage,
			MissingLines:       row.MissingLines,
		})
	}

	return data, nil
}

func writeReport(path, content string) error {
	if path == "" {
		fmt.Print(content)

		return nil
	}

	if err := os.WriteFile(path, []byte(content), reportFilePerm); err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	fmt.Printf("wrote %s\n", path)

	return nil
}
