package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/argos-io/argos/internal/ci"
	"github.com/argos-io/argos/internal/ingest"
	"github.com/argos-io/argos/internal/parser"
	"github.com/argos-io/argos/internal/storage"
)

func ciCommand() *cli.Command {
	return &cli.Command{
		Name:  "ci",
		Usage: "synchronize and mine CI provider data",
		Subcommands: []*cli.Command{
			{
				Name:  "fetch",
				Usage: "fetch workflow runs and jobs into the history store",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workflow", Usage: "workflow name filter"},
					&cli.StringFlag{Name: "branch", Usage: "branch filter"},
					&cli.IntFlag{Name: "limit", Usage: "maximum runs", Value: 20},
					&cli.BoolFlag{Name: "logs", Usage: "also download job logs"},
				},
				Action: runCIFetch,
			},
			{
				Name:      "parse",
				Usage:     "parse stored job logs of a run and ingest the extracted test outcomes",
				ArgsUsage: "<run_id>",
				Action:    runCIParse,
			},
			{
				Name:      "artifacts",
				Usage:     "download a run's artifacts and ingest coverage and lint files",
				ArgsUsage: "<run_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pattern", Usage: "artifact name glob", Value: "*"},
					&cli.StringFlag{Name: "cache-dir", Usage: "artifact cache directory", Value: filepath.Join(".anvil", "artifacts")},
				},
				Action: runCIArtifacts,
			},
		},
	}
}

func runCIFetch(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	client, err := svc.ciClient()
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	runs, err := client.ListRuns(c.Context, ci.RunFilter{
		Workflow: c.String("workflow"),
		Branch:   c.String("branch"),
		Limit:    c.Int("limit"),
	})
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	for i := range runs {
		run := &runs[i]

		jobs, err := client.ListJobs(c.Context, run.RemoteRunID)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		summary, err := svc.pipeline.IngestCIRun(c.Context, run, jobs)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		fmt.Printf("run %d (%s, %s): %d jobs, %d new outcomes\n",
			run.RemoteRunID, run.WorkflowName, run.Branch, len(jobs), summary.Ran)

		if !c.Bool("logs") {
			continue
		}

		for _, job := range jobs {
			if job.Status != "completed" {
				continue
			}

			log, err := client.FetchJobLog(c.Context, job.RemoteJobID)
			if err != nil {
				return cli.Exit(err.Error(), exitError)
			}

			if err := svc.store.SetCIJobLog(c.Context, job.RemoteJobID, string(log)); err != nil {
				return cli.Exit(err.Error(), exitError)
			}

			fmt.Printf("  job %d (%s): %d log bytes\n", job.RemoteJobID, job.JobName, len(log))
		}
	}

	fmt.Printf("fetched %d runs\n", len(runs))

	return nil
}

// ciParseResult is one job's log extraction, printed as JSON by ci parse.
type ciParseResult struct {
	RemoteJobID int64                 `json:"remote_job_id"`
	JobName     string                `json:"job_name"`
	Summary     *parser.CILogSummary  `json:"summary,omitempty"`
	Failures    []parser.CILogFailure `json:"failures,omitempty"`
	Coverage    *float64              `json:"coverage_percent,omitempty"`
	Ingested    int                   `json:"ingested"`
}

// runCIParse walks every stored log of a run, extracts test outcomes and
// records the failed tests under the job-level execution id. Jobs without a
// stored log are skipped silently; fetch --logs populates them.
func runCIParse(c *cli.Context) error {
	runID, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || runID < 1 {
		return cli.Exit("run id must be a positive integer", exitError)
	}

	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	run, err := svc.store.GetCIWorkflowRun(c.Context, runID)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	jobs, err := svc.store.GetCIWorkflowJobs(c.Context, runID)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	var results []ciParseResult

	for _, job := range jobs {
		log, err := svc.store.GetCIJobLog(c.Context, job.RemoteJobID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}

			return cli.Exit(err.Error(), exitError)
		}

		data := parser.ParseCILog(log)
		result := ciParseResult{RemoteJobID: job.RemoteJobID, JobName: job.JobName, Failures: data.Failures}

		if data.FoundSummary {
			result.Summary = &data.Summary
		}

		if data.FoundCoverage {
			coverage := data.CoveragePercent
			result.Coverage = &coverage
		}

		if len(data.Failures) > 0 {
			outcomes := make([]parser.TestResult, 0, len(data.Failures))
			for _, failure := range data.Failures {
				outcomes = append(outcomes, parser.TestResult{
					NodeID:    failure.NodeID,
					Outcome:   storage.StatusFailed,
					ErrorText: failure.ErrorText,
				})
			}

			timestamp := job.StartedAt
			if timestamp.IsZero() {
				timestamp = run.StartedAt
			}

			summary, err := svc.pipeline.IngestCITestResults(c.Context, runID, job.RemoteJobID, outcomes, timestamp)
			if err != nil {
				return cli.Exit(err.Error(), exitError)
			}

			result.Ingested = summary.Ran
		}

		results = append(results, result)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(results)
}

// runCIArtifacts downloads the matching artifacts of a fetched run, caches
// them under the run's id, and ingests recognized files: XML as a coverage
// report, text files named after a validator as its lint output. Everything
// lands in the ci space under the run-level execution id.
func runCIArtifacts(c *cli.Context) error {
	runID, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || runID < 1 {
		return cli.Exit("run id must be a positive integer", exitError)
	}

	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	client, err := svc.ciClient()
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	run, err := svc.store.GetCIWorkflowRun(c.Context, runID)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	files, err := client.FetchRunArtifacts(c.Context, runID, c.String("pattern"))
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	cacheDir := filepath.Join(c.String("cache-dir"), strconv.FormatInt(runID, 10))
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	ic := ingest.Context{
		ExecutionID: ingest.CIRunExecutionID(runID),
		Space:       storage.SpaceCI,
		Timestamp:   run.StartedAt,
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		data := files[name]

		cached := filepath.Join(cacheDir, filepath.Base(name))
		if err := os.WriteFile(cached, data, reportFilePerm); err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		if err := ingestArtifact(c.Context, svc, ic, name, data); err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		fmt.Printf("artifact %s: %d bytes\n", name, len(data))
	}

	fmt.Printf("cached %d artifacts under %s\n", len(names), cacheDir)

	return nil
}

func ingestArtifact(ctx context.Context, svc *services, ic ingest.Context, name string, data []byte) error {
	base := filepath.Base(name)

	switch {
	case strings.HasSuffix(base, ".xml"):
		coverage, err := parser.ParseCoverage(data)
		if err != nil {
			return err
		}

		_, err = svc.pipeline.IngestCoverage(ctx, coverage, ic)

		return err
	case strings.Contains(base, "flake8"):
		_, err := svc.pipeline.IngestLint(ctx, parser.ParseFlake8(string(data)), ic)

		return err
	case strings.Contains(base, "black"):
		_, err := svc.pipeline.IngestLint(ctx, parser.ParseBlack(string(data)), ic)

		return err
	case strings.Contains(base, "isort"):
		_, err := svc.pipeline.IngestLint(ctx, parser.ParseIsort(string(data)), ic)

		return err
	}

	// Unrecognized artifacts are cached but not ingested.
	return nil
}
