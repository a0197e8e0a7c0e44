package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/argos-io/argos/internal/storage"
)

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "query per-entity statistics",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "show statistics for stored entities",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "entity", Usage: "single entity id"},
					&cli.StringFlag{Name: "type", Usage: "entity type", Value: string(storage.EntityTest)},
					&cli.IntFlag{Name: "window", Usage: "restrict to the last N runs (0 = all)"},
				},
				Action: runStatsShow,
			},
			{
				Name:  "flaky",
				Usage: "list entities whose recent failure rate crosses a threshold",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "threshold", Usage: "failure-rate threshold", Value: 0.1},
					&cli.IntFlag{Name: "window", Usage: "recent runs considered", Value: 10},
					&cli.StringFlag{Name: "type", Usage: "entity type", Value: string(storage.EntityTest)},
					&cli.StringFlag{Name: "space", Usage: "restrict to local or ci"},
				},
				Action: runStatsFlaky,
			},
		},
	}
}

func runStatsShow(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	var rows []storage.EntityStatistics

	entityType := storage.EntityType(c.String("type"))
	window := c.Int("window")

	switch {
	case c.String("entity") != "":
		row, err := svc.calc.EntityStats(c.Context, c.String("entity"), window)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		rows = []storage.EntityStatistics{*row}
	case window > 0:
		// Windowed stats are not persisted; recompute per entity.
		entityIDs, err := svc.store.ListEntityIDs(c.Context, entityType)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		for _, entityID := range entityIDs {
			row, err := svc.calc.EntityStats(c.Context, entityID, window)
			if err != nil {
				return cli.Exit(err.Error(), exitError)
			}

			rows = append(rows, *row)
		}
	default:
		rows, err = svc.store.ListEntityStatistics(c.Context, entityType)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}
	}

	printStats(rows)

	return nil
}

func runStatsFlaky(c *cli.Context) error {
	threshold := c.Float64("threshold")
	if threshold <= 0 || threshold > 1 {
		return cli.Exit("threshold must be in (0, 1]", exitError)
	}

	window := c.Int("window")
	if window < 2 {
		return cli.Exit("window must be >= 2", exitError)
	}

	space := storage.Space(c.String("space"))
	if space != "" && !space.Valid() {
		return cli.Exit(fmt.Sprintf("unknown space %q", space), exitError)
	}

	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	rows, err := svc.calc.GetFlaky(c.Context, storage.EntityType(c.String("type")), threshold, window, space)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	if len(rows) == 0 {
		fmt.Println("no flaky entities")

		return nil
	}

	printStats(rows)

	return nil
}

func printStats(rows []storage.EntityStatistics) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tRUNS\tPASSED\tFAILED\tFAIL RATE\tAVG DURATION\tLAST RUN")

	for _, row := range rows {
		lastRun := ""
		if !row.LastRun.IsZero() {
			lastRun = row.LastRun.UTC().Format("2006-01-02 15:04:05")
		}

		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\t%.3fs\t%s\n",
			row.EntityID, row.TotalRuns, row.Passed, row.Failed,
			row.FailureRate, row.AvgDuration, lastRun)
	}

	_ = w.Flush()
}
