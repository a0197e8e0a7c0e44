package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/argos-io/argos/internal/storage"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "inspect and prune execution history",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "show recent outcomes",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "entity", Usage: "single entity id"},
					&cli.StringFlag{Name: "execution", Usage: "single execution id"},
					&cli.StringFlag{Name: "space", Usage: "restrict to local or ci"},
					&cli.IntFlag{Name: "limit", Usage: "maximum rows", Value: 50},
				},
				Action: runHistoryShow,
			},
			{
				Name:  "prune",
				Usage: "delete history older than the retention window",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Usage: "retention in days (default from config)"},
				},
				Action: runHistoryPrune,
			},
		},
	}
}

func runHistoryShow(c *cli.Context) error {
	space := storage.Space(c.String("space"))
	if space != "" && !space.Valid() {
		return cli.Exit(fmt.Sprintf("unknown space %q", space), exitError)
	}

	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	rows, err := svc.store.GetExecutionHistory(c.Context, storage.HistoryFilter{
		EntityID:    c.String("entity"),
		ExecutionID: c.String("execution"),
		Space:       space,
		Limit:       c.Int("limit"),
	})
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tEXECUTION\tENTITY\tSTATUS\tDURATION\tSPACE")

	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3fs\t%s\n",
			row.Timestamp.UTC().Format(time.RFC3339), row.ExecutionID,
			row.EntityID, row.Status, row.DurationSeconds, row.Space)
	}

	return w.Flush()
}

// runHistoryPrune deletes rows older than the retention window and reports
// the entities whose statistics were recomputed as a result.
func runHistoryPrune(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	days := c.Int("days")
	if days <= 0 {
		days = svc.project.History.RetentionDays
	}

	deleted, touched, err := svc.store.PruneExecutionHistoryOlderThan(c.Context, days)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	fmt.Printf("pruned %d rows older than %d days (%d entities affected)\n",
		deleted, days, len(touched))

	return nil
}
