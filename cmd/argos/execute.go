package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/argos-io/argos/internal/exec"
	"github.com/argos-io/argos/internal/rules"
	"github.com/argos-io/argos/internal/runner"
)

func executeCommand() *cli.Command {
	return &cli.Command{
		Name:  "execute",
		Usage: "run the entities selected by a rule and record the outcomes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rule", Usage: "name of the execution rule", Required: true},
			&cli.StringFlag{Name: "execution-id", Usage: "caller-chosen execution id"},
			&cli.StringSliceFlag{Name: "changed-file", Usage: "changed file for ${CHANGED_FILES} expansion (repeatable)"},
			&cli.BoolFlag{Name: "quiet", Usage: "suppress progress output"},
			&cli.BoolFlag{Name: "verbose", Usage: "print every progress message"},
		},
		Action: runExecute,
	}
}

func runExecute(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	coordinator := exec.NewCoordinator(svc.store, svc.engine, svc.pipeline, runner.NewAdapter("."))

	execution, err := coordinator.StartWithID(c.Context, c.String("execution-id"), c.String("rule"), rules.Options{
		ChangedFiles: c.StringSlice("changed-file"),
	})
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	progress, cancel, err := coordinator.Subscribe(execution.ID)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer cancel()

	// Ctrl-C cancels the execution; the run commits nothing.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if _, ok := <-stop; ok {
			_ = coordinator.Cancel(execution.ID)
		}
	}()

	quiet := c.Bool("quiet")
	verbose := c.Bool("verbose")

	var terminal exec.Progress

	for msg := range progress {
		terminal = msg

		switch {
		case quiet:
		case msg.Stage.Terminal() || verbose:
			printProgress(msg)
		case msg.CurrentEntity == "":
			// Stage transitions only; per-entity lines need --verbose.
			printProgress(msg)
		}
	}

	// Stop guarantees no further sends, so the close wakes the watcher.
	signal.Stop(stop)
	close(stop)

	switch terminal.Stage {
	case exec.StageDone:
		if terminal.Stats.Failed > 0 {
			return cli.Exit("", exitFailure)
		}

		return nil
	case exec.StageCancelled:
		return cli.Exit("execution cancelled", exitError)
	default:
		return cli.Exit("execution failed", exitError)
	}
}

func printProgress(msg exec.Progress) {
	if msg.CurrentEntity != "" {
		fmt.Printf("[%3.0f%%] %-11s %s\n", msg.Percent, msg.Stage, msg.CurrentEntity)

		return
	}

	fmt.Printf("[%3.0f%%] %-11s ran=%d passed=%d failed=%d skipped=%d\n",
		msg.Percent, msg.Stage, msg.Stats.Ran, msg.Stats.Passed, msg.Stats.Failed, msg.Stats.Skipped)
}
