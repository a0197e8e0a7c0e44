// Package main provides the argos command line interface: rule-driven test
// execution, history and statistics queries, CI synchronization, report
// rendering, and the query service.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	version = "1.0.0-dev"
	name    = "argos"
)

// Exit codes form the CLI contract: 0 success, 1 test or rule failure, 2
// operational error.
const (
	exitFailure = 1
	exitError   = 2
)

func newApp() *cli.App {
	return &cli.App{
		Name:    name,
		Version: version,
		Usage:   "developer observability over test, lint, coverage and CI history",
		Commands: []*cli.Command{
			executeCommand(),
			rulesCommand(),
			statsCommand(),
			historyCommand(),
			ciCommand(),
			reportCommand(),
			serveCommand(),
		},
	}
}

func main() {
	// ExitCoder errors are handled inside Run; anything else is an
	// operational error.
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
}
