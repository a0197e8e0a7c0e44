package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/argos-io/argos/internal/storage"
)

func rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "manage execution rules",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list stored rules",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "enabled-only", Usage: "hide disabled rules"},
				},
				Action: runRulesList,
			},
			{
				Name:      "add",
				Aliases:   []string{"update"},
				Usage:     "create or replace a rule",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "criteria", Usage: "selection criteria", Required: true},
					&cli.IntFlag{Name: "window", Usage: "history window", Value: 1},
					&cli.Float64Flag{Name: "threshold", Usage: "failure-rate threshold"},
					&cli.StringSliceFlag{Name: "group", Usage: "group pattern (repeatable)"},
					&cli.BoolFlag{Name: "disabled", Usage: "store the rule disabled"},
				},
				Action: runRulesAdd,
			},
			{
				Name:      "delete",
				Usage:     "delete a rule",
				ArgsUsage: "<name>",
				Action:    runRulesDelete,
			},
			{
				Name:   "import",
				Usage:  "import the rules declared in argos.yaml",
				Action: runRulesImport,
			},
		},
	}
}

func runRulesList(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	stored, err := svc.store.ListExecutionRules(c.Context, c.Bool("enabled-only"))
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRITERIA\tWINDOW\tTHRESHOLD\tENABLED")

	for _, rule := range stored {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%t\n",
			rule.Name, rule.Criteria, rule.Window, rule.Threshold, rule.Enabled)
	}

	return w.Flush()
}

func runRulesAdd(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return cli.Exit("rule name required", exitError)
	}

	rule := &storage.ExecutionRule{
		Name:      name,
		Enabled:   !c.Bool("disabled"),
		Criteria:  storage.Criteria(c.String("criteria")),
		Window:    c.Int("window"),
		Threshold: c.Float64("threshold"),
		Groups:    c.StringSlice("group"),
	}
	if !rule.Criteria.Valid() {
		return cli.Exit(fmt.Sprintf("unknown criteria %q", rule.Criteria), exitError)
	}

	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	if err := svc.store.InsertOrUpdateExecutionRule(c.Context, rule); err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	fmt.Printf("stored rule %q\n", name)

	return nil
}

func runRulesDelete(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return cli.Exit("rule name required", exitError)
	}

	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	if err := svc.store.DeleteExecutionRule(c.Context, name); err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	fmt.Printf("deleted rule %q\n", name)

	return nil
}

// runRulesImport upserts every rule declared in the config file. The store is
// the source of truth afterwards; re-importing overwrites store-side edits.
func runRulesImport(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	if err := svc.project.Validate(); err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	for i := range svc.project.Rules {
		declared := &svc.project.Rules[i]

		rule := &storage.ExecutionRule{
			Name:      declared.Name,
			Enabled:   declared.IsEnabled(),
			Criteria:  storage.Criteria(declared.Criteria),
			Window:    declared.Window,
			Threshold: declared.Threshold,
			Groups:    declared.Groups,
		}
		if !rule.Criteria.Valid() {
			return cli.Exit(fmt.Sprintf("rule %q: unknown criteria %q", rule.Name, rule.Criteria), exitError)
		}

		if err := svc.store.InsertOrUpdateExecutionRule(c.Context, rule); err != nil {
			return cli.Exit(err.Error(), exitError)
		}

		fmt.Printf("imported rule %q\n", rule.Name)
	}

	if len(svc.project.Rules) == 0 {
		fmt.Println("no rules declared in config")
	}

	return nil
}
