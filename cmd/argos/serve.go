package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/argos-io/argos/internal/api"
	"github.com/argos-io/argos/internal/exec"
	"github.com/argos-io/argos/internal/runner"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the query and comparison service",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "override the listen port"},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	svc, err := openServices(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer svc.Close()

	serverConfig := api.LoadServerConfig()
	if port := c.Int("port"); port > 0 {
		serverConfig.Port = port
	}

	coordinator := exec.NewCoordinator(svc.store, svc.engine, svc.pipeline, runner.NewAdapter("."))

	// The CI endpoints degrade to 503 without a configured provider.
	var ciService api.CIService

	if client, err := svc.ciClient(); err == nil {
		ciService = client
	} else {
		fmt.Printf("ci provider disabled: %v\n", err)
	}

	server := api.NewServer(serverConfig, svc.store, svc.calc, svc.pipeline, coordinator, ciService)

	if err := server.Start(c.Context); err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	return nil
}
