package main

import (
	"context"
	"fmt"
	"os"

	"github.com/argos-io/argos/internal/ci"
	"github.com/argos-io/argos/internal/config"
	"github.com/argos-io/argos/internal/ingest"
	"github.com/argos-io/argos/internal/rules"
	"github.com/argos-io/argos/internal/stats"
	"github.com/argos-io/argos/internal/storage"
)

// services bundles the store-backed components every command needs. Close
// must be called before the process exits so the SQLite handle is released.
type services struct {
	project  *config.Project
	conn     *storage.Connection
	store    *storage.Store
	calc     *stats.Calculator
	pipeline *ingest.Pipeline
	engine   *rules.Engine
}

// openServices loads project configuration and opens the history store,
// creating the schema on first use. The ARGOS_DATABASE environment variable
// wins over the config file's history.database.
func openServices(ctx context.Context) (*services, error) {
	project, err := config.LoadProjectFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}

	storageConfig := storage.LoadConfig()
	if os.Getenv("ARGOS_DATABASE") == "" && project.History.Database != "" {
		storageConfig.Path = project.History.Database
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store, err := storage.NewStore(ctx, conn)
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	calc := stats.NewCalculator(store)

	return &services{
		project:  project,
		conn:     conn,
		store:    store,
		calc:     calc,
		pipeline: ingest.NewPipeline(store, calc),
		engine:   rules.NewEngine(store),
	}, nil
}

func (s *services) Close() {
	_ = s.conn.Close()
}

// ciClient builds the provider client from project config. The token comes
// from the environment variable named by ci.token_env and never from the
// config file itself.
func (s *services) ciClient() (*ci.Client, error) {
	baseURL := os.Getenv("ARGOS_CI_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: set ARGOS_CI_BASE_URL to the provider API base", ci.ErrCI)
	}

	return ci.NewClient(baseURL, os.Getenv(s.project.CI.TokenEnv)), nil
}
