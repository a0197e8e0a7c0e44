package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/argos-io/argos/internal/api/middleware"
	"github.com/argos-io/argos/internal/ci"
	"github.com/argos-io/argos/internal/exec"
	"github.com/argos-io/argos/internal/ingest"
	"github.com/argos-io/argos/internal/stats"
	"github.com/argos-io/argos/internal/storage"
)

type (
	// CIService is the slice of the CI provider client the server drives.
	// Nil when no provider is configured; the CI fetch endpoints then answer
	// 503.
	CIService interface {
		ListRuns(ctx context.Context, filter ci.RunFilter) ([]storage.CIWorkflowRun, error)
		ListJobs(ctx context.Context, runID int64) ([]storage.CIWorkflowJob, error)
		FetchJobLog(ctx context.Context, jobID int64) ([]byte, error)
	}

	// Server is the Argos query and comparison service.
	Server struct {
		config      *ServerConfig
		logger      *slog.Logger
		store       *storage.Store
		calc        *stats.Calculator
		pipeline    *ingest.Pipeline
		coordinator *exec.Coordinator
		ciClient    CIService

		upgrader   websocket.Upgrader
		httpServer *http.Server
	}
)

// NewServer wires the query service over its dependencies. ciClient may be
// nil when no CI provider token is configured.
func NewServer(
	config *ServerConfig,
	store *storage.Store,
	calc *stats.Calculator,
	pipeline *ingest.Pipeline,
	coordinator *exec.Coordinator,
	ciClient CIService,
) *Server {
	server := &Server{
		config:      config,
		store:       store,
		calc:        calc,
		pipeline:    pipeline,
		coordinator: coordinator,
		ciClient:    ciClient,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.LogLevel,
		})),
		upgrader: websocket.Upgrader{
			// The service is a localhost developer tool; the browser UI is
			// served from arbitrary dev-server origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	return server
}

// Handler builds the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)

	return middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(s.logger),
		middleware.WithRateLimit(middleware.NewInMemoryRateLimiter(s.config.RateLimitRPS), s.logger),
		middleware.WithRequestLogger(s.logger),
		middleware.WithCORS(s.config.ToCORSConfig()),
	)
}

// Start runs the HTTP server until the context is cancelled or a SIGINT or
// SIGTERM arrives, then shuts down gracefully within the configured
// shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server starting",
			slog.String("address", s.config.Address()),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		s.logger.Info("Shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Server context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server stopped")

	return nil
}

// writeJSON renders a 2xx JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("path", r.URL.Path),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.Any("error", err),
		)
	}
}

// writeError renders the taxonomy mapping of err, adding Retry-After on 503
// so clients back off the serialized writer.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	problem := problemFromError(err)

	if problem.Status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	if problem.Status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	WriteErrorResponse(w, r, s.logger, problem)
}

const retryAfterSeconds = "1"
