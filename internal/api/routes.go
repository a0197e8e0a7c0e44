package api

import (
	"context"
	"net/http"
	"time"
)

const (
	healthCheckTimeout     = 2 * time.Second
	contentTypeProblemJSON = "application/problem+json"
)

type (
	// HealthStatus is the health check response body.
	HealthStatus struct {
		Status        string `json:"status"`
		SchemaVersion int    `json:"schema_version"`
		WritersQueued int64  `json:"writers_queued"`
	}
)

// routes registers every endpoint family on the mux. Entity ids contain
// slashes and "::" separators, so entity-scoped reads take the id as a
// query parameter rather than a path segment.
func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/executions", s.handleListExecutions)
	mux.HandleFunc("POST /api/v1/executions", s.handleStartExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.handleCancelExecution)
	mux.HandleFunc("GET /api/v1/executions/{id}/ws", s.handleExecutionProgress)

	mux.HandleFunc("GET /api/v1/rules", s.handleListRules)
	mux.HandleFunc("GET /api/v1/rules/{name}", s.handleGetRule)
	mux.HandleFunc("PUT /api/v1/rules/{name}", s.handlePutRule)
	mux.HandleFunc("DELETE /api/v1/rules/{name}", s.handleDeleteRule)

	mux.HandleFunc("GET /api/v1/stats/entity", s.handleEntityStats)
	mux.HandleFunc("GET /api/v1/stats/flaky", s.handleFlaky)

	mux.HandleFunc("GET /api/v1/lint/summaries", s.handleLintSummaries)
	mux.HandleFunc("GET /api/v1/lint/violations", s.handleLintViolations)
	mux.HandleFunc("GET /api/v1/lint/comparison", s.handleLintComparison)

	mux.HandleFunc("GET /api/v1/coverage/summaries", s.handleCoverageSummaries)
	mux.HandleFunc("GET /api/v1/coverage/history", s.handleCoverageHistory)
	mux.HandleFunc("GET /api/v1/coverage/regressions", s.handleCoverageRegressions)

	mux.HandleFunc("GET /api/v1/ci/runs", s.handleListCIRuns)
	mux.HandleFunc("GET /api/v1/ci/runs/{run_id}/jobs", s.handleListCIJobs)
	mux.HandleFunc("POST /api/v1/ci/runs/{run_id}/fetch", s.handleFetchCIRun)
	mux.HandleFunc("POST /api/v1/ci/jobs/{job_id}/fetch", s.handleFetchCIJobLog)
	mux.HandleFunc("GET /api/v1/ci/jobs/{job_id}/log", s.handleGetCIJobLog)
	mux.HandleFunc("GET /api/v1/ci/jobs/{job_id}/parse", s.handleParseCIJobLog)
	mux.HandleFunc("GET /api/v1/ci/runs/{run_id}/compare", s.handleCompareRun)

	mux.HandleFunc("GET /api/v1/comparison", s.handleComparison)
	mux.HandleFunc("GET /api/v1/comparison/platform-failures", s.handlePlatformFailures)
}

// handleHealth reports schema version and writer queue depth so operators
// can see a wedged writer before requests start failing with Busy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.writeError(w, r, err)

		return
	}

	version, err := s.store.SchemaVersion(ctx)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:        "ok",
		SchemaVersion: version,
		WritersQueued: s.store.WritersQueued(),
	})
}
