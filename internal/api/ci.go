package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/argos-io/argos/internal/parser"
	"github.com/argos-io/argos/internal/storage"
)

// ErrNoCIProvider indicates the server was started without a CI provider
// client; on-demand fetch endpoints answer 503 with it.
var ErrNoCIProvider = errors.New("no CI provider configured")

type (
	// ciRunRecord is the wire form of one workflow run.
	ciRunRecord struct {
		RemoteRunID     int64     `json:"remote_run_id"`
		WorkflowName    string    `json:"workflow_name"`
		Branch          string    `json:"branch"`
		CommitSHA       string    `json:"commit_sha"`
		Status          string    `json:"status"`
		Conclusion      string    `json:"conclusion"`
		StartedAt       time.Time `json:"started_at,omitzero"`
		DurationSeconds float64   `json:"duration_seconds"`
		RunNumber       int       `json:"run_number"`
	}

	// ciJobRecord is the wire form of one workflow job, log excluded.
	ciJobRecord struct {
		RemoteJobID int64     `json:"remote_job_id"`
		RemoteRunID int64     `json:"remote_run_id"`
		JobName     string    `json:"job_name"`
		Status      string    `json:"status"`
		Conclusion  string    `json:"conclusion"`
		StartedAt   time.Time `json:"started_at,omitzero"`
		CompletedAt time.Time `json:"completed_at,omitzero"`
		RunnerOS    string    `json:"runner_os"`
	}

	// ciLogParseResponse is the structured extraction of a stored job log.
	ciLogParseResponse struct {
		JobID           int64          `json:"job_id"`
		Summary         ciLogSummary   `json:"summary"`
		FoundSummary    bool           `json:"found_summary"`
		Failures        []ciLogFailure `json:"failures"`
		CoveragePercent float64        `json:"coverage_percent"`
		FoundCoverage   bool           `json:"found_coverage"`
		LintLines       []string       `json:"lint_lines"`
	}

	ciLogSummary struct {
		Passed  int `json:"passed"`
		Failed  int `json:"failed"`
		Skipped int `json:"skipped"`
		Errors  int `json:"errors"`
	}

	ciLogFailure struct {
		NodeID    string `json:"node_id"`
		ErrorText string `json:"error_text,omitempty"`
	}
)

func ciRunToRecord(run *storage.CIWorkflowRun) ciRunRecord {
	return ciRunRecord{
		RemoteRunID:     run.RemoteRunID,
		WorkflowName:    run.WorkflowName,
		Branch:          run.Branch,
		CommitSHA:       run.CommitSHA,
		Status:          run.Status,
		Conclusion:      run.Conclusion,
		StartedAt:       run.StartedAt,
		DurationSeconds: run.DurationSeconds,
		RunNumber:       run.RunNumber,
	}
}

// handleListCIRuns handles GET /api/v1/ci/runs with workflow, branch,
// status, limit and offset query parameters.
func (s *Server) handleListCIRuns(w http.ResponseWriter, r *http.Request) {
	filter := storage.CIRunFilter{
		Workflow: r.URL.Query().Get("workflow"),
		Branch:   r.URL.Query().Get("branch"),
		Status:   r.URL.Query().Get("status"),
	}

	limit, err := parseLimitParam(r, defaultListLimit)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter.Limit = limit

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			WriteErrorResponse(w, r, s.logger, BadRequest(fmt.Sprintf("invalid offset %q", raw)))

			return
		}

		filter.Offset = offset
	}

	runs, err := s.store.GetCIWorkflowRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	records := make([]ciRunRecord, 0, len(runs))
	for i := range runs {
		records = append(records, ciRunToRecord(&runs[i]))
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"runs": records})
}

// handleListCIJobs handles GET /api/v1/ci/runs/{run_id}/jobs.
func (s *Server) handleListCIJobs(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRemoteID(r, "run_id")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	if _, err := s.store.GetCIWorkflowRun(r.Context(), runID); err != nil {
		s.writeError(w, r, err)

		return
	}

	jobs, err := s.store.GetCIWorkflowJobs(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	records := make([]ciJobRecord, 0, len(jobs))
	for _, job := range jobs {
		records = append(records, ciJobRecord{
			RemoteJobID: job.RemoteJobID,
			RemoteRunID: job.RemoteRunID,
			JobName:     job.JobName,
			Status:      job.Status,
			Conclusion:  job.Conclusion,
			StartedAt:   job.StartedAt,
			CompletedAt: job.CompletedAt,
			RunnerOS:    job.RunnerOS,
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"jobs": records})
}

// handleFetchCIRun handles POST /api/v1/ci/runs/{run_id}/fetch. It refetches
// the run's jobs from the provider and re-ingests the run; metadata
// refreshes converge and already-fetched logs are preserved.
func (s *Server) handleFetchCIRun(w http.ResponseWriter, r *http.Request) {
	if s.ciClient == nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", storage.ErrBusy, ErrNoCIProvider))

		return
	}

	runID, err := parseRemoteID(r, "run_id")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	run, err := s.store.GetCIWorkflowRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	jobs, err := s.ciClient.ListJobs(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	summary, err := s.pipeline.IngestCIRun(r.Context(), run, jobs)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, summary)
}

// handleFetchCIJobLog handles POST /api/v1/ci/jobs/{job_id}/fetch,
// downloading the job's log from the provider and storing it.
func (s *Server) handleFetchCIJobLog(w http.ResponseWriter, r *http.Request) {
	if s.ciClient == nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", storage.ErrBusy, ErrNoCIProvider))

		return
	}

	jobID, err := parseRemoteID(r, "job_id")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	log, err := s.ciClient.FetchJobLog(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := s.store.SetCIJobLog(r.Context(), jobID, string(log)); err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"job_id": jobID,
		"bytes":  len(log),
	})
}

// handleGetCIJobLog handles GET /api/v1/ci/jobs/{job_id}/log and returns
// the raw log as plain text.
func (s *Server) handleGetCIJobLog(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseRemoteID(r, "job_id")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	log, err := s.store.GetCIJobLog(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(log))
}

// handleParseCIJobLog handles GET /api/v1/ci/jobs/{job_id}/parse. It runs
// the stored log through the log parser without refetching.
func (s *Server) handleParseCIJobLog(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseRemoteID(r, "job_id")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	log, err := s.store.GetCIJobLog(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	data := parser.ParseCILog(log)

	response := ciLogParseResponse{
		JobID: jobID,
		Summary: ciLogSummary{
			Passed:  data.Summary.Passed,
			Failed:  data.Summary.Failed,
			Skipped: data.Summary.Skipped,
			Errors:  data.Summary.Errors,
		},
		FoundSummary:    data.FoundSummary,
		Failures:        make([]ciLogFailure, 0, len(data.Failures)),
		CoveragePercent: data.CoveragePercent,
		FoundCoverage:   data.FoundCoverage,
		LintLines:       data.LintLines,
	}

	for _, failure := range data.Failures {
		response.Failures = append(response.Failures, ciLogFailure{
			NodeID:    failure.NodeID,
			ErrorText: failure.ErrorText,
		})
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

func parseRemoteID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}

	return id, nil
}
