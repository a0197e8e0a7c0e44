package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/argos-io/argos/internal/rules"
	"github.com/argos-io/argos/internal/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type (
	// executionRecord is the wire form of one ExecutionHistory row.
	executionRecord struct {
		EntityID        string            `json:"entity_id"`
		EntityType      string            `json:"entity_type"`
		ExecutionID     string            `json:"execution_id"`
		Timestamp       time.Time         `json:"timestamp"`
		Status          string            `json:"status"`
		DurationSeconds float64           `json:"duration_seconds"`
		Space           string            `json:"space"`
		Metadata        map[string]string `json:"metadata,omitempty"`
	}

	// startExecutionRequest is the body of POST /api/v1/executions.
	startExecutionRequest struct {
		Rule         string   `json:"rule"`
		EntityType   string   `json:"entity_type,omitempty"`
		ChangedFiles []string `json:"changed_files,omitempty"`
	}

	// startExecutionResponse points the client at the progress stream.
	startExecutionResponse struct {
		ExecutionID string `json:"execution_id"`
		Rule        string `json:"rule"`
		WSURL       string `json:"ws_url"`
	}
)

// handleListExecutions handles GET /api/v1/executions.
//
// Query parameters: entity_id, entity_type, execution_id, space, since,
// until (RFC3339), limit (default 100, max 1000). Rows are ordered most
// recent first.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := storage.HistoryFilter{
		EntityID:    r.URL.Query().Get("entity_id"),
		EntityType:  storage.EntityType(r.URL.Query().Get("entity_type")),
		ExecutionID: r.URL.Query().Get("execution_id"),
	}

	space, err := parseSpace(r.URL.Query().Get("space"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter.Space = space

	filter.Since, err = parseTimeParam(r, "since")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter.Until, err = parseTimeParam(r, "until")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter.Limit, err = parseLimitParam(r, defaultListLimit)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	rows, err := s.store.GetExecutionHistory(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	records := make([]executionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, executionRecord{
			EntityID:        row.EntityID,
			EntityType:      string(row.EntityType),
			ExecutionID:     row.ExecutionID,
			Timestamp:       row.Timestamp,
			Status:          string(row.Status),
			DurationSeconds: row.DurationSeconds,
			Space:           string(row.Space),
			Metadata:        row.Metadata,
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"executions": records})
}

// handleStartExecution handles POST /api/v1/executions. It dispatches a
// rule-driven execution and returns 202 with the execution id and the
// WebSocket URL for progress.
func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("malformed request body: "+err.Error()))

		return
	}

	if req.Rule == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("rule is required"))

		return
	}

	execution, err := s.coordinator.Start(r.Context(), req.Rule, rules.Options{
		EntityType:   storage.EntityType(req.EntityType),
		ChangedFiles: req.ChangedFiles,
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, startExecutionResponse{
		ExecutionID: execution.ID,
		Rule:        execution.Rule,
		WSURL:       fmt.Sprintf("/api/v1/executions/%s/ws", execution.ID),
	})
}

// handleCancelExecution handles POST /api/v1/executions/{id}/cancel.
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	if err := s.coordinator.Cancel(executionID); err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"execution_id": executionID,
		"status":       "cancelling",
	})
}

func parseSpace(raw string) (storage.Space, error) {
	if raw == "" {
		return "", nil
	}

	space := storage.Space(raw)
	if !space.Valid() {
		return "", fmt.Errorf("invalid space %q", raw)
	}

	return space, nil
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q, want RFC3339", name, raw)
	}

	return t, nil
}

func parseLimitParam(r *http.Request, defaultLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		return 0, fmt.Errorf("invalid limit %q, want 1-%d", raw, maxListLimit)
	}

	return limit, nil
}
