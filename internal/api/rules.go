package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/argos-io/argos/internal/storage"
)

type (
	// ruleRecord is the wire form of an execution rule.
	ruleRecord struct {
		Name           string            `json:"name"`
		Enabled        bool              `json:"enabled"`
		Criteria       string            `json:"criteria"`
		Window         int               `json:"window,omitempty"`
		Threshold      float64           `json:"threshold,omitempty"`
		Groups         []string          `json:"groups,omitempty"`
		ExecutorConfig map[string]string `json:"executor_config,omitempty"`
		CreatedAt      time.Time         `json:"created_at,omitzero"`
		UpdatedAt      time.Time         `json:"updated_at,omitzero"`
	}
)

func ruleToRecord(rule *storage.ExecutionRule) ruleRecord {
	return ruleRecord{
		Name:           rule.Name,
		Enabled:        rule.Enabled,
		Criteria:       string(rule.Criteria),
		Window:         rule.Window,
		Threshold:      rule.Threshold,
		Groups:         rule.Groups,
		ExecutorConfig: rule.ExecutorConfig,
		CreatedAt:      rule.CreatedAt,
		UpdatedAt:      rule.UpdatedAt,
	}
}

// handleListRules handles GET /api/v1/rules. Pass enabled_only=true to
// filter out disabled rules.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled_only") == "true"

	ruleRows, err := s.store.ListExecutionRules(r.Context(), enabledOnly)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	records := make([]ruleRecord, 0, len(ruleRows))
	for i := range ruleRows {
		records = append(records, ruleToRecord(&ruleRows[i]))
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"rules": records})
}

// handleGetRule handles GET /api/v1/rules/{name}.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetExecutionRule(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, ruleToRecord(rule))
}

// handlePutRule handles PUT /api/v1/rules/{name}, creating or replacing the
// named rule. The path segment wins over any name in the body.
func (s *Server) handlePutRule(w http.ResponseWriter, r *http.Request) {
	var record ruleRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("malformed request body: "+err.Error()))

		return
	}

	criteria := storage.Criteria(record.Criteria)
	if !criteria.Valid() {
		WriteErrorResponse(w, r, s.logger, BadRequest(fmt.Sprintf("unknown criteria %q", record.Criteria)))

		return
	}

	rule := &storage.ExecutionRule{
		Name:           r.PathValue("name"),
		Enabled:        record.Enabled,
		Criteria:       criteria,
		Window:         record.Window,
		Threshold:      record.Threshold,
		Groups:         record.Groups,
		ExecutorConfig: record.ExecutorConfig,
	}

	if err := s.store.InsertOrUpdateExecutionRule(r.Context(), rule); err != nil {
		s.writeError(w, r, err)

		return
	}

	stored, err := s.store.GetExecutionRule(r.Context(), rule.Name)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, ruleToRecord(stored))
}

// handleDeleteRule handles DELETE /api/v1/rules/{name}.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteExecutionRule(r.Context(), r.PathValue("name")); err != nil {
		s.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
