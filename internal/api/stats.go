package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/argos-io/argos/internal/storage"
)

const (
	defaultFlakyThreshold = 0.1
	defaultFlakyWindow    = 10
)

type (
	// statsRecord is the wire form of one entity's rollup.
	statsRecord struct {
		EntityID    string    `json:"entity_id"`
		EntityType  string    `json:"entity_type"`
		TotalRuns   int       `json:"total_runs"`
		Passed      int       `json:"passed"`
		Failed      int       `json:"failed"`
		Skipped     int       `json:"skipped"`
		FailureRate float64   `json:"failure_rate"`
		AvgDuration float64   `json:"avg_duration"`
		LastRun     time.Time `json:"last_run,omitzero"`
		LastFailure time.Time `json:"last_failure,omitzero"`
	}
)

func statsToRecord(row *storage.EntityStatistics) statsRecord {
	return statsRecord{
		EntityID:    row.EntityID,
		EntityType:  string(row.EntityType),
		TotalRuns:   row.TotalRuns,
		Passed:      row.Passed,
		Failed:      row.Failed,
		Skipped:     row.Skipped,
		FailureRate: row.FailureRate,
		AvgDuration: row.AvgDuration,
		LastRun:     row.LastRun,
		LastFailure: row.LastFailure,
	}
}

// handleEntityStats handles GET /api/v1/stats/entity?entity_id=X&window=N.
// Without a window the stored all-time rollup is returned; with one, the
// statistics are recomputed over the most recent N runs.
func (s *Server) handleEntityStats(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("entity_id is required"))

		return
	}

	window := 0

	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			WriteErrorResponse(w, r, s.logger, BadRequest(fmt.Sprintf("invalid window %q", raw)))

			return
		}

		window = parsed
	}

	row, err := s.calc.EntityStats(r.Context(), entityID, window)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, statsToRecord(row))
}

// handleFlaky handles GET /api/v1/stats/flaky.
//
// Query parameters: threshold in (0,1] (default 0.1), window >= 2 (default
// 10), type (default test), space.
func (s *Server) handleFlaky(w http.ResponseWriter, r *http.Request) {
	threshold := defaultFlakyThreshold

	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 || parsed > 1 {
			WriteErrorResponse(w, r, s.logger, BadRequest(fmt.Sprintf("invalid threshold %q, want (0,1]", raw)))

			return
		}

		threshold = parsed
	}

	window := defaultFlakyWindow

	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 2 {
			WriteErrorResponse(w, r, s.logger, BadRequest(fmt.Sprintf("invalid window %q, want >= 2", raw)))

			return
		}

		window = parsed
	}

	entityType := storage.EntityTest
	if raw := r.URL.Query().Get("type"); raw != "" {
		entityType = storage.EntityType(raw)
	}

	space, err := parseSpace(r.URL.Query().Get("space"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	flaky, err := s.calc.GetFlaky(r.Context(), entityType, threshold, window, space)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	records := make([]statsRecord, 0, len(flaky))
	for i := range flaky {
		records = append(records, statsToRecord(&flaky[i]))
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"threshold": threshold,
		"window":    window,
		"flaky":     records,
	})
}
