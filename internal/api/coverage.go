package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/argos-io/argos/internal/parser"
	"github.com/argos-io/argos/internal/storage"
)

const defaultRegressionThreshold = 1.0

type (
	// coverageSummaryRecord is the wire form of one execution's overall
	// coverage.
	coverageSummaryRecord struct {
		ExecutionID       string    `json:"execution_id"`
		Timestamp         time.Time `json:"timestamp"`
		TotalCoverage     float64   `json:"total_coverage"`
		FilesAnalyzed     int       `json:"files_analyzed"`
		TotalStatements   int       `json:"total_statements"`
		CoveredStatements int       `json:"covered_statements"`
		Space             string    `json:"space"`
	}

	// coverageFileRecord is the wire form of one file's coverage in one
	// execution.
	coverageFileRecord struct {
		ExecutionID        string    `json:"execution_id"`
		FilePath           string    `json:"file_path"`
		Timestamp          time.Time `json:"timestamp"`
		TotalStatements    int       `json:"total_statements"`
		CoveredStatements  int       `json:"covered_statements"`
		CoveragePercentage float64   `json:"coverage_percentage"`
		MissingLines       []int     `json:"missing_lines"`
		Space              string    `json:"space"`
	}

	// coverageRegressionRecord is one file whose coverage dropped past the
	// threshold between baseline and current.
	coverageRegressionRecord struct {
		FilePath        string  `json:"file_path"`
		CurrentPercent  float64 `json:"current_percent"`
		BaselinePercent float64 `json:"baseline_percent"`
		Delta           float64 `json:"delta"`
	}
)

func coverageFilterFromQuery(r *http.Request) (storage.CoverageFilter, error) {
	filter := storage.CoverageFilter{
		ExecutionID: r.URL.Query().Get("execution_id"),
		FilePath:    r.URL.Query().Get("file_path"),
	}

	space, err := parseSpace(r.URL.Query().Get("space"))
	if err != nil {
		return filter, err
	}

	filter.Space = space

	filter.Since, err = parseTimeParam(r, "since")
	if err != nil {
		return filter, err
	}

	filter.Limit, err = parseLimitParam(r, defaultListLimit)
	if err != nil {
		return filter, err
	}

	return filter, nil
}

// handleCoverageSummaries handles GET /api/v1/coverage/summaries.
func (s *Server) handleCoverageSummaries(w http.ResponseWriter, r *http.Request) {
	filter, err := coverageFilterFromQuery(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	rows, err := s.store.GetCoverageSummaries(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	records := make([]coverageSummaryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, coverageSummaryRecord{
			ExecutionID:       row.ExecutionID,
			Timestamp:         row.Timestamp,
			TotalCoverage:     row.TotalCoverage,
			FilesAnalyzed:     row.FilesAnalyzed,
			TotalStatements:   row.TotalStatements,
			CoveredStatements: row.CoveredStatements,
			Space:             string(row.Space),
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"summaries": records})
}

// handleCoverageHistory handles GET /api/v1/coverage/history.
func (s *Server) handleCoverageHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := coverageFilterFromQuery(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	rows, err := s.store.GetCoverageHistory(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	records := make([]coverageFileRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, coverageFileRecord{
			ExecutionID:        row.ExecutionID,
			FilePath:           row.FilePath,
			Timestamp:          row.Timestamp,
			TotalStatements:    row.TotalStatements,
			CoveredStatements:  row.CoveredStatements,
			CoveragePercentage: row.CoveragePercentage,
			MissingLines:       row.MissingLines,
			Space:              string(row.Space),
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"history": records})
}

// handleCoverageRegressions handles GET /api/v1/coverage/regressions.
//
// Query parameters: current and baseline (execution ids, required),
// threshold (percentage points, default 1.0). Files present on only one
// side are not regressions.
func (s *Server) handleCoverageRegressions(w http.ResponseWriter, r *http.Request) {
	currentID := r.URL.Query().Get("current")
	baselineID := r.URL.Query().Get("baseline")

	if currentID == "" || baselineID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("current and baseline execution ids are required"))

		return
	}

	threshold := defaultRegressionThreshold

	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			WriteErrorResponse(w, r, s.logger, BadRequest(fmt.Sprintf("invalid threshold %q", raw)))

			return
		}

		threshold = parsed
	}

	current, err := s.coverageDataFor(r, currentID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	baseline, err := s.coverageDataFor(r, baselineID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	regressions := parser.Regressions(current, baseline, threshold)

	records := make([]coverageRegressionRecord, 0, len(regressions))
	for _, regression := range regressions {
		records = append(records, coverageRegressionRecord{
			FilePath:        regression.FilePath,
			CurrentPercent:  regression.CurrentPercent,
			BaselinePercent: regression.BaselinePercent,
			Delta:           regression.Delta,
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"current":     currentID,
		"baseline":    baselineID,
		"threshold":   threshold,
		"regressions": records,
	})
}

// coverageDataFor rebuilds a parsed-report shape from the stored per-file
// rows of one execution so the pure diff helpers can run on it. An
// execution with no coverage rows fails with ErrNotFound.
func (s *Server) coverageDataFor(r *http.Request, executionID string) (*parser.CoverageData, error) {
	rows, err := s.store.GetCoverageHistory(r.Context(), storage.CoverageFilter{ExecutionID: executionID})
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no coverage for execution %s", storage.ErrNotFound, executionID)
	}

	data := &parser.CoverageData{FilesAnalyzed: len(rows)}

	for _, row := range rows {
		data.TotalStatements += row.TotalStatements
		data.CoveredStatements += row.CoveredStatements
		data.PerFile = append(data.PerFile, parser.FileCoverage{
			FilePath:           row.FilePath,
			TotalStatements:    row.TotalStatements,
			CoveredStatements:  row.CoveredStatements,
			CoveragePercentage: row.CoveragePercentage,
			MissingLines:       row.MissingLines,
		})
	}

	return data, nil
}
