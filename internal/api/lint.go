package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/argos-io/argos/internal/storage"
)

const comparisonScanLimit = 200

type (
	// lintSummaryRecord is the wire form of one validator's scan summary.
	lintSummaryRecord struct {
		ExecutionID     string         `json:"execution_id"`
		Timestamp       time.Time      `json:"timestamp"`
		Validator       string         `json:"validator"`
		FilesScanned    int            `json:"files_scanned"`
		TotalViolations int            `json:"total_violations"`
		Errors          int            `json:"errors"`
		Warnings        int            `json:"warnings"`
		Info            int            `json:"info"`
		ByCode          map[string]int `json:"by_code"`
		Space           string         `json:"space"`
	}

	// lintViolationRecord is the wire form of one finding.
	lintViolationRecord struct {
		ExecutionID string    `json:"execution_id"`
		FilePath    string    `json:"file_path"`
		Line        int       `json:"line"`
		Column      int       `json:"column"`
		Severity    string    `json:"severity"`
		Code        string    `json:"code"`
		Message     string    `json:"message"`
		Validator   string    `json:"validator"`
		Timestamp   time.Time `json:"timestamp"`
		Space       string    `json:"space"`
	}

	// lintDelta is CI minus local for one validator's latest summaries.
	lintDelta struct {
		TotalViolations int `json:"total_violations"`
		Errors          int `json:"errors"`
		Warnings        int `json:"warnings"`
	}

	// lintComparison pairs the latest local and CI summaries of a validator.
	lintComparison struct {
		Validator string             `json:"validator"`
		Local     *lintSummaryRecord `json:"local"`
		CI        *lintSummaryRecord `json:"ci"`
		Delta     *lintDelta         `json:"delta,omitempty"`
	}
)

func lintSummaryToRecord(row *storage.LintSummary) lintSummaryRecord {
	return lintSummaryRecord{
		ExecutionID:     row.ExecutionID,
		Timestamp:       row.Timestamp,
		Validator:       row.Validator,
		FilesScanned:    row.FilesScanned,
		TotalViolations: row.TotalViolations,
		Errors:          row.Errors,
		Warnings:        row.Warnings,
		Info:            row.Info,
		ByCode:          row.ByCode,
		Space:           string(row.Space),
	}
}

func lintFilterFromQuery(r *http.Request) (storage.LintFilter, error) {
	filter := storage.LintFilter{
		ExecutionID: r.URL.Query().Get("execution_id"),
		Validator:   r.URL.Query().Get("validator"),
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

// handleLintSummaries handles GET /api/v1/lint/summaries.
func (s *Server) handleLintSummaries(w http.ResponseWriter, r *http.Request) {
	filter, err := lintFilterFromQuery(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	rows, err := s.store.GetLintSummaries(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	records := make([]lintSummaryRecord, 0, len(rows))
	for i := range rows {
		records = append(records, lintSummaryToRecord(&rows[i]))
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"summaries": records})
}

// handleLintViolations handles GET /api/v1/lint/violations.
func (s *Server) handleLintViolations(w http.ResponseWriter, r *http.Request) {
	filter, err := lintFilterFromQuery(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	rows, err := s.store.GetLintViolations(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	records := make([]lintViolationRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, lintViolationRecord{
			ExecutionID: row.ExecutionID,
			FilePath:    row.FilePath,
			Line:        row.Line,
			Column:      row.Column,
			Severity:    string(row.Severity),
			Code:        row.Code,
			Message:     row.Message,
			Validator:   row.Validator,
			Timestamp:   row.Timestamp,
			Space:       string(row.Space),
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"violations": records})
}

// handleLintComparison handles GET /api/v1/lint/comparison. For each
// validator (or only ?validator=X) the latest local summary is set against
// the latest CI summary; delta is CI minus local and present only when both
// sides exist.
func (s *Server) handleLintComparison(w http.ResponseWriter, r *http.Request) {
	validator := r.URL.Query().Get("validator")

	local, err := s.latestSummariesByValidator(r, storage.SpaceLocal, validator)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	remote, err := s.latestSummariesByValidator(r, storage.SpaceCI, validator)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	validators := map[string]struct{}{}
	for name := range local {
		validators[name] = struct{}{}
	}

	for name := range remote {
		validators[name] = struct{}{}
	}

	names := make([]string, 0, len(validators))
	for name := range validators {
		names = append(names, name)
	}

	sort.Strings(names)

	comparisons := make([]lintComparison, 0, len(names))

	for _, name := range names {
		comparison := lintComparison{Validator: name}

		if row, ok := local[name]; ok {
			record := lintSummaryToRecord(row)
			comparison.Local = &record
		}

		if row, ok := remote[name]; ok {
			record := lintSummaryToRecord(row)
			comparison.CI = &record
		}

		if comparison.Local != nil && comparison.CI != nil {
			comparison.Delta = &lintDelta{
				TotalViolations: comparison.CI.TotalViolations - comparison.Local.TotalViolations,
				Errors:          comparison.CI.Errors - comparison.Local.Errors,
				Warnings:        comparison.CI.Warnings - comparison.Local.Warnings,
			}
		}

		comparisons = append(comparisons, comparison)
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"comparisons": comparisons})
}

// latestSummariesByValidator returns the most recent summary per validator
// in one space. Summaries come back most recent first, so the first row
// seen per validator wins.
func (s *Server) latestSummariesByValidator(r *http.Request, space storage.Space, validator string) (map[string]*storage.LintSummary, error) {
	rows, err := s.store.GetLintSummaries(r.Context(), storage.LintFilter{
		Validator: validator,
		Space:     space,
		Limit:     comparisonScanLimit,
	})
	if err != nil {
		return nil, err
	}

	latest := map[string]*storage.LintSummary{}

	for i := range rows {
		if _, ok := latest[rows[i].Validator]; !ok {
			latest[rows[i].Validator] = &rows[i]
		}
	}

	return latest, nil
}
