package storage

import (
	"context"
	"testing"
	"time"
)

func lintViolation(executionID, filePath, code string, severity Severity) *LintViolation {
	return &LintViolation{
		ExecutionID: executionID,
		FilePath:    filePath,
		Line:        10,
		Column:      4,
		Severity:    severity,
		Code:        code,
		Message:     "message for " + code,
		Validator:   "flake8",
		Timestamp:   time.Now().UTC(),
		Space:       SpaceLocal,
	}
}

func ingestLint(t *testing.T, store *Store, summary *LintSummary, violations ...*LintViolation) {
	t.Helper()

	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.DeleteLintViolations(ctx, summary.ExecutionID, summary.Validator); err != nil {
		t.Fatalf("failed to clear violations: %v", err)
	}

	for _, v := range violations {
		if _, err := tx.InsertLintViolation(ctx, v); err != nil {
			t.Fatalf("failed to insert violation: %v", err)
		}
	}

	if err := tx.InsertLintSummary(ctx, summary); err != nil {
		t.Fatalf("failed to insert summary: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

func TestLintSummaryByCodeRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	summary := &LintSummary{
		ExecutionID:     "local-20260824-120000",
		Timestamp:       time.Now().UTC(),
		Validator:       "flake8",
		FilesScanned:    2,
		TotalViolations: 3,
		Errors:          1,
		Warnings:        2,
		ByCode:          map[string]int{"E501": 2, "W291": 1},
		Space:           SpaceLocal,
	}

	ingestLint(t, store, summary,
		lintViolation("local-20260824-120000", "src/a.py", "E501", SeverityError),
		lintViolation("local-20260824-120000", "src/a.py", "E501", SeverityError),
		lintViolation("local-20260824-120000", "src/b.py", "W291", SeverityWarning),
	)

	got, err := store.GetLintSummaries(ctx, LintFilter{ExecutionID: "local-20260824-120000"})
	if err != nil {
		t.Fatalf("failed to query summaries: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d summaries, want 1", len(got))
	}

	if got[0].ByCode["E501"] != 2 || got[0].ByCode["W291"] != 1 {
		t.Errorf("by_code = %v, want map[E501:2 W291:1]", got[0].ByCode)
	}

	violations, err := store.GetLintViolations(ctx, LintFilter{ExecutionID: "local-20260824-120000"})
	if err != nil {
		t.Fatalf("failed to query violations: %v", err)
	}

	if len(violations) != 3 {
		t.Errorf("got %d violations, want 3", len(violations))
	}
}

// Re-ingesting the same execution must replace its rows, keeping the summary
// consistent with the violation multiset instead of accumulating duplicates.
func TestLintReingestConverges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	summary := &LintSummary{
		ExecutionID:     "ci-991",
		Timestamp:       time.Now().UTC(),
		Validator:       "flake8",
		FilesScanned:    1,
		TotalViolations: 1,
		Errors:          1,
		ByCode:          map[string]int{"E501": 1},
		Space:           SpaceCI,
	}
	v := lintViolation("ci-991", "src/a.py", "E501", SeverityError)
	v.Space = SpaceCI

	for i := 0; i < 2; i++ {
		ingestLint(t, store, summary, v)
	}

	violations, err := store.GetLintViolations(ctx, LintFilter{ExecutionID: "ci-991"})
	if err != nil {
		t.Fatalf("failed to query violations: %v", err)
	}

	if len(violations) != 1 {
		t.Errorf("violations after re-ingest = %d, want 1", len(violations))
	}

	summaries, err := store.GetLintSummaries(ctx, LintFilter{ExecutionID: "ci-991"})
	if err != nil {
		t.Fatalf("failed to query summaries: %v", err)
	}

	if len(summaries) != 1 {
		t.Errorf("summaries after re-ingest = %d, want 1", len(summaries))
	}
}

func TestCodeQualityMetricsAcrossScans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	scans := []struct {
		executionID string
		codes       []string
	}{
		{executionID: "local-20260824-120000", codes: []string{"E501", "E501", "W291"}},
		{executionID: "local-20260824-130000", codes: []string{"W291"}},
	}

	for _, scan := range scans {
		tx, err := store.Begin(ctx)
		if err != nil {
			t.Fatalf("failed to begin: %v", err)
		}

		for _, code := range scan.codes {
			severity := SeverityWarning
			if code[0] == 'E' {
				severity = SeverityError
			}

			if _, err := tx.InsertLintViolation(ctx,
				lintViolation(scan.executionID, "src/a.py", code, severity)); err != nil {
				t.Fatalf("failed to insert violation: %v", err)
			}
		}

		if err := tx.UpsertCodeQualityMetrics(ctx, "src/a.py", "flake8", now); err != nil {
			t.Fatalf("failed to upsert metrics: %v", err)
		}

		if err := tx.Commit(); err != nil {
			t.Fatalf("failed to commit: %v", err)
		}
	}

	metrics, err := store.GetCodeQualityMetrics(ctx, "src/a.py", "flake8")
	if err != nil {
		t.Fatalf("failed to get metrics: %v", err)
	}

	if metrics.TotalScans != 2 {
		t.Errorf("total_scans = %d, want 2", metrics.TotalScans)
	}

	if metrics.TotalViolations != 4 {
		t.Errorf("total_violations = %d, want 4", metrics.TotalViolations)
	}

	if metrics.AvgViolationsPerScan != 2 {
		t.Errorf("avg_violations_per_scan = %v, want 2", metrics.AvgViolationsPerScan)
	}

	// E501 and W291 both occur twice; the alphabetically smaller code wins.
	if metrics.MostCommonCode != "E501" {
		t.Errorf("most_common_code = %q, want E501", metrics.MostCommonCode)
	}
}
