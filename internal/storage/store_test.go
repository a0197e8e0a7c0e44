package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore opens a store over a fresh database file in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()

	conn, err := NewConnection(&Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to open connection: %v", err)
	}

	t.Cleanup(func() { _ = conn.Close() })

	store, err := NewStore(ctx, conn)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	return store
}

func historyRow(entityID, executionID string, status Status, ts time.Time) *ExecutionHistory {
	return &ExecutionHistory{
		EntityID:        entityID,
		EntityType:      EntityTest,
		ExecutionID:     executionID,
		Timestamp:       ts,
		Status:          status,
		DurationSeconds: 0.25,
		Space:           SpaceLocal,
	}
}

func mustInsertHistory(t *testing.T, store *Store, rows ...*ExecutionHistory) {
	t.Helper()

	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		if _, err := tx.InsertExecutionHistory(ctx, row); err != nil {
			t.Fatalf("failed to insert history row: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

func TestSchemaInstallation(t *testing.T) {
	store := newTestStore(t)

	version, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("failed to read schema version: %v", err)
	}

	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestSchemaInstallationIsIdempotent(t *testing.T) {
	ctx := context.Background()

	conn, err := NewConnection(&Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to open connection: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		if _, err := NewStore(ctx, conn); err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}
	}
}

func TestExecutionHistoryDuplicateRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mustInsertHistory(t, store, historyRow("tests/test_a.py::test_x", "local-20260824-120000", StatusPassed, now))

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.InsertExecutionHistory(ctx,
		historyRow("tests/test_a.py::test_x", "local-20260824-120000", StatusFailed, now))
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("duplicate insert error = %v, want ErrConstraint", err)
	}
	_ = tx.Rollback()

	// The first row must be intact.
	rows, err := store.GetExecutionHistory(ctx, HistoryFilter{EntityID: "tests/test_a.py::test_x"})
	if err != nil {
		t.Fatalf("failed to query history: %v", err)
	}

	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}

	if rows[0].Status != StatusPassed {
		t.Errorf("status = %s, want PASSED", rows[0].Status)
	}
}

func TestExecutionHistoryIgnoreDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	row := historyRow("tests/test_a.py::test_x", "ci-991-unit", StatusPassed, time.Now().UTC())
	row.Space = SpaceCI

	for i, wantInserted := range []bool{true, false} {
		tx, err := store.Begin(ctx)
		if err != nil {
			t.Fatalf("failed to begin: %v", err)
		}

		inserted, err := tx.InsertExecutionHistoryIgnoreDuplicate(ctx, row)
		if err != nil {
			t.Fatalf("attempt %d failed: %v", i, err)
		}

		if inserted != wantInserted {
			t.Errorf("attempt %d inserted = %v, want %v", i, inserted, wantInserted)
		}

		if err := tx.Commit(); err != nil {
			t.Fatalf("failed to commit: %v", err)
		}
	}
}

func TestExecutionHistorySpaceIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	local := historyRow("tests/test_a.py::test_x", "local-20260824-120000", StatusPassed, now)
	ci := historyRow("tests/test_a.py::test_x", "ci-991-unit", StatusFailed, now.Add(time.Minute))
	ci.Space = SpaceCI

	mustInsertHistory(t, store, local, ci)

	tests := []struct {
		name       string
		space      Space
		wantStatus Status
	}{
		{name: "local only", space: SpaceLocal, wantStatus: StatusPassed},
		{name: "ci only", space: SpaceCI, wantStatus: StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := store.GetExecutionHistory(ctx, HistoryFilter{Space: tt.space})
			if err != nil {
				t.Fatalf("failed to query: %v", err)
			}

			if len(rows) != 1 {
				t.Fatalf("got %d rows, want 1", len(rows))
			}

			if rows[0].Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", rows[0].Status, tt.wantStatus)
			}
		})
	}

	all, err := store.GetExecutionHistory(ctx, HistoryFilter{})
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}

	if len(all) != 2 {
		t.Errorf("unfiltered got %d rows, want 2", len(all))
	}
}

func TestExecutionHistoryOrderingAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	mustInsertHistory(t, store,
		historyRow("e", "local-20260824-120000", StatusPassed, base),
		historyRow("e", "local-20260824-120100", StatusFailed, base.Add(time.Minute)),
		historyRow("e", "local-20260824-120200", StatusPassed, base.Add(2*time.Minute)),
	)

	rows, err := store.GetExecutionHistory(ctx, HistoryFilter{EntityID: "e", Limit: 2})
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	if rows[0].ExecutionID != "local-20260824-120200" || rows[1].ExecutionID != "local-20260824-120100" {
		t.Errorf("unexpected order: %s, %s", rows[0].ExecutionID, rows[1].ExecutionID)
	}
}

func TestTransactionRollbackLeavesNoRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}

	if _, err := tx.InsertExecutionHistory(ctx,
		historyRow("e", "local-20260824-120000", StatusPassed, time.Now().UTC())); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	if _, err := tx.InsertCoverageHistory(ctx, &CoverageHistory{
		ExecutionID:       "local-20260824-120000",
		FilePath:          "src/app.py",
		Timestamp:         time.Now().UTC(),
		TotalStatements:   10,
		CoveredStatements: 7,
		Space:             SpaceLocal,
	}); err != nil {
		t.Fatalf("failed to insert coverage: %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("failed to rollback: %v", err)
	}

	rows, err := store.GetExecutionHistory(ctx, HistoryFilter{})
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}

	if len(rows) != 0 {
		t.Errorf("history rows after rollback = %d, want 0", len(rows))
	}

	cov, err := store.GetCoverageHistory(ctx, CoverageFilter{})
	if err != nil {
		t.Fatalf("failed to query coverage: %v", err)
	}

	if len(cov) != 0 {
		t.Errorf("coverage rows after rollback = %d, want 0", len(cov))
	}
}

func TestRollbackAfterCommitIsNoOp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Errorf("rollback after commit = %v, want nil", err)
	}
}

func TestPruneExecutionHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mustInsertHistory(t, store,
		historyRow("old", "local-20250101-120000", StatusPassed, now.AddDate(0, 0, -120)),
		historyRow("fresh", "local-20260824-120000", StatusPassed, now),
	)

	deleted, affected, err := store.PruneExecutionHistoryOlderThan(ctx, 90)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}

	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if len(affected) != 1 || affected[0] != "old" {
		t.Errorf("affected = %v, want [old]", affected)
	}

	rows, err := store.GetExecutionHistory(ctx, HistoryFilter{})
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}

	if len(rows) != 1 || rows[0].EntityID != "fresh" {
		t.Errorf("surviving rows = %v", rows)
	}
}

func TestListEntityIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mustInsertHistory(t, store,
		historyRow("b", "local-20260824-120000", StatusPassed, now),
		historyRow("a", "local-20260824-120000", StatusPassed, now),
		historyRow("a", "local-20260824-120100", StatusPassed, now.Add(time.Minute)),
	)

	ids, err := store.ListEntityIDs(ctx, EntityTest)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}

	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ids = %v, want [a b]", ids)
	}
}
