package rules

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/argos-io/argos/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	ctx := context.Background()

	conn, err := storage.NewConnection(&storage.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to open connection: %v", err)
	}

	t.Cleanup(func() { _ = conn.Close() })

	store, err := storage.NewStore(ctx, conn)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	return store
}

// seedHistory inserts runs for an entity, oldest first.
func seedHistory(t *testing.T, store *storage.Store, entityID string, statuses ...storage.Status) {
	t.Helper()

	ctx := context.Background()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, status := range statuses {
		_, err := tx.InsertExecutionHistory(ctx, &storage.ExecutionHistory{
			EntityID:    entityID,
			EntityType:  storage.EntityTest,
			ExecutionID: fmt.Sprintf("local-20260824-1200%02d", i),
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Status:      status,
			Space:       storage.SpaceLocal,
		})
		if err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

func enabledRule(criteria storage.Criteria) *storage.ExecutionRule {
	return &storage.ExecutionRule{
		Name:     "test-rule",
		Enabled:  true,
		Criteria: criteria,
		Window:   1,
	}
}

func TestSelectAll(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	seedHistory(t, store, "tests/unit/test_a.py::test_x", storage.StatusPassed)
	seedHistory(t, store, "tests/integration/test_b.py::test_y", storage.StatusPassed)

	selection, err := engine.Select(context.Background(), enabledRule(storage.CriteriaAll), Options{})
	if err != nil {
		t.Fatalf("failed to select: %v", err)
	}

	if len(selection.EntityIDs) != 2 {
		t.Errorf("selected %v, want both entities", selection.EntityIDs)
	}
}

func TestSelectAllNarrowedByGroups(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	seedHistory(t, store, "tests/unit/test_a.py::test_x", storage.StatusPassed)
	seedHistory(t, store, "tests/unit/deep/test_c.py::test_z", storage.StatusPassed)
	seedHistory(t, store, "tests/integration/test_b.py::test_y", storage.StatusPassed)

	rule := enabledRule(storage.CriteriaAll)
	rule.Groups = []string{"tests/unit/**"}

	selection, err := engine.Select(context.Background(), rule, Options{})
	if err != nil {
		t.Fatalf("failed to select: %v", err)
	}

	want := []string{"tests/unit/deep/test_c.py::test_z", "tests/unit/test_a.py::test_x"}
	if len(selection.EntityIDs) != 2 {
		t.Fatalf("selected %v, want %v", selection.EntityIDs, want)
	}

	for i, id := range want {
		if selection.EntityIDs[i] != id {
			t.Errorf("position %d = %s, want %s", i, selection.EntityIDs[i], id)
		}
	}
}

func TestSelectFailedInLast(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	// Failed two runs ago, passed since; window 1 misses it, window 3 catches it.
	seedHistory(t, store, "recovered",
		storage.StatusFailed, storage.StatusPassed, storage.StatusPassed)
	seedHistory(t, store, "still-failing",
		storage.StatusPassed, storage.StatusPassed, storage.StatusFailed)
	seedHistory(t, store, "steady",
		storage.StatusPassed, storage.StatusPassed, storage.StatusPassed)

	tests := []struct {
		window int
		want   []string
	}{
		{window: 1, want: []string{"still-failing"}},
		{window: 3, want: []string{"recovered", "still-failing"}},
		{window: 10, want: []string{"recovered", "still-failing"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("window %d", tt.window), func(t *testing.T) {
			rule := enabledRule(storage.CriteriaFailedInLast)
			rule.Window = tt.window

			selection, err := engine.Select(context.Background(), rule, Options{})
			if err != nil {
				t.Fatalf("failed to select: %v", err)
			}

			if len(selection.EntityIDs) != len(tt.want) {
				t.Fatalf("selected %v, want %v", selection.EntityIDs, tt.want)
			}

			for i, id := range tt.want {
				if selection.EntityIDs[i] != id {
					t.Errorf("position %d = %s, want %s", i, selection.EntityIDs[i], id)
				}
			}
		})
	}
}

func TestSelectByFailureRate(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	seedHistory(t, store, "half",
		storage.StatusFailed, storage.StatusPassed, storage.StatusFailed, storage.StatusPassed)
	seedHistory(t, store, "always",
		storage.StatusFailed, storage.StatusFailed)
	seedHistory(t, store, "rare",
		storage.StatusPassed, storage.StatusPassed, storage.StatusPassed, storage.StatusFailed)

	rule := enabledRule(storage.CriteriaFailureRate)
	rule.Window = 4
	rule.Threshold = 0.5

	selection, err := engine.Select(context.Background(), rule, Options{})
	if err != nil {
		t.Fatalf("failed to select: %v", err)
	}

	// "always" has rate 1.0; "half" has 0.5; "rare" has 0.25 and drops out.
	want := []string{"always", "half"}
	if len(selection.EntityIDs) != 2 || selection.EntityIDs[0] != want[0] || selection.EntityIDs[1] != want[1] {
		t.Errorf("selected %v, want %v", selection.EntityIDs, want)
	}
}

func TestSelectChangedFiles(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	seedHistory(t, store, "tests/test_a.py::test_x", storage.StatusPassed)
	seedHistory(t, store, "tests/test_b.py::test_y", storage.StatusPassed)

	rule := enabledRule(storage.CriteriaChangedFiles)
	rule.Groups = []string{ChangedFilesVar}

	selection, err := engine.Select(context.Background(), rule, Options{
		ChangedFiles: []string{"tests/test_a.py"},
	})
	if err != nil {
		t.Fatalf("failed to select: %v", err)
	}

	if len(selection.EntityIDs) != 1 || selection.EntityIDs[0] != "tests/test_a.py::test_x" {
		t.Errorf("selected %v, want only test_a entities", selection.EntityIDs)
	}
}

func TestSelectMarkerForwardsFilters(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	seedHistory(t, store, "tests/test_a.py::test_x", storage.StatusPassed)

	rule := enabledRule(storage.CriteriaMarker)
	rule.Groups = []string{"tests/**"}
	rule.ExecutorConfig = map[string]string{"markers": "slow,integration"}

	selection, err := engine.Select(context.Background(), rule, Options{})
	if err != nil {
		t.Fatalf("failed to select: %v", err)
	}

	if len(selection.Markers) != 2 || selection.Markers[0] != "slow" {
		t.Errorf("markers = %v, want [slow integration]", selection.Markers)
	}
}

func TestSelectDisabledRule(t *testing.T) {
	engine := NewEngine(newTestStore(t))

	rule := enabledRule(storage.CriteriaAll)
	rule.Enabled = false

	_, err := engine.Select(context.Background(), rule, Options{})
	if !errors.Is(err, ErrRuleDisabled) {
		t.Errorf("error = %v, want ErrRuleDisabled", err)
	}
}

func TestSelectBadGroupPattern(t *testing.T) {
	engine := NewEngine(newTestStore(t))

	rule := enabledRule(storage.CriteriaGroup)
	rule.Groups = []string{"tests/[unclosed"}

	_, err := engine.Select(context.Background(), rule, Options{})
	if !errors.Is(err, ErrBadGroupPattern) {
		t.Errorf("error = %v, want ErrBadGroupPattern", err)
	}
}

// Evaluation must not write anything.
func TestSelectIsReadOnly(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)
	ctx := context.Background()

	seedHistory(t, store, "tests/test_a.py::test_x", storage.StatusFailed)

	before, err := store.GetExecutionHistory(ctx, storage.HistoryFilter{})
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}

	rule := enabledRule(storage.CriteriaFailedInLast)
	rule.Window = 5

	if _, err := engine.Select(ctx, rule, Options{}); err != nil {
		t.Fatalf("failed to select: %v", err)
	}

	after, err := store.GetExecutionHistory(ctx, storage.HistoryFilter{})
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}

	if len(before) != len(after) {
		t.Errorf("evaluation changed row count from %d to %d", len(before), len(after))
	}
}
