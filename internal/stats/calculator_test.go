package stats

import (
	"context"
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

func historyRows(statuses ...storage.Status) []storage.ExecutionHistory {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	rows := make([]storage.ExecutionHistory, 0, len(statuses))

	// Most recent first, as the store returns them.
	for i, status := range statuses {
		rows = append(rows, storage.ExecutionHistory{
			EntityID:        "e",
			EntityType:      storage.EntityTest,
			ExecutionID:     fmt.Sprintf("local-20260824-%06d", len(statuses)-i),
			Timestamp:       base.Add(-time.Duration(i) * time.Minute),
			Status:          status,
			DurationSeconds: 1,
			Space:           storage.SpaceLocal,
		})
	}

	return rows
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		statuses []storage.Status
		window   int
		want     storage.EntityStatistics
	}{
		{
			name:     "all time",
			statuses: []storage.Status{storage.StatusFailed, storage.StatusPassed, storage.StatusPassed, storage.StatusSkipped},
			window:   0,
			want:     storage.EntityStatistics{TotalRuns: 4, Passed: 2, Failed: 1, Skipped: 1, FailureRate: 0.25},
		},
		{
			name:     "windowed",
			statuses: []storage.Status{storage.StatusFailed, storage.StatusFailed, storage.StatusPassed, storage.StatusPassed},
			window:   2,
			want:     storage.EntityStatistics{TotalRuns: 2, Failed: 2, FailureRate: 1},
		},
		{
			name:     "window larger than history",
			statuses: []storage.Status{storage.StatusPassed},
			window:   10,
			want:     storage.EntityStatistics{TotalRuns: 1, Passed: 1},
		},
		{
			name:     "error counts as failure",
			statuses: []storage.Status{storage.StatusError, storage.StatusPassed},
			window:   0,
			want:     storage.EntityStatistics{TotalRuns: 2, Passed: 1, Failed: 1, FailureRate: 0.5},
		},
		{
			name:     "empty history",
			statuses: nil,
			window:   0,
			want:     storage.EntityStatistics{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute("e", storage.EntityTest, historyRows(tt.statuses...), tt.window)

			if got.TotalRuns != tt.want.TotalRuns || got.Passed != tt.want.Passed ||
				got.Failed != tt.want.Failed || got.Skipped != tt.want.Skipped ||
				got.FailureRate != tt.want.FailureRate {
				t.Errorf("Compute() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestComputeAvgDurationAndTimestamps(t *testing.T) {
	rows := historyRows(storage.StatusFailed, storage.StatusPassed)
	rows[0].DurationSeconds = 3
	rows[1].DurationSeconds = 1

	got := Compute("e", storage.EntityTest, rows, 0)

	if got.AvgDuration != 2 {
		t.Errorf("avg duration = %v, want 2", got.AvgDuration)
	}

	if !got.LastRun.Equal(rows[0].Timestamp) {
		t.Errorf("last run = %v, want %v", got.LastRun, rows[0].Timestamp)
	}

	if !got.LastFailure.Equal(rows[0].Timestamp) {
		t.Errorf("last failure = %v, want %v", got.LastFailure, rows[0].Timestamp)
	}
}

// Identical history must always produce identical statistics.
func TestComputeIsDeterministic(t *testing.T) {
	rows := historyRows(storage.StatusFailed, storage.StatusPassed, storage.StatusSkipped)

	first := Compute("e", storage.EntityTest, rows, 0)

	for i := 0; i < 5; i++ {
		if got := Compute("e", storage.EntityTest, rows, 0); got != first {
			t.Fatalf("run %d produced %+v, first run produced %+v", i, got, first)
		}
	}
}

func insertHistory(t *testing.T, store *storage.Store, entityID string, statuses []storage.Status) {
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
			EntityID:        entityID,
			EntityType:      storage.EntityTest,
			ExecutionID:     fmt.Sprintf("local-20260824-%06d", i),
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
			Status:          status,
			DurationSeconds: 0.5,
			Space:           storage.SpaceLocal,
		})
		if err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

func TestRecomputeEntityWithinTransaction(t *testing.T) {
	store := newTestStore(t)
	calc := NewCalculator(store)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Rows written in this transaction must be visible to the recompute.
	for i, status := range []storage.Status{storage.StatusPassed, storage.StatusFailed} {
		_, err := tx.InsertExecutionHistory(ctx, &storage.ExecutionHistory{
			EntityID:    "e",
			EntityType:  storage.EntityTest,
			ExecutionID: fmt.Sprintf("local-20260824-%06d", i),
			Timestamp:   time.Now().UTC(),
			Status:      status,
			Space:       storage.SpaceLocal,
		})
		if err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
	}

	if err := calc.RecomputeEntity(ctx, tx, "e", storage.EntityTest); err != nil {
		t.Fatalf("failed to recompute: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	stats, err := store.GetEntityStatistics(ctx, "e")
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}

	if stats.TotalRuns != 2 || stats.FailureRate != 0.5 {
		t.Errorf("stats = %+v, want total=2 rate=0.5", stats)
	}
}

func TestGetFlaky(t *testing.T) {
	store := newTestStore(t)
	calc := NewCalculator(store)
	ctx := context.Background()

	insertHistory(t, store, "steady", []storage.Status{
		storage.StatusPassed, storage.StatusPassed, storage.StatusPassed, storage.StatusPassed,
	})
	insertHistory(t, store, "flaky-high", []storage.Status{
		storage.StatusFailed, storage.StatusFailed, storage.StatusPassed, storage.StatusFailed,
	})
	insertHistory(t, store, "flaky-low", []storage.Status{
		storage.StatusFailed, storage.StatusPassed, storage.StatusPassed, storage.StatusFailed,
	})
	// Only one run: below the max(2, window/2) floor regardless of rate.
	insertHistory(t, store, "too-few", []storage.Status{storage.StatusFailed})

	flaky, err := calc.GetFlaky(ctx, storage.EntityTest, 0.3, 10, "")
	if err != nil {
		t.Fatalf("failed to get flaky: %v", err)
	}

	if len(flaky) != 2 {
		t.Fatalf("got %d flaky entities, want 2: %+v", len(flaky), flaky)
	}

	if flaky[0].EntityID != "flaky-high" || flaky[1].EntityID != "flaky-low" {
		t.Errorf("order = %s, %s, want flaky-high, flaky-low", flaky[0].EntityID, flaky[1].EntityID)
	}
}

func TestGetFlakyIsReproducible(t *testing.T) {
	store := newTestStore(t)
	calc := NewCalculator(store)
	ctx := context.Background()

	// Two entities with identical rates and run counts; entity id breaks the tie.
	insertHistory(t, store, "b", []storage.Status{storage.StatusFailed, storage.StatusPassed})
	insertHistory(t, store, "a", []storage.Status{storage.StatusFailed, storage.StatusPassed})

	first, err := calc.GetFlaky(ctx, storage.EntityTest, 0.5, 4, "")
	if err != nil {
		t.Fatalf("failed to get flaky: %v", err)
	}

	if len(first) != 2 || first[0].EntityID != "a" {
		t.Fatalf("unexpected first result: %+v", first)
	}

	for i := 0; i < 3; i++ {
		again, err := calc.GetFlaky(ctx, storage.EntityTest, 0.5, 4, "")
		if err != nil {
			t.Fatalf("failed to get flaky: %v", err)
		}

		if len(again) != len(first) {
			t.Fatalf("run %d returned %d entities, first returned %d", i, len(again), len(first))
		}

		for j := range again {
			if again[j].EntityID != first[j].EntityID {
				t.Errorf("run %d position %d = %s, want %s", i, j, again[j].EntityID, first[j].EntityID)
			}
		}
	}
}

func TestEntityStatsWindowed(t *testing.T) {
	store := newTestStore(t)
	calc := NewCalculator(store)
	ctx := context.Background()

	// Oldest to newest: two failures then three passes.
	insertHistory(t, store, "e", []storage.Status{
		storage.StatusFailed, storage.StatusFailed,
		storage.StatusPassed, storage.StatusPassed, storage.StatusPassed,
	})

	windowed, err := calc.EntityStats(ctx, "e", 3)
	if err != nil {
		t.Fatalf("failed to get windowed stats: %v", err)
	}

	if windowed.TotalRuns != 3 || windowed.FailureRate != 0 {
		t.Errorf("windowed stats = %+v, want 3 runs all passed", windowed)
	}
}
