package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func upsertStats(t *testing.T, store *Store, stats ...*EntityStatistics) {
	t.Helper()

	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range stats {
		if err := tx.UpsertEntityStatistics(ctx, s); err != nil {
			t.Fatalf("failed to upsert stats: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

func TestEntityStatisticsUpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	upsertStats(t, store, &EntityStatistics{
		EntityID:    "tests/test_a.py::test_x",
		EntityType:  EntityTest,
		TotalRuns:   4,
		Passed:      3,
		Failed:      1,
		FailureRate: 0.25,
		AvgDuration: 0.5,
		LastRun:     now,
		LastFailure: now.Add(-time.Hour),
	})

	upsertStats(t, store, &EntityStatistics{
		EntityID:    "tests/test_a.py::test_x",
		EntityType:  EntityTest,
		TotalRuns:   5,
		Passed:      4,
		Failed:      1,
		FailureRate: 0.2,
		AvgDuration: 0.45,
		LastRun:     now.Add(time.Minute),
		LastFailure: now.Add(-time.Hour),
	})

	got, err := store.GetEntityStatistics(ctx, "tests/test_a.py::test_x")
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}

	if got.TotalRuns != 5 || got.FailureRate != 0.2 {
		t.Errorf("stats = %+v, want replaced tuple", got)
	}
}

func TestGetEntityStatisticsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEntityStatistics(context.Background(), "no-such-entity")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("get unknown entity = %v, want ErrNotFound", err)
	}
}

func TestListEntityStatisticsOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	upsertStats(t, store,
		&EntityStatistics{EntityID: "b", EntityType: EntityTest, TotalRuns: 10, FailureRate: 0.5},
		&EntityStatistics{EntityID: "a", EntityType: EntityTest, TotalRuns: 10, FailureRate: 0.5},
		&EntityStatistics{EntityID: "c", EntityType: EntityTest, TotalRuns: 4, FailureRate: 0.9},
		&EntityStatistics{EntityID: "d", EntityType: EntityLintFile, TotalRuns: 20, FailureRate: 1},
	)

	got, err := store.ListEntityStatistics(ctx, EntityTest)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}

	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}

	for i, id := range want {
		if got[i].EntityID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].EntityID, id)
		}
	}
}

func TestDeleteEntityStatistics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	upsertStats(t, store, &EntityStatistics{EntityID: "gone", EntityType: EntityTest, TotalRuns: 1})

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.DeleteEntityStatistics(ctx, "gone"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	if _, err := store.GetEntityStatistics(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}
