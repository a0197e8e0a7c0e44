// Package stats rolls ExecutionHistory rows up into per-entity aggregates.
// Every computation is a deterministic function of the history it is given.
package stats

import (
	"context"
	"fmt"
	"sort"

	"github.com/argos-io/argos/internal/storage"
)

// Calculator computes EntityStatistics from execution history.
type Calculator struct {
	store *storage.Store
}

// NewCalculator returns a calculator reading from the given store.
func NewCalculator(store *storage.Store) *Calculator {
	return &Calculator{store: store}
}

// Compute aggregates history rows into one statistics tuple. Rows must be
// ordered most recent first; a positive window restricts the aggregation to
// the first window rows. With fewer rows than the window, all available rows
// count.
func Compute(entityID string, entityType storage.EntityType, rows []storage.ExecutionHistory, window int) storage.EntityStatistics {
	if window > 0 && len(rows) > window {
		rows = rows[:window]
	}

	stats := storage.EntityStatistics{
		EntityID:   entityID,
		EntityType: entityType,
		TotalRuns:  len(rows),
	}

	var totalDuration float64

	for _, row := range rows {
		switch {
		case row.Status == storage.StatusPassed:
			stats.Passed++
		case row.Status.IsFailure():
			stats.Failed++

			if row.Timestamp.After(stats.LastFailure) {
				stats.LastFailure = row.Timestamp
			}
		case row.Status == storage.StatusSkipped:
			stats.Skipped++
		}

		if row.Timestamp.After(stats.LastRun) {
			stats.LastRun = row.Timestamp
		}

		totalDuration += row.DurationSeconds
	}

	if stats.TotalRuns > 0 {
		stats.FailureRate = float64(stats.Failed) / float64(stats.TotalRuns)
		stats.AvgDuration = totalDuration / float64(stats.TotalRuns)
	}

	return stats
}

// RecomputeEntity refreshes the all-time rollup of one entity within the
// ingest transaction, so the statistics commit atomically with the history
// rows they derive from. An entity left without history (retention pruning)
// loses its rollup row.
func (c *Calculator) RecomputeEntity(ctx context.Context, tx *storage.Tx, entityID string, entityType storage.EntityType) error {
	rows, err := tx.GetEntityHistory(ctx, entityID, 0)
	if err != nil {
		return fmt.Errorf("failed to read history for %s: %w", entityID, err)
	}

	if len(rows) == 0 {
		return tx.DeleteEntityStatistics(ctx, entityID)
	}

	stats := Compute(entityID, entityType, rows, 0)

	return tx.UpsertEntityStatistics(ctx, &stats)
}

// EntityStats returns the statistics of one entity. A positive window
// recomputes over the most recent window rows; window 0 returns the stored
// all-time rollup.
func (c *Calculator) EntityStats(ctx context.Context, entityID string, window int) (*storage.EntityStatistics, error) {
	if window <= 0 {
		return c.store.GetEntityStatistics(ctx, entityID)
	}

	rows, err := c.store.GetExecutionHistory(ctx, storage.HistoryFilter{
		EntityID: entityID,
		Limit:    window,
	})
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("entity %q: %w", entityID, storage.ErrNotFound)
	}

	stats := Compute(entityID, rows[0].EntityType, rows, window)

	return &stats, nil
}

// GetFlaky returns the entities whose windowed failure rate reaches the
// threshold, with enough runs to be meaningful: total_runs must be at least
// max(2, window/2). Sorted by descending failure rate, then descending total
// runs, then entity id, so identical inputs always produce identical output.
func (c *Calculator) GetFlaky(ctx context.Context, entityType storage.EntityType, threshold float64, window int, space storage.Space) ([]storage.EntityStatistics, error) {
	ids, err := c.store.ListEntityIDs(ctx, entityType)
	if err != nil {
		return nil, err
	}

	minRuns := window / 2
	if minRuns < 2 {
		minRuns = 2
	}

	var flaky []storage.EntityStatistics

	for _, id := range ids {
		rows, err := c.store.GetExecutionHistory(ctx, storage.HistoryFilter{
			EntityID: id,
			Space:    space,
			Limit:    window,
		})
		if err != nil {
			return nil, err
		}

		stats := Compute(id, entityType, rows, window)

		if stats.TotalRuns >= minRuns && stats.FailureRate >= threshold {
			flaky = append(flaky, stats)
		}
	}

	sort.SliceStable(flaky, func(i, j int) bool {
		if flaky[i].FailureRate != flaky[j].FailureRate {
			return flaky[i].FailureRate > flaky[j].FailureRate
		}

		if flaky[i].TotalRuns != flaky[j].TotalRuns {
			return flaky[i].TotalRuns > flaky[j].TotalRuns
		}

		return flaky[i].EntityID < flaky[j].EntityID
	})

	return flaky, nil
}
