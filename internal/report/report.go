// Package report renders query results into HTML and Markdown documents.
// Rendering is pure: identical inputs produce byte-identical output, and no
// clock is consulted.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/argos-io/argos/internal/storage"
)

type (
	// TrendPoint is one day of outcomes in a trend series.
	TrendPoint struct {
		Date   string `json:"date"`
		Passed int    `json:"passed"`
		Failed int    `json:"failed"`
	}

	// FlakyEntry is one flaky entity listed on the test report.
	FlakyEntry struct {
		EntityID    string
		FailureRate float64
		TotalRuns   int
	}

	// SlowEntry is one slow test listed on the test report.
	SlowEntry struct {
		EntityID    string
		AvgDuration float64
	}

	// TestReport is the input of the test-execution renderers.
	TestReport struct {
		Total       int
		Passed      int
		Failed      int
		Skipped     int
		Errors      int
		SuccessRate float64
		AvgDuration float64
		Trend       []TrendPoint
		Flaky       []FlakyEntry
		Slowest     []SlowEntry
	}
)

const trendDays = 7

// BuildTestReport aggregates execution-history rows into the test report
// shape. flaky comes straight from the statistics calculator; the slowest
// list is the topN entities by mean duration over the given rows.
func BuildTestReport(rows []storage.ExecutionHistory, flaky []storage.EntityStatistics, topN int) *TestReport {
	r := &TestReport{}

	type entityAgg struct {
		total    float64
		count    int
		entityID string
	}

	perEntity := map[string]*entityAgg{}
	perDay := map[string]*TrendPoint{}

	var durationTotal float64

	for _, row := range rows {
		r.Total++

		switch row.Status {
		case storage.StatusPassed:
			r.Passed++
		case storage.StatusFailed:
			r.Failed++
		case storage.StatusSkipped:
			r.Skipped++
		case storage.StatusError:
			r.Errors++
		}

		durationTotal += row.DurationSeconds

		agg := perEntity[row.EntityID]
		if agg == nil {
			agg = &entityAgg{entityID: row.EntityID}
			perEntity[row.EntityID] = agg
		}

		agg.total += row.DurationSeconds
		agg.count++

		day := row.Timestamp.UTC().Format("2006-01-02")

		point := perDay[day]
		if point == nil {
			point = &TrendPoint{Date: day}
			perDay[day] = point
		}

		if row.Status == storage.StatusPassed {
			point.Passed++
		} else if row.Status.IsFailure() {
			point.Failed++
		}
	}

	if r.Total > 0 {
		r.SuccessRate = round2(float64(r.Passed) / float64(r.Total) * 100)
		r.AvgDuration = round2(durationTotal / float64(r.Total))
	}

	days := make([]string, 0, len(perDay))
	for day := range perDay {
		days = append(days, day)
	}

	sort.Strings(days)

	if len(days) > trendDays {
		days = days[len(days)-trendDays:]
	}

	for _, day := range days {
		r.Trend = append(r.Trend, *perDay[day])
	}

	for _, row := range flaky {
		r.Flaky = append(r.Flaky, FlakyEntry{
			EntityID:    row.EntityID,
			FailureRate: row.FailureRate,
			TotalRuns:   row.TotalRuns,
		})
	}

	entities := make([]*entityAgg, 0, len(perEntity))
	for _, agg := range perEntity {
		entities = append(entities, agg)
	}

	sort.Slice(entities, func(i, j int) bool {
		left := entities[i].total / float64(entities[i].count)
		right := entities[j].total / float64(entities[j].count)

		if left != right {
			return left > right
		}

		return entities[i].entityID < entities[j].entityID
	})

	if topN > 0 && len(entities) > topN {
		entities = entities[:topN]
	}

	for _, agg := range entities {
		r.Slowest = append(r.Slowest, SlowEntry{
			EntityID:    agg.entityID,
			AvgDuration: round2(agg.total / float64(agg.count)),
		})
	}

	return r
}

// chartJSON inlines a series for the client-side chart library. Marshalling
// sorted slices keeps the output stable.
func chartJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode chart data: %w", err)
	}

	return string(data), nil
}

// deltaArrow renders the direction of a CI-vs-local delta: ci below local
// is an improvement arrow, above is a worsening arrow.
func deltaArrow(local, ci int) string {
	switch {
	case ci < local:
		return "↓"
	case ci > local:
		return "↑"
	default:
		return "="
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func percentBar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}

	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
