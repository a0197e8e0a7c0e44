package api

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/argos-io/argos/internal/ingest"
	"github.com/argos-io/argos/internal/storage"
)

// ciOutcomeScan bounds how many CI rows are inspected per entity when
// resolving the most recent outcome per platform.
const ciOutcomeScan = 50

type (
	// comparisonRecord is the local-vs-CI view of one test entity.
	comparisonRecord struct {
		EntityID     string            `json:"entity_id"`
		Local        *string           `json:"local"`
		CIByPlatform map[string]string `json:"ci_by_platform"`
		Disagreement bool              `json:"disagreement"`
	}

	// platformFailureRecord is one entity that passes locally but fails on
	// at least one CI platform.
	platformFailureRecord struct {
		EntityID      string    `json:"entity_id"`
		Platforms     []string  `json:"platforms"`
		LastCIFailure time.Time `json:"last_ci_failure"`
	}
)

// handleComparison handles GET /api/v1/comparison?entity_id=X. The local
// side is the entity's most recent local outcome; the CI side is its most
// recent outcome per platform, derived from the workflow job each CI
// execution id points at.
func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("entity_id is required"))

		return
	}

	record, _, err := s.compareEntity(r, entityID, map[int64]map[int64]string{})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, record)
}

// handlePlatformFailures handles GET /api/v1/comparison/platform-failures.
// It returns test entities whose latest local outcome is PASSED while the
// latest CI outcome on at least one platform is a failure, most recent CI
// failure first.
func (s *Server) handlePlatformFailures(w http.ResponseWriter, r *http.Request) {
	entityIDs, err := s.store.ListEntityIDs(r.Context(), storage.EntityTest)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	// Job platform lookups repeat across entities of the same run, so one
	// cache serves the whole sweep.
	platformCache := map[int64]map[int64]string{}

	var failures []platformFailureRecord

	for _, entityID := range entityIDs {
		record, lastFailure, err := s.compareEntity(r, entityID, platformCache)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		if record.Local == nil || *record.Local != string(storage.StatusPassed) {
			continue
		}

		var platforms []string

		for platform, outcome := range record.CIByPlatform {
			if storage.Status(outcome).IsFailure() {
				platforms = append(platforms, platform)
			}
		}

		if len(platforms) == 0 {
			continue
		}

		sort.Strings(platforms)

		failures = append(failures, platformFailureRecord{
			EntityID:      entityID,
			Platforms:     platforms,
			LastCIFailure: lastFailure,
		})
	}

	sort.SliceStable(failures, func(i, j int) bool {
		return failures[i].LastCIFailure.After(failures[j].LastCIFailure)
	})

	if failures == nil {
		failures = []platformFailureRecord{}
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"failures": failures})
}

// handleCompareRun handles
// GET /api/v1/ci/runs/{run_id}/compare?local_execution_id=X. It compares one
// local execution's test outcomes against the per-job outcomes of one CI run,
// platform by platform.
func (s *Server) handleCompareRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRemoteID(r, "run_id")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	localExecutionID := r.URL.Query().Get("local_execution_id")
	if localExecutionID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("local_execution_id is required"))

		return
	}

	if _, err := s.store.GetCIWorkflowRun(r.Context(), runID); err != nil {
		s.writeError(w, r, err)

		return
	}

	localRows, err := s.store.GetExecutionHistory(r.Context(), storage.HistoryFilter{
		ExecutionID: localExecutionID,
		EntityType:  storage.EntityTest,
		Space:       storage.SpaceLocal,
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if len(localRows) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: no local outcomes for execution %s",
			storage.ErrNotFound, localExecutionID))

		return
	}

	localByEntity := map[string]string{}
	for _, row := range localRows {
		localByEntity[row.EntityID] = string(row.Status)
	}

	jobs, err := s.store.GetCIWorkflowJobs(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	ciByEntity := map[string]map[string]string{}

	for _, job := range jobs {
		rows, err := s.store.GetExecutionHistory(r.Context(), storage.HistoryFilter{
			ExecutionID: ingest.CIJobExecutionID(runID, job.RemoteJobID),
			EntityType:  storage.EntityTest,
			Space:       storage.SpaceCI,
		})
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		for _, row := range rows {
			platforms := ciByEntity[row.EntityID]
			if platforms == nil {
				platforms = map[string]string{}
				ciByEntity[row.EntityID] = platforms
			}

			platforms[job.RunnerOS] = string(row.Status)
		}
	}

	entityIDs := make([]string, 0, len(localByEntity))
	for entityID := range localByEntity {
		entityIDs = append(entityIDs, entityID)
	}

	for entityID := range ciByEntity {
		if _, ok := localByEntity[entityID]; !ok {
			entityIDs = append(entityIDs, entityID)
		}
	}

	sort.Strings(entityIDs)

	records := make([]comparisonRecord, 0, len(entityIDs))

	var disagreements int

	for _, entityID := range entityIDs {
		record := comparisonRecord{
			EntityID:     entityID,
			CIByPlatform: ciByEntity[entityID],
		}

		if record.CIByPlatform == nil {
			record.CIByPlatform = map[string]string{}
		}

		if outcome, ok := localByEntity[entityID]; ok {
			local := outcome
			record.Local = &local

			for _, ciOutcome := range record.CIByPlatform {
				if ciOutcome != local {
					record.Disagreement = true

					break
				}
			}
		}

		if record.Disagreement {
			disagreements++
		}

		records = append(records, record)
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"local_execution_id": localExecutionID,
		"ci_run_id":          runID,
		"entities":           records,
		"disagreements":      disagreements,
	})
}

// compareEntity builds the comparison record for one entity. The returned
// time is the most recent CI failure across platforms, zero when none.
func (s *Server) compareEntity(r *http.Request, entityID string, platformCache map[int64]map[int64]string) (*comparisonRecord, time.Time, error) {
	record := &comparisonRecord{
		EntityID:     entityID,
		CIByPlatform: map[string]string{},
	}

	localRows, err := s.store.GetExecutionHistory(r.Context(), storage.HistoryFilter{
		EntityID: entityID,
		Space:    storage.SpaceLocal,
		Limit:    1,
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	if len(localRows) > 0 {
		outcome := string(localRows[0].Status)
		record.Local = &outcome
	}

	ciRows, err := s.store.GetExecutionHistory(r.Context(), storage.HistoryFilter{
		EntityID: entityID,
		Space:    storage.SpaceCI,
		Limit:    ciOutcomeScan,
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	var lastFailure time.Time

	// Rows are most recent first, so the first outcome seen per platform is
	// the latest one.
	for _, row := range ciRows {
		platform, err := s.platformFor(r, row.ExecutionID, platformCache)
		if err != nil {
			return nil, time.Time{}, err
		}

		if platform == "" {
			continue
		}

		if _, ok := record.CIByPlatform[platform]; ok {
			continue
		}

		record.CIByPlatform[platform] = string(row.Status)

		if row.Status.IsFailure() && row.Timestamp.After(lastFailure) {
			lastFailure = row.Timestamp
		}
	}

	if record.Local != nil {
		for _, outcome := range record.CIByPlatform {
			if outcome != *record.Local {
				record.Disagreement = true

				break
			}
		}
	}

	return record, lastFailure, nil
}

// platformFor resolves the runner OS behind a per-job CI execution id.
// Run-level and project-level ids carry no platform and resolve to "".
func (s *Server) platformFor(r *http.Request, executionID string, cache map[int64]map[int64]string) (string, error) {
	runID, jobID, ok := ingest.ParseCIJobExecutionID(executionID)
	if !ok {
		return "", nil
	}

	jobs, ok := cache[runID]
	if !ok {
		rows, err := s.store.GetCIWorkflowJobs(r.Context(), runID)
		if err != nil {
			return "", err
		}

		jobs = map[int64]string{}
		for _, job := range rows {
			jobs[job.RemoteJobID] = job.RunnerOS
		}

		cache[runID] = jobs
	}

	return jobs[jobID], nil
}
