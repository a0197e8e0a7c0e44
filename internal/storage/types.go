package storage

import (
	"time"
)

// Space is the provenance tag of a record: local or ci. Spaces never mix in
// a single statistic unless the caller explicitly asks for all.
type Space string

// Known spaces.
const (
	SpaceLocal Space = "local"
	SpaceCI    Space = "ci"
)

// Valid reports whether the space is one of the known provenance tags.
func (s Space) Valid() bool {
	return s == SpaceLocal || s == SpaceCI
}

// Status is the outcome of one entity in one execution.
type Status string

// Known outcome statuses. Unknown runner outcomes map to StatusError at the
// parser boundary, never here.
const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
	StatusError   Status = "ERROR"
)

// IsFailure reports whether the status counts as a failure for rule
// evaluation (FAILED and ERROR both do).
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusError
}

// EntityType is the kind of entity under observation.
type EntityType string

// Known entity types.
const (
	EntityTest         EntityType = "test"
	EntityLintFile     EntityType = "lint-file"
	EntityCoverageFile EntityType = "coverage-file"
	EntityCIJob        EntityType = "ci-job"
)

// Severity classifies a lint violation.
type Severity string

// Known severities.
const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Criteria is the closed set of rule selection strategies.
type Criteria string

// Known rule criteria.
const (
	CriteriaAll          Criteria = "all"
	CriteriaGroup        Criteria = "group"
	CriteriaFailedInLast Criteria = "failed-in-last"
	CriteriaFailureRate  Criteria = "failure-rate"
	CriteriaChangedFiles Criteria = "changed-files"
	CriteriaMarker       Criteria = "marker"
	CriteriaPattern      Criteria = "pattern"
)

// Valid reports whether the criteria is a member of the closed set.
func (c Criteria) Valid() bool {
	switch c {
	case CriteriaAll, CriteriaGroup, CriteriaFailedInLast, CriteriaFailureRate,
		CriteriaChangedFiles, CriteriaMarker, CriteriaPattern:
		return true
	}

	return false
}

type (
	// ExecutionHistory is one entity outcome from one execution. Rows are
	// append-only; (entity_id, execution_id) is unique.
	ExecutionHistory struct {
		ID              int64
		EntityID        string
		EntityType      EntityType
		ExecutionID     string
		Timestamp       time.Time
		Status          Status
		DurationSeconds float64
		Space           Space
		Metadata        map[string]string
	}

	// HistoryFilter narrows execution-history reads. Zero values mean "any".
	// Results are ordered most recent first by (timestamp, execution_id).
	HistoryFilter struct {
		EntityID    string
		EntityType  EntityType
		ExecutionID string
		Space       Space
		Since       time.Time
		Until       time.Time
		Limit       int
	}

	// ExecutionRule is a named, user-mutable predicate over history that
	// selects a set of entities for re-execution.
	ExecutionRule struct {
		Name           string
		Enabled        bool
		Criteria       Criteria
		Window         int
		Threshold      float64
		Groups         []string
		ExecutorConfig map[string]string
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// EntityStatistics is the per-entity rollup recomputed from
	// ExecutionHistory after each ingest. One row per entity.
	EntityStatistics struct {
		EntityID    string
		EntityType  EntityType
		TotalRuns   int
		Passed      int
		Failed      int
		Skipped     int
		FailureRate float64
		AvgDuration float64
		LastRun     time.Time
		LastFailure time.Time
	}

	// LintViolation is one finding emitted by a validator in one execution.
	LintViolation struct {
		ID          int64
		ExecutionID string
		FilePath    string
		Line        int
		Column      int
		Severity    Severity
		Code        string
		Message     string
		Validator   string
		Timestamp   time.Time
		Space       Space
	}

	// LintSummary aggregates the violations of one validator in one
	// execution. ByCode is exactly the multiset of codes in the matching
	// LintViolation rows.
	LintSummary struct {
		ID              int64
		ExecutionID     string
		Timestamp       time.Time
		Validator       string
		FilesScanned    int
		TotalViolations int
		Errors          int
		Warnings        int
		Info            int
		ByCode          map[string]int
		Space           Space
	}

	// LintFilter narrows lint reads.
	LintFilter struct {
		ExecutionID string
		Validator   string
		FilePath    string
		Space       Space
		Since       time.Time
		Limit       int
	}

	// CodeQualityMetrics is the per-(file, validator) rollup upserted after
	// every lint ingest.
	CodeQualityMetrics struct {
		FilePath             string
		Validator            string
		TotalScans           int
		TotalViolations      int
		AvgViolationsPerScan float64
		MostCommonCode       string
		LastScan             time.Time
		LastViolation        time.Time
	}

	// CoverageHistory is the per-file coverage of one execution.
	CoverageHistory struct {
		ID                 int64
		ExecutionID        string
		FilePath           string
		Timestamp          time.Time
		TotalStatements    int
		CoveredStatements  int
		CoveragePercentage float64
		MissingLines       []int
		Space              Space
	}

	// CoverageSummary is the overall coverage of one execution.
	// TotalCoverage is covered/total*100 rounded to two decimals.
	CoverageSummary struct {
		ID                int64
		ExecutionID       string
		Timestamp         time.Time
		TotalCoverage     float64
		FilesAnalyzed     int
		TotalStatements   int
		CoveredStatements int
		Space             Space
	}

	// CoverageFilter narrows coverage reads.
	CoverageFilter struct {
		ExecutionID string
		FilePath    string
		Space       Space
		Since       time.Time
		Limit       int
	}

	// CIWorkflowRun is one workflow run upserted from the CI provider.
	CIWorkflowRun struct {
		RemoteRunID     int64
		WorkflowName    string
		Branch          string
		CommitSHA       string
		Status          string
		Conclusion      string
		StartedAt       time.Time
		DurationSeconds float64
		RunNumber       int
	}

	// CIRunFilter narrows CI run reads with offset pagination.
	CIRunFilter struct {
		Workflow string
		Branch   string
		Status   string
		Limit    int
		Offset   int
	}

	// CIWorkflowJob is one job of a workflow run. LogContent is filled on
	// demand and may be large; list reads exclude it.
	CIWorkflowJob struct {
		RemoteJobID     int64
		RemoteRunID     int64
		JobName         string
		Status          string
		Conclusion      string
		StartedAt       time.Time
		CompletedAt     time.Time
		RunnerOS        string
		LogContent      string
		TestResultsJSON string
	}
)
