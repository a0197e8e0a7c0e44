package ingest

import (
	"fmt"
	"sync"
	"time"
)

var (
	lastLocalID   string
	lastLocalIDMu sync.Mutex
)

// LocalExecutionID derives a local execution id from the wall clock, in the
// form local-YYYYMMDD-HHMMSS. Ids are monotonic within the process: two
// calls in the same second bump the later one forward so every execution
// gets a distinct id.
func LocalExecutionID(now time.Time) string {
	lastLocalIDMu.Lock()
	defer lastLocalIDMu.Unlock()

	now = now.UTC()

	id := "local-" + now.Format("20060102-150405")
	for id <= lastLocalID && lastLocalID != "" {
		now = now.Add(time.Second)
		id = "local-" + now.Format("20060102-150405")
	}

	lastLocalID = id

	return id
}

// CIRunExecutionID is the execution id of a run-level CI ingest.
func CIRunExecutionID(remoteRunID int64) string {
	return fmt.Sprintf("ci-%d", remoteRunID)
}

// CIJobExecutionID is the execution id of a per-job CI ingest.
func CIJobExecutionID(remoteRunID, remoteJobID int64) string {
	return fmt.Sprintf("ci-%d-%d", remoteRunID, remoteJobID)
}

// CIProjectExecutionID subdivides a run-level ingest by project, used when
// one run lints several projects.
func CIProjectExecutionID(remoteRunID int64, project string) string {
	return fmt.Sprintf("ci-%d-%s", remoteRunID, project)
}

// ParseCIJobExecutionID recovers the remote run and job ids from a per-job
// execution id. ok is false for every other id form.
func ParseCIJobExecutionID(executionID string) (runID, jobID int64, ok bool) {
	n, err := fmt.Sscanf(executionID, "ci-%d-%d", &runID, &jobID)
	if err != nil || n != 2 {
		return 0, 0, false
	}

	return runID, jobID, true
}
