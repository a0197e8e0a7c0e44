package ci

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// shortenRetries makes the backoff policy near-instant so retry tests stay
// fast.
func shortenRetries(c *Client) {
	c.retryInitial = time.Millisecond
}

const runsPage = `{
	"total_count": 2,
	"workflow_runs": [
		{"id": 991, "name": "tests", "head_branch": "main", "head_sha": "abc123",
		 "status": "completed", "conclusion": "success",
		 "run_started_at": "2026-08-24T09:00:00Z", "updated_at": "2026-08-24T09:05:00Z",
		 "run_number": 41},
		{"id": 990, "name": "deploy", "head_branch": "main", "head_sha": "abc122",
		 "status": "completed", "conclusion": "failure",
		 "run_started_at": "2026-08-24T08:00:00Z", "updated_at": "2026-08-24T08:03:00Z",
		 "run_number": 40}
	]
}`

const jobsPage = `{
	"jobs": [
		{"id": 7001, "run_id": 991, "name": "unit (ubuntu-latest)", "status": "completed",
		 "conclusion": "success", "started_at": "2026-08-24T09:00:10Z",
		 "completed_at": "2026-08-24T09:04:00Z", "labels": ["ubuntu-latest"]},
		{"id": 7002, "run_id": 991, "name": "unit (windows-latest)", "status": "completed",
		 "conclusion": "failure", "started_at": "2026-08-24T09:00:12Z",
		 "completed_at": "2026-08-24T09:05:00Z", "labels": ["windows-latest"]}
	]
}`

func TestListRuns(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `{"total_count": 2, "workflow_runs": []}`)

			return
		}

		fmt.Fprint(w, runsPage)
	}))
	defer server.Close()

	client := NewClient(server.URL, "token-xyz")

	runs, err := client.ListRuns(context.Background(), RunFilter{Limit: 10})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if gotAuth != "Bearer token-xyz" {
		t.Errorf("authorization header = %q", gotAuth)
	}

	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}

	if runs[0].RemoteRunID != 991 || runs[0].WorkflowName != "tests" || runs[0].Branch != "main" {
		t.Errorf("run = %+v", runs[0])
	}

	if runs[0].DurationSeconds != 300 {
		t.Errorf("duration = %v, want 300", runs[0].DurationSeconds)
	}
}

func TestListRunsWorkflowFilterAndLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, runsPage)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	runs, err := client.ListRuns(context.Background(), RunFilter{Workflow: "tests", Limit: 1})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 1 || runs[0].WorkflowName != "tests" {
		t.Errorf("runs = %+v, want only the tests workflow", runs)
	}
}

func TestListJobs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actions/runs/991/jobs" {
			http.NotFound(w, r)

			return
		}

		fmt.Fprint(w, jobsPage)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	jobs, err := client.ListJobs(context.Background(), 991)
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}

	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}

	if jobs[0].RemoteJobID != 7001 || jobs[0].RunnerOS != "ubuntu-latest" {
		t.Errorf("job = %+v", jobs[0])
	}
}

func TestFetchJobLog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "log line one\nlog line two")
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	log, err := client.FetchJobLog(context.Background(), 7001)
	if err != nil {
		t.Fatalf("failed to fetch log: %v", err)
	}

	if string(log) != "log line one\nlog line two" {
		t.Errorf("log = %q", log)
	}
}

func TestRetryOn5xx(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		fmt.Fprint(w, jobsPage)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	shortenRetries(client)

	jobs, err := client.ListJobs(context.Background(), 991)
	if err != nil {
		t.Fatalf("failed after retries: %v", err)
	}

	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}

	if len(jobs) != 2 {
		t.Errorf("got %d jobs after retry, want 2", len(jobs))
	}
}

func TestRateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	shortenRetries(client)

	_, err := client.ListJobs(context.Background(), 991)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
}

func TestNonRetryable4xxSurfacesImmediately(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-token")

	_, err := client.ListJobs(context.Background(), 991)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}

	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want no retries on 401", attempts.Load())
	}
}

func TestFetchRunArtifacts(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"coverage.xml": "<coverage></coverage>",
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/actions/runs/991/artifacts":
			fmt.Fprint(w, `{"artifacts": [
				{"id": 551, "name": "coverage-report", "archive_download_url": "unused", "expired": false},
				{"id": 552, "name": "build-logs", "archive_download_url": "unused", "expired": false}
			]}`)
		case "/actions/artifacts/551/zip":
			_, _ = w.Write(archive)
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	t.Chdir(t.TempDir())

	client := NewClient(server.URL, "")

	files, err := client.FetchRunArtifacts(context.Background(), 991, "coverage-*")
	if err != nil {
		t.Fatalf("failed to fetch artifacts: %v", err)
	}

	if string(files["coverage.xml"]) != "<coverage></coverage>" {
		t.Errorf("files = %v", files)
	}
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)

	for name, content := range files {
		f, err := writer.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry: %v", err)
		}

		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write zip entry: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}

	return buf.Bytes()
}
