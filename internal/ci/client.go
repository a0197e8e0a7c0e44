// Package ci is a narrow client over a GitHub-Actions-shaped REST surface:
// workflow runs, their jobs, job logs, and uploaded artifacts.
package ci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/argos-io/argos/internal/config"
	"github.com/argos-io/argos/internal/storage"
)

// DefaultRequestTimeout bounds one provider request, not counting retries.
const DefaultRequestTimeout = 30 * time.Second

// Retry policy for 429 and transient 5xx responses.
const (
	retryInitialInterval = 1 * time.Second
	retryMultiplier      = 2
	retryMaxInterval     = 60 * time.Second
	retryMaxAttempts     = 6
)

// Client errors.
var (
	ErrCI          = errors.New("ci provider error")
	ErrAuth        = errors.New("ci authentication failed")
	ErrRateLimited = errors.New("ci rate limit exhausted")
)

// HTTPError carries a non-retryable provider response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	default:
		return ErrCI
	}
}

type (
	// Client talks to one repository's workflow API.
	Client struct {
		baseURL      string
		token        string
		httpClient   *http.Client
		logger       *slog.Logger
		retryInitial time.Duration
	}

	// RunFilter narrows ListRuns. Zero values mean "any".
	RunFilter struct {
		Workflow string
		Branch   string
		Status   string
		Limit    int
		Since    time.Time
	}
)

// NewClient returns a client for the given API base URL, such as
// https://api.github.com/repos/OWNER/REPO. The token is sent as a bearer
// credential on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: config.GetEnvDuration("ARGOS_CI_REQUEST_TIMEOUT", DefaultRequestTimeout),
		},
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("ARGOS_LOG_LEVEL", slog.LevelInfo),
		})),
		retryInitial: retryInitialInterval,
	}
}

// Provider wire shapes. Only the consumed fields are declared.
type (
	wireRun struct {
		ID           int64     `json:"id"`
		Name         string    `json:"name"`
		HeadBranch   string    `json:"head_branch"`
		HeadSHA      string    `json:"head_sha"`
		Status       string    `json:"status"`
		Conclusion   string    `json:"conclusion"`
		RunStartedAt time.Time `json:"run_started_at"`
		UpdatedAt    time.Time `json:"updated_at"`
		RunNumber    int       `json:"run_number"`
	}

	wireRunsPage struct {
		TotalCount   int       `json:"total_count"`
		WorkflowRuns []wireRun `json:"workflow_runs"`
	}

	wireJob struct {
		ID          int64     `json:"id"`
		RunID       int64     `json:"run_id"`
		Name        string    `json:"name"`
		Status      string    `json:"status"`
		Conclusion  string    `json:"conclusion"`
		StartedAt   time.Time `json:"started_at"`
		CompletedAt time.Time `json:"completed_at"`
		Labels      []string  `json:"labels"`
	}

	wireJobsPage struct {
		Jobs []wireJob `json:"jobs"`
	}
)

// ListRuns pages through the provider's workflow runs until the filter's
// limit is satisfied or results are exhausted.
func (c *Client) ListRuns(ctx context.Context, filter RunFilter) ([]storage.CIWorkflowRun, error) {
	var runs []storage.CIWorkflowRun

	for page := 1; ; page++ {
		query := url.Values{"per_page": {"100"}, "page": {strconv.Itoa(page)}}

		if filter.Branch != "" {
			query.Set("branch", filter.Branch)
		}

		if filter.Status != "" {
			query.Set("status", filter.Status)
		}

		body, err := c.get(ctx, "/actions/runs?"+query.Encode())
		if err != nil {
			return nil, err
		}

		var pageData wireRunsPage
		if err := json.Unmarshal(body, &pageData); err != nil {
			return nil, fmt.Errorf("%w: malformed runs response: %v", ErrCI, err)
		}

		for _, run := range pageData.WorkflowRuns {
			if filter.Workflow != "" && run.Name != filter.Workflow {
				continue
			}

			if !filter.Since.IsZero() && run.RunStartedAt.Before(filter.Since) {
				continue
			}

			runs = append(runs, seedRun(run))

			if filter.Limit > 0 && len(runs) >= filter.Limit {
				return runs, nil
			}
		}

		if len(pageData.WorkflowRuns) == 0 || len(runs) >= pageData.TotalCount {
			return runs, nil
		}
	}
}

// ListJobs returns the jobs of one run.
func (c *Client) ListJobs(ctx context.Context, runID int64) ([]storage.CIWorkflowJob, error) {
	body, err := c.get(ctx, fmt.Sprintf("/actions/runs/%d/jobs?per_page=100", runID))
	if err != nil {
		return nil, err
	}

	var page wireJobsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: malformed jobs response: %v", ErrCI, err)
	}

	jobs := make([]storage.CIWorkflowJob, 0, len(page.Jobs))

	for _, job := range page.Jobs {
		jobs = append(jobs, storage.CIWorkflowJob{
			RemoteJobID: job.ID,
			RemoteRunID: job.RunID,
			JobName:     job.Name,
			Status:      job.Status,
			Conclusion:  job.Conclusion,
			StartedAt:   job.StartedAt,
			CompletedAt: job.CompletedAt,
			RunnerOS:    runnerOS(job.Labels),
		})
	}

	return jobs, nil
}

// FetchJobLog downloads one job's raw log. The provider answers with a
// redirect to blob storage, which the HTTP client follows.
func (c *Client) FetchJobLog(ctx context.Context, jobID int64) ([]byte, error) {
	return c.get(ctx, fmt.Sprintf("/actions/jobs/%d/logs", jobID))
}

// get issues one authenticated GET with the retry policy: 429 and 5xx back
// off exponentially with jitter; other 4xx surface immediately.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitial
	policy.Multiplier = retryMultiplier
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = 0

	var body []byte

	operation := func() error {
		var err error
		body, err = c.getOnce(ctx, path)

		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, retryMaxAttempts-1), ctx))
	if err != nil {
		var retryable *retryableError
		if errors.As(err, &retryable) {
			if retryable.statusCode == http.StatusTooManyRequests {
				return nil, fmt.Errorf("%w: %s", ErrRateLimited, path)
			}

			return nil, fmt.Errorf("%w: %s failed after %d attempts: %v",
				ErrCI, path, retryMaxAttempts, retryable.err)
		}

		return nil, err
	}

	return body, nil
}

// retryableError marks a response worth retrying.
type retryableError struct {
	statusCode int
	err        error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (c *Client) getOnce(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCI, err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrCI, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: reading response: %v", ErrCI, err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.logRateLimit(resp)

		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &retryableError{
			statusCode: resp.StatusCode,
			err:        fmt.Errorf("status %d", resp.StatusCode),
		}
	default:
		return nil, backoff.Permanent(&HTTPError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 200),
		})
	}
}

// logRateLimit surfaces the provider's remaining budget when it runs low.
func (c *Client) logRateLimit(resp *http.Response) {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil || remaining >= 100 {
		return
	}

	c.logger.Warn("CI provider rate limit running low",
		slog.Int("remaining", remaining),
		slog.String("reset", resp.Header.Get("X-RateLimit-Reset")),
	)
}

// runnerOS derives the platform from the job's runner labels.
func runnerOS(labels []string) string {
	if len(labels) > 0 {
		return labels[0]
	}

	return ""
}

func seedRun(run wireRun) storage.CIWorkflowRun {
	seed := storage.CIWorkflowRun{
		RemoteRunID:  run.ID,
		WorkflowName: run.Name,
		Branch:       run.HeadBranch,
		CommitSHA:    run.HeadSHA,
		Status:       run.Status,
		Conclusion:   run.Conclusion,
		StartedAt:    run.RunStartedAt,
		RunNumber:    run.RunNumber,
	}

	if !run.UpdatedAt.IsZero() && !run.RunStartedAt.IsZero() {
		seed.DurationSeconds = run.UpdatedAt.Sub(run.RunStartedAt).Seconds()
	}

	return seed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
