package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/argos-io/argos/internal/storage"
)

// TestResult is one test outcome extracted from a runner report. NodeID is
// the entity id.
type TestResult struct {
	NodeID          string
	Outcome         storage.Status
	DurationSeconds float64
	ErrorText       string
}

// testReport mirrors the runner's JSON report plugin output. Only the fields
// Argos consumes are declared.
type testReport struct {
	Tests []struct {
		NodeID  string `json:"nodeid"`
		Outcome string `json:"outcome"`
		Call    struct {
			Duration float64 `json:"duration"`
			Longrepr string `json:"longrepr"`
		} `json:"call"`
		Setup struct {
			Duration float64 `json:"duration"`
		} `json:"setup"`
		Teardown struct {
			Duration float64 `json:"duration"`
		} `json:"teardown"`
	} `json:"tests"`
}

// ParseTestReport parses a runner JSON report into test results. Unknown
// outcomes map to ERROR rather than failing the whole report.
func ParseTestReport(data []byte) ([]TestResult, error) {
	if len(data) == 0 {
		return nil, incompleteError("empty report")
	}

	var report testReport
	if err := json.Unmarshal(data, &report); err != nil {
		if !json.Valid(data) && !strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			return nil, unknownFormatError("report is not a JSON object")
		}

		return nil, &ParseError{Kind: ErrSyntax, Detail: fmt.Sprintf("malformed report JSON: %v", err)}
	}

	if report.Tests == nil {
		return nil, incompleteError("report has no tests array")
	}

	results := make([]TestResult, 0, len(report.Tests))

	for i, test := range report.Tests {
		if test.NodeID == "" {
			return nil, syntaxError(0, "", fmt.Sprintf("test %d has no nodeid", i))
		}

		results = append(results, TestResult{
			NodeID:          NormalizePath(NodeIDFile(test.NodeID)) + nodeIDSuffix(test.NodeID),
			Outcome:         mapOutcome(test.Outcome),
			DurationSeconds: test.Call.Duration,
			ErrorText:       test.Call.Longrepr,
		})
	}

	return results, nil
}

func nodeIDSuffix(nodeID string) string {
	if idx := strings.Index(nodeID, "::"); idx >= 0 {
		return nodeID[idx:]
	}

	return ""
}

func mapOutcome(outcome string) storage.Status {
	switch strings.ToLower(outcome) {
	case "passed":
		return storage.StatusPassed
	case "failed":
		return storage.StatusFailed
	case "skipped":
		return storage.StatusSkipped
	default:
		return storage.StatusError
	}
}
