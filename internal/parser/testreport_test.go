package parser

import (
	"errors"
	"testing"

	"github.com/argos-io/argos/internal/storage"
)

func TestParseTestReport(t *testing.T) {
	report := []byte(`{
		"tests": [
			{"nodeid": "tests/test_a.py::test_pass", "outcome": "passed", "call": {"duration": 0.12}},
			{"nodeid": "tests/test_a.py::TestClass::test_fail", "outcome": "failed",
			 "call": {"duration": 1.5, "longrepr": "AssertionError: boom"}},
			{"nodeid": "tests/test_b.py::test_skip", "outcome": "skipped", "call": {"duration": 0}},
			{"nodeid": "tests/test_b.py::test_weird", "outcome": "xpassed", "call": {"duration": 0.1}}
		]
	}`)

	results, err := ParseTestReport(report)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	tests := []struct {
		nodeID  string
		outcome storage.Status
	}{
		{"tests/test_a.py::test_pass", storage.StatusPassed},
		{"tests/test_a.py::TestClass::test_fail", storage.StatusFailed},
		{"tests/test_b.py::test_skip", storage.StatusSkipped},
		{"tests/test_b.py::test_weird", storage.StatusError},
	}

	for i, tt := range tests {
		if results[i].NodeID != tt.nodeID {
			t.Errorf("result %d node id = %q, want %q", i, results[i].NodeID, tt.nodeID)
		}

		if results[i].Outcome != tt.outcome {
			t.Errorf("result %d outcome = %s, want %s", i, results[i].Outcome, tt.outcome)
		}
	}

	if results[1].ErrorText != "AssertionError: boom" {
		t.Errorf("error text = %q", results[1].ErrorText)
	}

	if results[1].DurationSeconds != 1.5 {
		t.Errorf("duration = %v, want 1.5", results[1].DurationSeconds)
	}
}

func TestParseTestReportWindowsPaths(t *testing.T) {
	report := []byte(`{"tests": [
		{"nodeid": "tests\\test_a.py::test_x", "outcome": "passed", "call": {"duration": 0.1}}
	]}`)

	results, err := ParseTestReport(report)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	if results[0].NodeID != "tests/test_a.py::test_x" {
		t.Errorf("node id = %q, want forward slashes", results[0].NodeID)
	}
}

func TestParseTestReportErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "empty input", input: "", want: ErrIncomplete},
		{name: "missing tests array", input: `{"summary": {}}`, want: ErrIncomplete},
		{name: "truncated json", input: `{"tests": [{"nodeid": "a"`, want: ErrSyntax},
		{name: "not json at all", input: "==== 3 passed ====", want: ErrUnknownFormat},
		{name: "test without nodeid", input: `{"tests": [{"outcome": "passed"}]}`, want: ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTestReport([]byte(tt.input))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNodeIDFile(t *testing.T) {
	tests := []struct {
		nodeID string
		want   string
	}{
		{"tests/test_a.py::test_x", "tests/test_a.py"},
		{"tests/test_a.py::TestClass::test_x", "tests/test_a.py"},
		{"tests/test_a.py", "tests/test_a.py"},
	}

	for _, tt := range tests {
		if got := NodeIDFile(tt.nodeID); got != tt.want {
			t.Errorf("NodeIDFile(%q) = %q, want %q", tt.nodeID, got, tt.want)
		}
	}
}
