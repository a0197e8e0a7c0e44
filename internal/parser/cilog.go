package parser

import (
	"regexp"
	"strconv"
	"strings"
)

type (
	// CILogSummary is the test summary line of a job log.
	CILogSummary struct {
		Passed  int
		Failed  int
		Skipped int
		Errors  int
	}

	// CILogFailure is one failed test extracted from a job log.
	CILogFailure struct {
		NodeID    string
		ErrorText string
	}

	// CILogData is the best-effort extraction from one job log. Any subset
	// may be empty; Found* flags distinguish "absent" from zero values.
	CILogData struct {
		Summary         CILogSummary
		FoundSummary    bool
		Failures        []CILogFailure
		CoveragePercent float64
		FoundCoverage   bool
		LintLines       []string
	}
)

// ansiEscape matches CSI sequences that CI runners interleave with tool
// output.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// summaryCount matches one "N passed"-style token in a runner summary line.
var summaryCount = regexp.MustCompile(`(\d+) (passed|failed|skipped|error|errors)\b`)

// summaryLine matches a runner's final summary banner.
var summaryLine = regexp.MustCompile(`^=+ .*\d+ (passed|failed|skipped|error).* =+$`)

// failedTest matches a per-test failure line: FAILED NODE_ID - error text.
var failedTest = regexp.MustCompile(`^(?:FAILED|ERROR)\s+(\S+?::\S+?)(?:\s+-\s+(.*))?$`)

// totalCoverage matches a coverage tool's TOTAL row ending in a percentage.
var totalCoverage = regexp.MustCompile(`^TOTAL\s+.*?(\d+(?:\.\d+)?)%\s*$`)

// ParseCILog extracts structured data from one job's raw log. Extraction is
// best-effort: nothing in the log is an error. When several summary banners
// appear (retried steps, multiple runner invocations), the last one wins.
func ParseCILog(log string) *CILogData {
	data := &CILogData{}

	for _, raw := range strings.Split(log, "\n") {
		line := strings.TrimSpace(ansiEscape.ReplaceAllString(raw, ""))
		if line == "" {
			continue
		}

		if summaryLine.MatchString(line) {
			data.Summary = parseSummaryCounts(line)
			data.FoundSummary = true

			continue
		}

		if m := failedTest.FindStringSubmatch(line); m != nil {
			data.Failures = append(data.Failures, CILogFailure{
				NodeID:    m[1],
				ErrorText: m[2],
			})

			continue
		}

		if m := totalCoverage.FindStringSubmatch(line); m != nil {
			percent, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				data.CoveragePercent = percent
				data.FoundCoverage = true
			}

			continue
		}

		if flake8Line.MatchString(line) {
			data.LintLines = append(data.LintLines, line)
		}
	}

	return data
}

func parseSummaryCounts(line string) CILogSummary {
	var summary CILogSummary

	for _, m := range summaryCount.FindAllStringSubmatch(line, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		switch m[2] {
		case "passed":
			summary.Passed = n
		case "failed":
			summary.Failed = n
		case "skipped":
			summary.Skipped = n
		case "error", "errors":
			summary.Errors = n
		}
	}

	return summary
}
