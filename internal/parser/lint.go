package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/argos-io/argos/internal/storage"
)

type (
	// LintViolationRecord is one finding with parser-known fields only.
	// Execution id, timestamp and space are attached at ingest time.
	LintViolationRecord struct {
		FilePath string
		Line     int
		Column   int
		Severity storage.Severity
		Code     string
		Message  string
	}

	// LintReport is the output of one validator run: the violation list plus
	// its aggregate counts. ByCode is exactly the multiset of codes in
	// Violations.
	LintReport struct {
		Validator       string
		FilesScanned    int
		TotalViolations int
		Errors          int
		Warnings        int
		Info            int
		ByCode          map[string]int
		Violations      []LintViolationRecord
	}
)

// Violation codes synthesized for tools that report per-file rather than
// per-line findings.
const (
	CodeFormatter  = "BLACK001"
	CodeImportSort = "ISORT001"
)

// flake8Line matches FILE:LINE:COL: CODE MESSAGE. Columns are optional in
// some tool configurations.
var flake8Line = regexp.MustCompile(`^(.+?):(\d+):(?:(\d+):)?\s*([A-Z]+\d+)\s+(.*)$`)

// wouldReformat matches a formatter's dry-run finding for one file.
var wouldReformat = regexp.MustCompile(`^would reformat\s+(.+)$`)

// importSortError matches an import sorter's per-file finding.
var importSortError = regexp.MustCompile(`^ERROR:\s+(\S+)`)

// ParseFlake8 parses FILE:LINE:COL: CODE MESSAGE output. Lines that do not
// match are tool noise and skipped, never a parse failure.
func ParseFlake8(output string) *LintReport {
	report := newLintReport("flake8")

	for _, line := range strings.Split(output, "\n") {
		m := flake8Line.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}

		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		code := m[4]

		report.add(LintViolationRecord{
			FilePath: NormalizePath(m[1]),
			Line:     lineNo,
			Column:   col,
			Severity: severityForCode(code),
			Code:     code,
			Message:  strings.TrimSpace(m[5]),
		})
	}

	report.finish()

	return report
}

// ParseBlack parses formatter dry-run output. Each "would reformat FILE"
// line yields one WARNING at line 1; everything else is noise.
func ParseBlack(output string) *LintReport {
	report := newLintReport("black")

	for _, line := range strings.Split(output, "\n") {
		m := wouldReformat.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		report.add(LintViolationRecord{
			FilePath: NormalizePath(m[1]),
			Line:     1,
			Severity: storage.SeverityWarning,
			Code:     CodeFormatter,
			Message:  "file would be reformatted",
		})
	}

	report.finish()

	return report
}

// ParseIsort parses import sorter output. Each "ERROR: FILE ..." line yields
// one WARNING at line 1.
func ParseIsort(output string) *LintReport {
	report := newLintReport("isort")

	for _, line := range strings.Split(output, "\n") {
		m := importSortError.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		report.add(LintViolationRecord{
			FilePath: NormalizePath(m[1]),
			Line:     1,
			Severity: storage.SeverityWarning,
			Code:     CodeImportSort,
			Message:  "imports are incorrectly sorted",
		})
	}

	report.finish()

	return report
}

// severityForCode maps a violation code prefix to a severity. E and F codes
// are errors, D, I and T codes informational, everything else a warning.
func severityForCode(code string) storage.Severity {
	if code == "" {
		return storage.SeverityWarning
	}

	switch code[0] {
	case 'E', 'F':
		return storage.SeverityError
	case 'D', 'I', 'T':
		return storage.SeverityInfo
	default:
		return storage.SeverityWarning
	}
}

func newLintReport(validator string) *LintReport {
	return &LintReport{
		Validator: validator,
		ByCode:    map[string]int{},
	}
}

func (r *LintReport) add(v LintViolationRecord) {
	r.Violations = append(r.Violations, v)
	r.ByCode[v.Code]++
	r.TotalViolations++

	switch v.Severity {
	case storage.SeverityError:
		r.Errors++
	case storage.SeverityWarning:
		r.Warnings++
	case storage.SeverityInfo:
		r.Info++
	}
}

// finish derives FilesScanned from the distinct file paths seen.
func (r *LintReport) finish() {
	files := map[string]struct{}{}
	for _, v := range r.Violations {
		files[v.FilePath] = struct{}{}
	}

	r.FilesScanned = len(files)
}
