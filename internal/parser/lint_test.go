package parser

import (
	"testing"

	"github.com/argos-io/argos/internal/storage"
)

func TestParseFlake8(t *testing.T) {
	output := `src/app.py:10:5: E501 line too long (92 > 79 characters)
src/app.py:22:1: W291 trailing whitespace
src/util.py:3:1: F401 'os' imported but unused
src/util.py:8:1: D100 Missing docstring in public module
plugin noise that matches nothing
src\win.py:1:1: C901 'main' is too complex (12)`

	report := ParseFlake8(output)

	if report.TotalViolations != 5 {
		t.Fatalf("total = %d, want 5", report.TotalViolations)
	}

	if report.Errors != 2 || report.Warnings != 2 || report.Info != 1 {
		t.Errorf("errors/warnings/info = %d/%d/%d, want 2/2/1",
			report.Errors, report.Warnings, report.Info)
	}

	if report.FilesScanned != 3 {
		t.Errorf("files scanned = %d, want 3", report.FilesScanned)
	}

	if report.Violations[5-1].FilePath != "src/win.py" {
		t.Errorf("windows path not normalized: %q", report.Violations[4].FilePath)
	}

	first := report.Violations[0]
	if first.FilePath != "src/app.py" || first.Line != 10 || first.Column != 5 ||
		first.Code != "E501" || first.Severity != storage.SeverityError {
		t.Errorf("first violation = %+v", first)
	}
}

// ByCode must be exactly the multiset of codes in the violation list.
func TestFlake8ByCodeMatchesViolations(t *testing.T) {
	output := `a.py:1:1: E501 long
a.py:2:1: E501 long
b.py:1:1: W291 trailing`

	report := ParseFlake8(output)

	counted := map[string]int{}
	for _, v := range report.Violations {
		counted[v.Code]++
	}

	if len(counted) != len(report.ByCode) {
		t.Fatalf("by_code has %d codes, violations have %d", len(report.ByCode), len(counted))
	}

	for code, n := range counted {
		if report.ByCode[code] != n {
			t.Errorf("by_code[%s] = %d, violations have %d", code, report.ByCode[code], n)
		}
	}
}

func TestSeverityForCode(t *testing.T) {
	tests := []struct {
		code string
		want storage.Severity
	}{
		{"E501", storage.SeverityError},
		{"F401", storage.SeverityError},
		{"W291", storage.SeverityWarning},
		{"C901", storage.SeverityWarning},
		{"N801", storage.SeverityWarning},
		{"B008", storage.SeverityWarning},
		{"S101", storage.SeverityWarning},
		{"D100", storage.SeverityInfo},
		{"I001", storage.SeverityInfo},
		{"T201", storage.SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := severityForCode(tt.code); got != tt.want {
				t.Errorf("severityForCode(%s) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

func TestParseBlack(t *testing.T) {
	output := `would reformat src/app.py
would reformat src/util.py
Oh no! 💥 💔 💥
2 files would be reformatted, 10 files would be left unchanged.`

	report := ParseBlack(output)

	if report.TotalViolations != 2 {
		t.Fatalf("total = %d, want 2", report.TotalViolations)
	}

	for _, v := range report.Violations {
		if v.Code != CodeFormatter || v.Severity != storage.SeverityWarning || v.Line != 1 {
			t.Errorf("violation = %+v", v)
		}
	}

	if report.ByCode[CodeFormatter] != 2 {
		t.Errorf("by_code = %v", report.ByCode)
	}
}

func TestParseIsort(t *testing.T) {
	output := `ERROR: src/app.py Imports are incorrectly sorted and/or formatted.
Skipped 2 files`

	report := ParseIsort(output)

	if report.TotalViolations != 1 {
		t.Fatalf("total = %d, want 1", report.TotalViolations)
	}

	v := report.Violations[0]
	if v.FilePath != "src/app.py" || v.Code != CodeImportSort || v.Severity != storage.SeverityWarning {
		t.Errorf("violation = %+v", v)
	}
}

func TestParseLintEmptyOutput(t *testing.T) {
	for name, report := range map[string]*LintReport{
		"flake8": ParseFlake8(""),
		"black":  ParseBlack("All done! 10 files left unchanged."),
		"isort":  ParseIsort(""),
	} {
		if report.TotalViolations != 0 || len(report.Violations) != 0 {
			t.Errorf("%s: clean output produced violations: %+v", name, report)
		}
	}
}
