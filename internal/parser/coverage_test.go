package parser

import (
	"errors"
	"testing"
)

const coverageXML = `<?xml version="1.0" ?>
<coverage version="7.3.2" line-rate="0.9999">
  <packages>
    <package name="src">
      <classes>
        <class name="app.py" filename="src/app.py">
          <methods>
            <method name="main">
              <lines>
                <line number="1" hits="1"/>
                <line number="2" hits="1"/>
              </lines>
            </method>
          </methods>
          <lines>
            <line number="1" hits="1"/>
            <line number="2" hits="1"/>
            <line number="3" hits="0"/>
            <line number="4" hits="0"/>
          </lines>
        </class>
        <class name="util.py" filename="src/util.py">
          <lines>
            <line number="1" hits="1"/>
            <line number="2" hits="1"/>
          </lines>
        </class>
      </classes>
    </package>
  </packages>
</coverage>`

func TestParseCoverage(t *testing.T) {
	data, err := ParseCoverage([]byte(coverageXML))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	if data.FilesAnalyzed != 2 {
		t.Fatalf("files analyzed = %d, want 2", data.FilesAnalyzed)
	}

	if data.TotalStatements != 6 || data.CoveredStatements != 4 {
		t.Errorf("statements = %d/%d, want 4/6", data.CoveredStatements, data.TotalStatements)
	}

	// 4/6 * 100 rounded to two decimals, not the XML's line-rate attribute.
	if data.TotalCoverage != 66.67 {
		t.Errorf("total coverage = %v, want 66.67", data.TotalCoverage)
	}

	app := data.PerFile[0]
	if app.FilePath != "src/app.py" {
		t.Fatalf("first file = %q", app.FilePath)
	}

	if app.TotalStatements != 4 || app.CoveredStatements != 2 {
		t.Errorf("app.py statements = %d/%d, want 2/4", app.CoveredStatements, app.TotalStatements)
	}

	if len(app.MissingLines) != 2 || app.MissingLines[0] != 3 || app.MissingLines[1] != 4 {
		t.Errorf("missing lines = %v, want [3 4]", app.MissingLines)
	}

	if app.CoveragePercentage != 50 {
		t.Errorf("app.py coverage = %v, want 50", app.CoveragePercentage)
	}
}

func TestParseCoverageErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "empty", input: "", want: ErrIncomplete},
		{name: "not xml", input: "{}", want: ErrSyntax},
		{name: "wrong root", input: "<report></report>", want: ErrUnknownFormat},
		{name: "truncated", input: "<coverage><packages>", want: ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCoverage([]byte(tt.input))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func coverageFixture(files map[string][2]int) *CoverageData {
	data := &CoverageData{}

	for path, counts := range files {
		data.PerFile = append(data.PerFile, FileCoverage{
			FilePath:           path,
			TotalStatements:    counts[1],
			CoveredStatements:  counts[0],
			CoveragePercentage: coveragePercent(counts[0], counts[1]),
		})
	}

	return data
}

func TestCoverageDiff(t *testing.T) {
	current := coverageFixture(map[string][2]int{
		"src/a.py": {5, 10},
		"src/b.py": {9, 10},
		"src/c.py": {10, 10},
	})
	baseline := coverageFixture(map[string][2]int{
		"src/a.py": {8, 10},
		"src/b.py": {9, 10},
		"src/d.py": {3, 10},
	})

	deltas := Diff(current, baseline)

	if len(deltas) != 4 {
		t.Fatalf("got %d deltas, want 4", len(deltas))
	}

	byPath := map[string]CoverageDelta{}
	for _, d := range deltas {
		byPath[d.FilePath] = d
	}

	if d := byPath["src/a.py"]; d.Delta != -30 {
		t.Errorf("a.py delta = %v, want -30", d.Delta)
	}

	if d := byPath["src/b.py"]; d.Delta != 0 {
		t.Errorf("b.py delta = %v, want 0", d.Delta)
	}

	if d := byPath["src/c.py"]; !d.New {
		t.Errorf("c.py should be marked new")
	}

	if d := byPath["src/d.py"]; !d.Removed {
		t.Errorf("d.py should be marked removed")
	}
}

func TestCoverageRegressions(t *testing.T) {
	current := coverageFixture(map[string][2]int{
		"src/a.py": {5, 10},
		"src/b.py": {9, 10},
		"src/new.py": {0, 10},
	})
	baseline := coverageFixture(map[string][2]int{
		"src/a.py": {8, 10},
		"src/b.py": {10, 10},
	})

	regressions := Regressions(current, baseline, 15)

	if len(regressions) != 1 {
		t.Fatalf("got %d regressions, want 1", len(regressions))
	}

	if regressions[0].FilePath != "src/a.py" {
		t.Errorf("regression = %+v, want src/a.py", regressions[0])
	}
}
