package parser

import (
	"encoding/xml"
	"fmt"
	"math"
	"sort"
)

type (
	// FileCoverage is the per-file result derived from the report's line
	// elements.
	FileCoverage struct {
		FilePath           string
		TotalStatements    int
		CoveredStatements  int
		CoveragePercentage float64
		MissingLines       []int
	}

	// CoverageData is one parsed coverage report. TotalCoverage is recomputed
	// from the file totals; any overall attribute in the XML is ignored.
	CoverageData struct {
		TotalCoverage     float64
		FilesAnalyzed     int
		TotalStatements   int
		CoveredStatements int
		PerFile           []FileCoverage
	}

	coberturaLine struct {
		Number int `xml:"number,attr"`
		Hits   int `xml:"hits,attr"`
	}

	coberturaClass struct {
		Filename string `xml:"filename,attr"`
		Lines    []coberturaLine `xml:"lines>line"`
		Methods  []struct {
			Lines []coberturaLine `xml:"lines>line"`
		} `xml:"methods>method"`
	}

	coberturaReport struct {
		XMLName  xml.Name `xml:"coverage"`
		Packages []struct {
			Classes []coberturaClass `xml:"classes>class"`
		} `xml:"packages>package"`
	}
)

// ParseCoverage parses a Cobertura-shaped XML report. A file's statements
// are the union of line numbers seen across its class and method elements;
// a line is covered when any occurrence has hits > 0.
func ParseCoverage(data []byte) (*CoverageData, error) {
	if len(data) == 0 {
		return nil, incompleteError("empty coverage report")
	}

	var report coberturaReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, &ParseError{Kind: ErrSyntax, Detail: fmt.Sprintf("malformed coverage XML: %v", err)}
	}

	if report.XMLName.Local != "coverage" {
		return nil, unknownFormatError("root element is not <coverage>")
	}

	// line number -> covered, per file
	fileLines := map[string]map[int]bool{}

	for _, pkg := range report.Packages {
		for _, class := range pkg.Classes {
			filePath := NormalizePath(class.Filename)
			if filePath == "" {
				continue
			}

			lines := fileLines[filePath]
			if lines == nil {
				lines = map[int]bool{}
				fileLines[filePath] = lines
			}

			record := func(l coberturaLine) {
				lines[l.Number] = lines[l.Number] || l.Hits > 0
			}

			for _, l := range class.Lines {
				record(l)
			}

			for _, method := range class.Methods {
				for _, l := range method.Lines {
					record(l)
				}
			}
		}
	}

	result := &CoverageData{}

	paths := make([]string, 0, len(fileLines))
	for p := range fileLines {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	for _, p := range paths {
		lines := fileLines[p]

		file := FileCoverage{FilePath: p, TotalStatements: len(lines)}

		for number, covered := range lines {
			if covered {
				file.CoveredStatements++
			} else {
				file.MissingLines = append(file.MissingLines, number)
			}
		}

		sort.Ints(file.MissingLines)
		file.CoveragePercentage = coveragePercent(file.CoveredStatements, file.TotalStatements)

		result.PerFile = append(result.PerFile, file)
		result.TotalStatements += file.TotalStatements
		result.CoveredStatements += file.CoveredStatements
	}

	result.FilesAnalyzed = len(result.PerFile)
	result.TotalCoverage = coveragePercent(result.CoveredStatements, result.TotalStatements)

	return result, nil
}

// CoverageDelta is the per-file difference between two parsed reports.
type CoverageDelta struct {
	FilePath        string
	CurrentPercent  float64
	BaselinePercent float64
	Delta           float64
	New             bool
	Removed         bool
}

// Diff compares two parsed reports file by file, ordered by path. Files only
// in current are marked New; files only in baseline are marked Removed.
func Diff(current, baseline *CoverageData) []CoverageDelta {
	currentByPath := coverageByPath(current)
	baselineByPath := coverageByPath(baseline)

	paths := map[string]struct{}{}
	for p := range currentByPath {
		paths[p] = struct{}{}
	}

	for p := range baselineByPath {
		paths[p] = struct{}{}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}

	sort.Strings(sorted)

	var deltas []CoverageDelta

	for _, p := range sorted {
		cur, inCurrent := currentByPath[p]
		base, inBaseline := baselineByPath[p]

		delta := CoverageDelta{
			FilePath: p,
			New:      !inBaseline,
			Removed:  !inCurrent,
		}

		if inCurrent {
			delta.CurrentPercent = cur.CoveragePercentage
		}

		if inBaseline {
			delta.BaselinePercent = base.CoveragePercentage
		}

		delta.Delta = round2(delta.CurrentPercent - delta.BaselinePercent)
		deltas = append(deltas, delta)
	}

	return deltas
}

// Regressions returns the files whose coverage dropped by more than
// thresholdPercent relative to the baseline. New and removed files are not
// regressions.
func Regressions(current, baseline *CoverageData, thresholdPercent float64) []CoverageDelta {
	var regressions []CoverageDelta

	for _, delta := range Diff(current, baseline) {
		if delta.New || delta.Removed {
			continue
		}

		if delta.Delta < -thresholdPercent {
			regressions = append(regressions, delta)
		}
	}

	return regressions
}

func coverageByPath(data *CoverageData) map[string]FileCoverage {
	byPath := make(map[string]FileCoverage, len(data.PerFile))
	for _, file := range data.PerFile {
		byPath[file.FilePath] = file
	}

	return byPath
}

func coveragePercent(covered, total int) float64 {
	if total <= 0 {
		return 0
	}

	return round2(float64(covered) / float64(total) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
