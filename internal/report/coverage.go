package report

import (
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/argos-io/argos/internal/parser"
	"github.com/argos-io/argos/internal/storage"
)

type (
	// CoverageFileRow is one file on the coverage report.
	CoverageFileRow struct {
		FilePath          string
		Percent           float64
		CoveredStatements int
		TotalStatements   int
		MissingLines      []int
	}

	// CoverageTrendPoint is one execution's overall coverage in the trend
	// series.
	CoverageTrendPoint struct {
		ExecutionID string  `json:"execution_id"`
		Percent     float64 `json:"percent"`
	}

	// CoverageRegressionRow is one file whose coverage dropped against the
	// baseline.
	CoverageRegressionRow struct {
		FilePath        string
		CurrentPercent  float64
		BaselinePercent float64
		Delta           float64
	}

	// CoverageReport is the input of the coverage renderers.
	CoverageReport struct {
		TotalPercent      float64
		CoveredStatements int
		TotalStatements   int
		Files             []CoverageFileRow
		Trend             []CoverageTrendPoint
		Regressions       []CoverageRegressionRow
	}
)

// BuildCoverageReport assembles the coverage report from one execution's
// per-file rows, the summary trend (oldest first), and an optional
// regression list against a baseline.
func BuildCoverageReport(files []storage.CoverageHistory, trend []storage.CoverageSummary, regressions []parser.CoverageDelta) *CoverageReport {
	r := &CoverageReport{}

	for _, row := range files {
		r.CoveredStatements += row.CoveredStatements
		r.TotalStatements += row.TotalStatements

		r.Files = append(r.Files, CoverageFileRow{
			FilePath:          row.FilePath,
			Percent:           row.CoveragePercentage,
			CoveredStatements: row.CoveredStatements,
			TotalStatements:   row.TotalStatements,
			MissingLines:      row.MissingLines,
		})
	}

	sort.Slice(r.Files, func(i, j int) bool {
		return r.Files[i].FilePath < r.Files[j].FilePath
	})

	if r.TotalStatements > 0 {
		r.TotalPercent = round2(float64(r.CoveredStatements) / float64(r.TotalStatements) * 100)
	}

	for _, row := range trend {
		r.Trend = append(r.Trend, CoverageTrendPoint{
			ExecutionID: row.ExecutionID,
			Percent:     row.TotalCoverage,
		})
	}

	for _, delta := range regressions {
		r.Regressions = append(r.Regressions, CoverageRegressionRow{
			FilePath:        delta.FilePath,
			CurrentPercent:  delta.CurrentPercent,
			BaselinePercent: delta.BaselinePercent,
			Delta:           delta.Delta,
		})
	}

	return r
}

var coverageHTMLTemplate = template.Must(template.New("coverage").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Coverage Report</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #24292f; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #d0d7de; padding: 0.4rem 0.8rem; text-align: left; }
.gauge { font-size: 2.5rem; font-weight: bold; }
.regression { color: #cf222e; }
</style>
</head>
<body>
<h1>Coverage Report</h1>
<p class="gauge">{{printf "%.2f" .TotalPercent}}%</p>
<p>{{.CoveredStatements}} of {{.TotalStatements}} statements covered.</p>
<canvas id="trend"></canvas>
<script>const coverageTrend = {{.TrendJSON}};</script>
<h2>Per-File Coverage</h2>
<table>
<tr><th>File</th><th>Coverage</th><th>Covered</th><th>Statements</th></tr>
{{range .Files}}<tr><td>{{.FilePath}}</td><td>{{printf "%.2f" .Percent}}%</td><td>{{.CoveredStatements}}</td><td>{{.TotalStatements}}</td></tr>
{{end}}</table>
{{if .Regressions}}<h2 class="regression">Regressions</h2>
<table>
<tr><th>File</th><th>Current</th><th>Baseline</th><th>Delta</th></tr>
{{range .Regressions}}<tr><td>{{.FilePath}}</td><td>{{printf "%.2f" .CurrentPercent}}%</td><td>{{printf "%.2f" .BaselinePercent}}%</td><td class="regression">{{printf "%.2f" .Delta}}</td></tr>
{{end}}</table>{{end}}
</body>
</html>
`))

// RenderCoverageHTML renders the coverage report as a standalone HTML page.
func RenderCoverageHTML(r *CoverageReport) (string, error) {
	trend := r.Trend
	if trend == nil {
		trend = []CoverageTrendPoint{}
	}

	trendJSON, err := chartJSON(trend)
	if err != nil {
		return "", err
	}

	data := struct {
		*CoverageReport
		TrendJSON template.JS
	}{CoverageReport: r, TrendJSON: template.JS(trendJSON)}

	var buf strings.Builder
	if err := coverageHTMLTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render coverage report: %w", err)
	}

	return buf.String(), nil
}

// RenderCoverageMarkdown renders the coverage report as Markdown.
func RenderCoverageMarkdown(r *CoverageReport) string {
	var b strings.Builder

	b.WriteString("# Coverage Report\n\n")
	fmt.Fprintf(&b, "**%.2f%%** `%s` (%d/%d statements)\n\n",
		r.TotalPercent, percentBar(r.TotalPercent, 20), r.CoveredStatements, r.TotalStatements)

	b.WriteString("## Per-File Coverage\n\n")

	if len(r.Files) == 0 {
		b.WriteString("No coverage data.\n\n")
	} else {
		b.WriteString("| File | Coverage | Covered | Statements |\n|---|---|---|---|\n")

		for _, file := range r.Files {
			fmt.Fprintf(&b, "| %s | %.2f%% | %d | %d |\n",
				file.FilePath, file.Percent, file.CoveredStatements, file.TotalStatements)
		}

		b.WriteString("\n")
	}

	if len(r.Regressions) > 0 {
		b.WriteString("## Regressions\n\n")
		b.WriteString("| File | Current | Baseline | Delta |\n|---|---|---|---|\n")

		for _, row := range r.Regressions {
			fmt.Fprintf(&b, "| %s | %.2f%% | %.2f%% | %.2f |\n",
				row.FilePath, row.CurrentPercent, row.BaselinePercent, row.Delta)
		}
	}

	return b.String()
}
