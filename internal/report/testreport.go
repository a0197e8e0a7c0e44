package report

import (
	"fmt"
	"html/template"
	"strings"
)

var testHTMLTemplate = template.Must(template.New("test").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Test Execution Report</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #24292f; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #d0d7de; padding: 0.4rem 0.8rem; text-align: left; }
.card { display: inline-block; border: 1px solid #d0d7de; border-radius: 6px; padding: 1rem; margin-right: 1rem; }
.passed { color: #1a7f37; } .failed { color: #cf222e; }
</style>
</head>
<body>
<h1>Test Execution Report</h1>
<div>
<div class="card"><strong>{{.Total}}</strong> total</div>
<div class="card passed"><strong>{{.Passed}}</strong> passed</div>
<div class="card failed"><strong>{{.Failed}}</strong> failed</div>
<div class="card"><strong>{{.Skipped}}</strong> skipped</div>
<div class="card"><strong>{{.SuccessRate}}%</strong> success rate</div>
<div class="card"><strong>{{.AvgDuration}}s</strong> avg duration</div>
</div>
<h2>Daily Trend</h2>
<canvas id="trend"></canvas>
<script>const trendData = {{.TrendJSON}};</script>
<h2>Flaky Tests</h2>
{{if .Flaky}}<table>
<tr><th>Test</th><th>Failure Rate</th><th>Runs</th></tr>
{{range .Flaky}}<tr><td>{{.EntityID}}</td><td>{{printf "%.2f" .FailureRate}}</td><td>{{.TotalRuns}}</td></tr>
{{end}}</table>{{else}}<p>No flaky tests detected.</p>{{end}}
<h2>Slowest Tests</h2>
{{if .Slowest}}<table>
<tr><th>Test</th><th>Avg Duration (s)</th></tr>
{{range .Slowest}}<tr><td>{{.EntityID}}</td><td>{{.AvgDuration}}</td></tr>
{{end}}</table>{{else}}<p>No duration data.</p>{{end}}
</body>
</html>
`))

// RenderTestHTML renders the test-execution report as a standalone HTML
// page with the trend series inlined as JSON for the chart script.
func RenderTestHTML(r *TestReport) (string, error) {
	trend, err := chartJSON(trendOrEmpty(r.Trend))
	if err != nil {
		return "", err
	}

	data := struct {
		*TestReport
		TrendJSON template.JS
	}{TestReport: r, TrendJSON: template.JS(trend)}

	var buf strings.Builder
	if err := testHTMLTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render test report: %w", err)
	}

	return buf.String(), nil
}

// RenderTestMarkdown renders the test-execution report as Markdown.
func RenderTestMarkdown(r *TestReport) string {
	var b strings.Builder

	b.WriteString("# Test Execution Report\n\n")
	fmt.Fprintf(&b, "| Total | Passed | Failed | Skipped | Success Rate | Avg Duration |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %.2f%% | %.2fs |\n\n",
		r.Total, r.Passed, r.Failed, r.Skipped, r.SuccessRate, r.AvgDuration)

	b.WriteString("## Daily Trend\n\n")

	if len(r.Trend) == 0 {
		b.WriteString("No executions recorded.\n\n")
	} else {
		b.WriteString("| Date | Passed | Failed |\n|---|---|---|\n")

		for _, point := range r.Trend {
			fmt.Fprintf(&b, "| %s | %d | %d |\n", point.Date, point.Passed, point.Failed)
		}

		b.WriteString("\n")
	}

	b.WriteString("## Flaky Tests\n\n")

	if len(r.Flaky) == 0 {
		b.WriteString("No flaky tests detected.\n\n")
	} else {
		b.WriteString("| Test | Failure Rate | Runs |\n|---|---|---|\n")

		for _, entry := range r.Flaky {
			fmt.Fprintf(&b, "| %s | %.2f | %d |\n", entry.EntityID, entry.FailureRate, entry.TotalRuns)
		}

		b.WriteString("\n")
	}

	b.WriteString("## Slowest Tests\n\n")

	if len(r.Slowest) == 0 {
		b.WriteString("No duration data.\n")
	} else {
		b.WriteString("| Test | Avg Duration (s) |\n|---|---|\n")

		for _, entry := range r.Slowest {
			fmt.Fprintf(&b, "| %s | %.2f |\n", entry.EntityID, entry.AvgDuration)
		}
	}

	return b.String()
}

func trendOrEmpty(trend []TrendPoint) []TrendPoint {
	if trend == nil {
		return []TrendPoint{}
	}

	return trend
}
