package report

import (
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/argos-io/argos/internal/storage"
)

type (
	// ValidatorSummary is one validator's latest scan on the quality report.
	ValidatorSummary struct {
		Validator       string
		FilesScanned    int
		TotalViolations int
		Errors          int
		Warnings        int
		Info            int
	}

	// CodeCount is one violation code and how often it occurred.
	CodeCount struct {
		Code  string
		Count int
	}

	// FileCount is one file and how many violations it carries.
	FileCount struct {
		FilePath string
		Count    int
	}

	// QualityComparison is one validator's local-vs-CI violation counts
	// with the delta arrow.
	QualityComparison struct {
		Validator string
		Local     int
		CI        int
		Arrow     string
	}

	// QualityReport is the input of the quality renderers.
	QualityReport struct {
		Validators  []ValidatorSummary
		TopCodes    []CodeCount
		TopFiles    []FileCount
		Comparisons []QualityComparison
	}
)

const qualityTopN = 10

// BuildQualityReport assembles the quality report. local holds the latest
// local summary per validator and remote the latest CI one; violations are
// the local findings backing the top-codes and top-files tables.
func BuildQualityReport(local []storage.LintSummary, remote []storage.LintSummary, violations []storage.LintViolation) *QualityReport {
	r := &QualityReport{}

	for _, row := range local {
		r.Validators = append(r.Validators, ValidatorSummary{
			Validator:       row.Validator,
			FilesScanned:    row.FilesScanned,
			TotalViolations: row.TotalViolations,
			Errors:          row.Errors,
			Warnings:        row.Warnings,
			Info:            row.Info,
		})
	}

	sort.Slice(r.Validators, func(i, j int) bool {
		return r.Validators[i].Validator < r.Validators[j].Validator
	})

	codeCounts := map[string]int{}
	fileCounts := map[string]int{}

	for _, violation := range violations {
		codeCounts[violation.Code]++
		fileCounts[violation.FilePath]++
	}

	r.TopCodes = topCodes(codeCounts)
	r.TopFiles = topFiles(fileCounts)

	remoteByValidator := map[string]int{}
	remoteSeen := map[string]bool{}

	for _, row := range remote {
		remoteByValidator[row.Validator] = row.TotalViolations
		remoteSeen[row.Validator] = true
	}

	for _, summary := range r.Validators {
		if !remoteSeen[summary.Validator] {
			continue
		}

		ci := remoteByValidator[summary.Validator]

		r.Comparisons = append(r.Comparisons, QualityComparison{
			Validator: summary.Validator,
			Local:     summary.TotalViolations,
			CI:        ci,
			Arrow:     deltaArrow(summary.TotalViolations, ci),
		})
	}

	return r
}

func topCodes(counts map[string]int) []CodeCount {
	out := make([]CodeCount, 0, len(counts))
	for code, count := range counts {
		out = append(out, CodeCount{Code: code, Count: count})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}

		return out[i].Code < out[j].Code
	})

	if len(out) > qualityTopN {
		out = out[:qualityTopN]
	}

	return out
}

func topFiles(counts map[string]int) []FileCount {
	out := make([]FileCount, 0, len(counts))
	for path, count := range counts {
		out = append(out, FileCount{FilePath: path, Count: count})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}

		return out[i].FilePath < out[j].FilePath
	})

	if len(out) > qualityTopN {
		out = out[:qualityTopN]
	}

	return out
}

var qualityHTMLTemplate = template.Must(template.New("quality").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Code Quality Report</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #24292f; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #d0d7de; padding: 0.4rem 0.8rem; text-align: left; }
</style>
</head>
<body>
<h1>Code Quality Report</h1>
<h2>Validators</h2>
{{if .Validators}}<table>
<tr><th>Validator</th><th>Files</th><th>Violations</th><th>Errors</th><th>Warnings</th><th>Info</th></tr>
{{range .Validators}}<tr><td>{{.Validator}}</td><td>{{.FilesScanned}}</td><td>{{.TotalViolations}}</td><td>{{.Errors}}</td><td>{{.Warnings}}</td><td>{{.Info}}</td></tr>
{{end}}</table>{{else}}<p>No scans recorded.</p>{{end}}
<h2>Top Violation Codes</h2>
{{if .TopCodes}}<table>
<tr><th>Code</th><th>Count</th></tr>
{{range .TopCodes}}<tr><td>{{.Code}}</td><td>{{.Count}}</td></tr>
{{end}}</table>{{else}}<p>No violations.</p>{{end}}
<h2>Top Files</h2>
{{if .TopFiles}}<table>
<tr><th>File</th><th>Count</th></tr>
{{range .TopFiles}}<tr><td>{{.FilePath}}</td><td>{{.Count}}</td></tr>
{{end}}</table>{{else}}<p>No violations.</p>{{end}}
{{if .Comparisons}}<h2>Local vs CI</h2>
<table>
<tr><th>Validator</th><th>Local</th><th>CI</th><th>Delta</th></tr>
{{range .Comparisons}}<tr><td>{{.Validator}}</td><td>{{.Local}}</td><td>{{.CI}}</td><td>{{.Arrow}}</td></tr>
{{end}}</table>{{end}}
</body>
</html>
`))

// RenderQualityHTML renders the quality report as a standalone HTML page.
func RenderQualityHTML(r *QualityReport) (string, error) {
	var buf strings.Builder
	if err := qualityHTMLTemplate.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("failed to render quality report: %w", err)
	}

	return buf.String(), nil
}

// RenderQualityMarkdown renders the quality report as Markdown.
func RenderQualityMarkdown(r *QualityReport) string {
	var b strings.Builder

	b.WriteString("# Code Quality Report\n\n")
	b.WriteString("## Validators\n\n")

	if len(r.Validators) == 0 {
		b.WriteString("No scans recorded.\n\n")
	} else {
		b.WriteString("| Validator | Files | Violations | Errors | Warnings | Info |\n|---|---|---|---|---|---|\n")

		for _, summary := range r.Validators {
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d |\n",
				summary.Validator, summary.FilesScanned, summary.TotalViolations,
				summary.Errors, summary.Warnings, summary.Info)
		}

		b.WriteString("\n")
	}

	if len(r.TopCodes) > 0 {
		b.WriteString("## Top Violation Codes\n\n| Code | Count |\n|---|---|\n")

		for _, entry := range r.TopCodes {
			fmt.Fprintf(&b, "| %s | %d |\n", entry.Code, entry.Count)
		}

		b.WriteString("\n")
	}

	if len(r.TopFiles) > 0 {
		b.WriteString("## Top Files\n\n| File | Count |\n|---|---|\n")

		for _, entry := range r.TopFiles {
			fmt.Fprintf(&b, "| %s | %d |\n", entry.FilePath, entry.Count)
		}

		b.WriteString("\n")
	}

	if len(r.Comparisons) > 0 {
		b.WriteString("## Local vs CI\n\n| Validator | Local | CI | Delta |\n|---|---|---|---|\n")

		for _, comparison := range r.Comparisons {
			fmt.Fprintf(&b, "| %s | %d | %d | %s |\n",
				comparison.Validator, comparison.Local, comparison.CI, comparison.Arrow)
		}
	}

	return b.String()
}
