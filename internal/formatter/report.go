package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/boshu2/safetest/internal/runner"
	"github.com/boshu2/safetest/internal/selection"
	"github.com/boshu2/safetest/internal/types"
)

// detailWidth bounds the DETAIL column of result tables.
const detailWidth = 80

// WriteSelection renders a selection result. The table format is the
// human-readable selection summary.
func WriteSelection(w io.Writer, f Format, res types.SelectionResult) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, res)
	case FormatJSONL:
		return WriteJSONL(w, []types.SelectionResult{res})
	case FormatYAML:
		return WriteYAML(w, res)
	case FormatMarkdown:
		return renderTemplate(w, "selection", selectionTemplate, &res)
	default:
		_, err := io.WriteString(w, selection.GetSelectionSummary(res))
		return err
	}
}

// WriteReport renders a run report. JSONL writes one result per line.
func WriteReport(w io.Writer, f Format, report runner.RunReport) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, report)
	case FormatJSONL:
		return WriteJSONL(w, report.Results)
	case FormatYAML:
		return WriteYAML(w, report)
	case FormatMarkdown:
		return renderTemplate(w, "report", reportTemplate, report)
	default:
		return writeReportTable(w, report)
	}
}

func writeReportTable(w io.Writer, report runner.RunReport) error {
	tbl := NewTable(w, "TEST", "OUTCOME", "DURATION", "DETAIL")
	tbl.SetMaxWidth(3, detailWidth)
	for _, res := range report.Results {
		tbl.AddRow(res.TestID, Status(res), FormatDuration(res.Duration), firstLine(detail(res)))
	}
	if err := tbl.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s in %s\n", Totals(report), FormatDuration(report.Duration))
	return err
}

// Status is a short label for a result.
func Status(res types.TestExecutionResult) string {
	switch {
	case res.IsSuccess:
		return "pass"
	case res.Outcome == types.OutcomeCompleted:
		return "fail"
	case res.IsTimeout && res.IsForceCancelled:
		return string(res.Outcome) + " (killed)"
	default:
		return string(res.Outcome)
	}
}

// Totals summarises a report in one line, e.g. "3 tests: 2 passed, 1 failed".
func Totals(report runner.RunReport) string {
	counts := []struct {
		n     int
		label string
	}{
		{report.Passed, "passed"},
		{report.Failed, "failed"},
		{report.TimedOut, "timed out"},
		{report.ForceCancelled, "force-cancelled"},
		{report.Cancelled, "cancelled"},
		{report.GuardErrors, "guard errors"},
	}
	var parts []string
	for i, c := range counts {
		// passed and failed are always shown
		if c.n == 0 && i > 1 {
			continue
		}
		parts = append(parts, humanize.Comma(int64(c.n))+" "+c.label)
	}
	noun := "tests"
	if len(report.Results) == 1 {
		noun = "test"
	}
	return fmt.Sprintf("%s %s: %s", humanize.Comma(int64(len(report.Results))), noun, strings.Join(parts, ", "))
}

// FormatDuration rounds d for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

func detail(res types.TestExecutionResult) string {
	if res.CancellationReason != "" {
		return res.CancellationReason
	}
	return res.ErrorMessage
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func renderTemplate(w io.Writer, name, text string, data any) error {
	tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(text)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	return tmpl.Execute(w, data)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"status":   Status,
		"duration": FormatDuration,
		"totals":   Totals,
		"detail":   func(res types.TestExecutionResult) string { return firstLine(detail(res)) },
		"percent":  func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
		"comma":    func(n int) string { return humanize.Comma(int64(n)) },
		"code":     func(s string) string { return "`" + strings.ReplaceAll(s, "`", "'") + "`" },
		"cell":     func(s string) string { return strings.ReplaceAll(s, "|", "\\|") },
	}
}

const reportTemplate = `# Test run {{ .ID }}

**Profile:** {{ .Profile }}
**Started:** {{ .StartedAt.Format "2006-01-02 15:04:05" }}
**Result:** {{ totals . }} in {{ duration .Duration }}

| Test | Outcome | Duration | Detail |
|------|---------|----------|--------|
{{- range .Results }}
| {{ code .TestID }} | {{ status . }} | {{ duration .Duration }} | {{ cell (detail .) }} |
{{- end }}
`

const selectionTemplate = `# Test selection

**Strategy:** {{ if .UsedSmartSelection }}smart selection{{ else }}all tests{{ end }}
**Reason:** {{ .SelectionReason }}
**Selected:** {{ comma (len .SelectedTests) }} of {{ comma (len .AllTests) }} tests ({{ percent .SelectionRatio }})

{{- if .Warnings }}

## Warnings
{{ range .Warnings }}
- {{ . }}
{{- end }}
{{- end }}

{{- if .ChangedFiles }}

## Changed files
{{ range .ChangedFiles }}
- {{ code . }}
{{- end }}
{{- end }}

{{- if .UsedSmartSelection }}

## Selected tests
{{ range .SelectedTests }}
- {{ code . }}
{{- end }}
{{- end }}
`
