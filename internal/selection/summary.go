package selection

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/boshu2/safetest/internal/types"
)

// maxListedTests bounds the test list printed by GetSelectionSummary.
const maxListedTests = 25

// GetSelectionSummary renders a human-readable report of a selection result.
// It is a pure function.
func GetSelectionSummary(result types.SelectionResult) string {
	var b strings.Builder

	b.WriteString("Test Selection Summary\n")
	b.WriteString("======================\n")

	strategy := "all tests"
	switch {
	case result.UsedSmartSelection:
		strategy = "smart selection"
	case result.Degraded:
		strategy = "none (selection failed)"
	}
	fmt.Fprintf(&b, "Strategy:    %s\n", strategy)
	fmt.Fprintf(&b, "Reason:      %s\n", result.SelectionReason)
	fmt.Fprintf(&b, "Confidence:  %s\n", formatFloat(result.Confidence))
	fmt.Fprintf(&b, "Selected:    %s of %s tests (%.1f%%)\n",
		humanize.Comma(int64(len(result.SelectedTests))),
		humanize.Comma(int64(len(result.AllTests))),
		result.SelectionRatio()*100)

	m := result.Metrics
	fmt.Fprintf(&b, "Changed:     %s %s", humanize.Comma(int64(len(result.ChangedFiles))), plural(len(result.ChangedFiles), "file", "files"))
	if m.RelevantFileCount > 0 || len(result.ChangedFiles) > 0 {
		fmt.Fprintf(&b, " (%s relevant)", humanize.Comma(int64(m.RelevantFileCount)))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Timing:      total %s (detect %s, filter %s, analyze %s, expand %s)\n",
		roundDuration(m.TotalTime), roundDuration(m.ChangeDetectionTime), roundDuration(m.FilteringTime),
		roundDuration(m.ImpactAnalysisTime), roundDuration(m.DependencyExpansionTime))
	if m.CacheHit {
		b.WriteString("Cache:       hit\n")
	}

	if len(result.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}

	if result.UsedSmartSelection && len(result.SelectedTests) > 0 {
		b.WriteString("Selected tests:\n")
		for i, t := range result.SelectedTests {
			if i == maxListedTests {
				fmt.Fprintf(&b, "  ... and %s more\n", humanize.Comma(int64(len(result.SelectedTests)-maxListedTests)))
				break
			}
			fmt.Fprintf(&b, "  - %s\n", t)
		}
	}

	return b.String()
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	default:
		return d
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
