package selection

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/boshu2/safetest/internal/types"
)

func TestGetSelectionSummarySmart(t *testing.T) {
	res := types.SelectionResult{
		SelectedTests:      []string{"T1", "T2"},
		AllTests:           suite(20),
		Confidence:         0.9,
		UsedSmartSelection: true,
		SelectionReason:    "smart selection: confidence 0.9 meets minimum 0.8",
		ChangedFiles:       types.ChangeSet{"a.go", "b.json"},
		Warnings:           []string{"unmapped file b.json"},
		Metrics: types.SelectionMetrics{
			TotalTime:         12 * time.Millisecond,
			RelevantFileCount: 1,
			CacheHit:          true,
		},
	}

	out := GetSelectionSummary(res)

	assert.Contains(t, out, "Strategy:    smart selection")
	assert.Contains(t, out, "Selected:    2 of 20 tests (10.0%)")
	assert.Contains(t, out, "Changed:     2 files (1 relevant)")
	assert.Contains(t, out, "Cache:       hit")
	assert.Contains(t, out, "  - unmapped file b.json")
	assert.Contains(t, out, "  - T1\n  - T2\n")
	assert.Equal(t, out, GetSelectionSummary(res), "summary must be deterministic")
}

func TestGetSelectionSummaryFallbackAndDegraded(t *testing.T) {
	fallback := types.SelectionResult{
		SelectedTests:   suite(3),
		AllTests:        suite(3),
		Confidence:      1,
		SelectionReason: ReasonNoChanges,
	}
	out := GetSelectionSummary(fallback)
	assert.Contains(t, out, "Strategy:    all tests")
	assert.NotContains(t, out, "Selected tests:")

	degraded := degradedResult(nil, fmt.Errorf("analyzer offline"))
	out = GetSelectionSummary(degraded)
	assert.Contains(t, out, "none (selection failed)")
	assert.Contains(t, out, "analyzer offline")
}

func TestGetSelectionSummaryTruncatesLongLists(t *testing.T) {
	all := suite(2000)
	res := types.SelectionResult{
		SelectedTests:      all[:100],
		AllTests:           all,
		Confidence:         1,
		UsedSmartSelection: true,
		SelectionReason:    "smart",
	}
	out := GetSelectionSummary(res)
	assert.Contains(t, out, "100 of 2,000 tests")
	assert.Contains(t, out, "... and 75 more")
	assert.Equal(t, maxListedTests, strings.Count(out, "\n  - T"))
}
