package selection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/safetest/internal/types"
)

type fakeDetector struct {
	changed     []string
	uncommitted []string
	err         error
	lastRef     string
}

func (f *fakeDetector) ListChangedFiles(_ context.Context, sinceRef string) ([]string, error) {
	f.lastRef = sinceRef
	return f.changed, f.err
}

func (f *fakeDetector) ListUncommittedChanges(context.Context) ([]string, error) {
	return f.uncommitted, f.err
}

type fakeGraph map[string][]string

func (g fakeGraph) GetDependents(testID string) []string { return g[testID] }

type fakeAnalyzer struct {
	analysis   types.ImpactAnalysis
	allTests   []string
	graph      types.DependencyGraph
	analyzeErr error
	graphErr   error
	panicMsg   string
	calls      atomic.Int32
	lastPaths  []string
}

func (f *fakeAnalyzer) AnalyzeImpact(_ context.Context, paths []string) (types.ImpactAnalysis, error) {
	f.calls.Add(1)
	f.lastPaths = paths
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.analysis, f.analyzeErr
}

func (f *fakeAnalyzer) DiscoverAllTests(context.Context, string) ([]string, error) {
	if f.allTests != nil {
		return f.allTests, nil
	}
	return f.analysis.AllTests, nil
}

func (f *fakeAnalyzer) BuildDependencyGraph(context.Context, string) (types.DependencyGraph, error) {
	return f.graph, f.graphErr
}

// suite returns n test ids T1..Tn.
func suite(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("T%d", i+1)
	}
	return out
}

// scenarioAnalysis is confidence 0.9, ratio 0.1, affected {T1, T2}.
func scenarioAnalysis() types.ImpactAnalysis {
	return types.ImpactAnalysis{
		AffectedTests: []string{"T1", "T2"},
		AllTests:      suite(20),
		Confidence:    0.9,
		Metadata:      types.AnalysisMetadata{Strategy: "fake"},
	}
}

func baseOptions() types.SelectionOptions {
	return types.SelectionOptions{
		MinimumConfidence:     0.8,
		MaximumSelectionRatio: 0.3,
		FallbackToAllTests:    true,
	}
}

func requireInvariants(t *testing.T, res types.SelectionResult) {
	t.Helper()
	require.NotEmpty(t, res.SelectionReason)
	require.NoError(t, res.Validate())
}

func TestSmartSelectionAccepted(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: scenarioAnalysis()}
	engine := NewEngine(nil, analyzer, ".")

	res := engine.SelectTestsForChangedFiles(context.Background(), []string{"pkg/a.go"}, baseOptions())

	requireInvariants(t, res)
	assert.True(t, res.UsedSmartSelection)
	assert.Equal(t, []string{"T1", "T2"}, res.SelectedTests)
	assert.Len(t, res.AllTests, 20)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Contains(t, res.SelectionReason, "0.9")
	assert.Contains(t, res.SelectionReason, "0.1")
	assert.Equal(t, 2, res.Metrics.AffectedTestCount)
	assert.Equal(t, 2, res.Metrics.SelectedTestCount)
	assert.Equal(t, 20, res.Metrics.TotalTestCount)
	assert.Equal(t, 1, res.Metrics.ChangedFileCount)
	assert.Equal(t, 1, res.Metrics.RelevantFileCount)
}

func TestLowConfidenceFallsBack(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: scenarioAnalysis()}
	engine := NewEngine(nil, analyzer, ".")
	opts := baseOptions()
	opts.MinimumConfidence = 0.95

	res := engine.SelectTestsForChangedFiles(context.Background(), []string{"pkg/a.go"}, opts)

	requireInvariants(t, res)
	assert.False(t, res.UsedSmartSelection)
	assert.ElementsMatch(t, res.AllTests, res.SelectedTests)
	assert.Contains(t, res.SelectionReason, "0.9")
	assert.Contains(t, res.SelectionReason, "0.95")
}

func TestConfigOnlyChangeRunsEverything(t *testing.T) {
	analyzer := &fakeAnalyzer{allTests: suite(5)}
	engine := NewEngine(nil, analyzer, ".")
	opts := baseOptions()
	opts.IncludeConfigFileTests = false

	res := engine.SelectTestsForChangedFiles(context.Background(), []string{"appsettings.json"}, opts)

	requireInvariants(t, res)
	assert.False(t, res.UsedSmartSelection)
	assert.Equal(t, ReasonNoRelevantChanges, res.SelectionReason)
	assert.Equal(t, suite(5), res.SelectedTests)
	assert.Equal(t, int32(0), analyzer.calls.Load(), "analyzer must not run on an empty filtered set")
	assert.Equal(t, 0, res.Metrics.RelevantFileCount)
}

func TestConfigChangeKeptWhenIncluded(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: scenarioAnalysis()}
	engine := NewEngine(nil, analyzer, ".")
	opts := baseOptions()
	opts.IncludeConfigFileTests = true

	res := engine.SelectTestsForChangedFiles(context.Background(), []string{"appsettings.json", "Dockerfile"}, opts)

	requireInvariants(t, res)
	assert.Equal(t, []string{"appsettings.json"}, analyzer.lastPaths)
	assert.True(t, res.UsedSmartSelection)
}

func TestPolicyTableOrder(t *testing.T) {
	tests := []struct {
		name       string
		analysis   types.ImpactAnalysis
		opts       func(*types.SelectionOptions)
		wantSmart  bool
		wantReason string
	}{
		{
			name: "ratio too high",
			analysis: types.ImpactAnalysis{
				AffectedTests: suite(10), AllTests: suite(20), Confidence: 0.99,
			},
			wantReason: "selection ratio 0.5 exceeds maximum selection ratio 0.3",
		},
		{
			name: "confidence checked before ratio",
			analysis: types.ImpactAnalysis{
				AffectedTests: suite(10), AllTests: suite(20), Confidence: 0.1,
			},
			wantReason: "confidence 0.1 is below minimum confidence 0.8",
		},
		{
			name:       "no affected tests",
			analysis:   types.ImpactAnalysis{AllTests: suite(20), Confidence: 0.95},
			wantReason: ReasonNoAffectedTests,
		},
		{
			name: "warnings with fallback disabled",
			analysis: types.ImpactAnalysis{
				AffectedTests: []string{"T1"}, AllTests: suite(20), Confidence: 0.95,
				Metadata: types.AnalysisMetadata{Warnings: []string{"unmapped file README.md"}},
			},
			opts:       func(o *types.SelectionOptions) { o.FallbackToAllTests = false },
			wantReason: ReasonWarningsWithoutFallback,
		},
		{
			name: "warnings tolerated with fallback enabled",
			analysis: types.ImpactAnalysis{
				AffectedTests: []string{"T1"}, AllTests: suite(20), Confidence: 0.95,
				Metadata: types.AnalysisMetadata{Warnings: []string{"unmapped file README.md"}},
			},
			wantSmart: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(nil, &fakeAnalyzer{analysis: tt.analysis}, ".")
			opts := baseOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}
			res := engine.SelectTestsForChangedFiles(context.Background(), []string{"a.go"}, opts)
			requireInvariants(t, res)
			assert.Equal(t, tt.wantSmart, res.UsedSmartSelection)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, res.SelectionReason)
			}
			if len(tt.analysis.Metadata.Warnings) > 0 {
				assert.Subset(t, res.Warnings, tt.analysis.Metadata.Warnings)
			}
		})
	}
}

func TestIndirectDependenciesExpandWithDependents(t *testing.T) {
	analyzer := &fakeAnalyzer{
		analysis: scenarioAnalysis(),
		graph: fakeGraph{
			"T1": {"T3", "T4"},
			"T2": {"T4", "not-a-test"},
		},
	}
	engine := NewEngine(nil, analyzer, ".")
	opts := baseOptions()
	opts.IncludeIndirectDependencies = true

	res := engine.SelectTestsForChangedFiles(context.Background(), []string{"a.go"}, opts)

	requireInvariants(t, res)
	assert.True(t, res.UsedSmartSelection)
	assert.Equal(t, []string{"T1", "T2", "T3", "T4"}, res.SelectedTests)
	assert.Equal(t, 2, res.Metrics.AffectedTestCount)
	assert.Equal(t, 4, res.Metrics.SelectedTestCount)
}

func TestIndirectExpansionWarnsWhenRatioGrows(t *testing.T) {
	analyzer := &fakeAnalyzer{
		analysis: types.ImpactAnalysis{AffectedTests: []string{"T1"}, AllTests: suite(4), Confidence: 1},
		graph:    fakeGraph{"T1": {"T2", "T3"}},
	}
	engine := NewEngine(nil, analyzer, ".")
	opts := baseOptions()
	opts.IncludeIndirectDependencies = true

	res := engine.SelectTestsForChangedFiles(context.Background(), []string{"a.go"}, opts)

	requireInvariants(t, res)
	assert.True(t, hasWarning(res.Warnings, "raised the selection ratio to 0.75"), "warnings: %v", res.Warnings)
}

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestCollaboratorFailuresDegrade(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		detector *fakeDetector
		analyzer *fakeAnalyzer
		run      func(*Engine) types.SelectionResult
	}{
		{
			name:     "analyzer error",
			analyzer: &fakeAnalyzer{analyzeErr: boom},
			run: func(e *Engine) types.SelectionResult {
				return e.SelectTestsForChangedFiles(context.Background(), []string{"a.go"}, baseOptions())
			},
		},
		{
			name:     "analyzer panic",
			analyzer: &fakeAnalyzer{panicMsg: "boom"},
			run: func(e *Engine) types.SelectionResult {
				return e.SelectTestsForChangedFiles(context.Background(), []string{"a.go"}, baseOptions())
			},
		},
		{
			name:     "graph error",
			analyzer: &fakeAnalyzer{analysis: scenarioAnalysis(), graphErr: boom},
			run: func(e *Engine) types.SelectionResult {
				opts := baseOptions()
				opts.IncludeIndirectDependencies = true
				return e.SelectTestsForChangedFiles(context.Background(), []string{"a.go"}, opts)
			},
		},
		{
			name:     "detector error",
			detector: &fakeDetector{err: boom},
			analyzer: &fakeAnalyzer{analysis: scenarioAnalysis()},
			run: func(e *Engine) types.SelectionResult {
				return e.SelectTests(context.Background(), baseOptions())
			},
		},
		{
			name:     "git detector error",
			detector: &fakeDetector{err: boom},
			analyzer: &fakeAnalyzer{analysis: scenarioAnalysis()},
			run: func(e *Engine) types.SelectionResult {
				return e.SelectTestsForGitChanges(context.Background(), "main", baseOptions())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var detector ChangeDetector
			if tt.detector != nil {
				detector = tt.detector
			}
			res := tt.run(NewEngine(detector, tt.analyzer, "."))

			requireInvariants(t, res)
			assert.True(t, res.Degraded)
			assert.False(t, res.UsedSmartSelection)
			assert.Zero(t, res.Confidence)
			assert.Empty(t, res.SelectedTests)
			require.NotEmpty(t, res.Warnings)
			assert.Contains(t, res.Warnings[0], "boom")
		})
	}
}

func TestMissingDetectorDegrades(t *testing.T) {
	res := NewEngine(nil, &fakeAnalyzer{}, ".").SelectTests(context.Background(), baseOptions())
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Warnings[0], ErrNoChangeDetector.Error())
}

func TestEmptyFallbackIsNotDegraded(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: types.ImpactAnalysis{
		Confidence: 0,
		Metadata:   types.AnalysisMetadata{Warnings: []string{"no Go package owns docs/a.md"}},
	}}
	res := NewEngine(nil, analyzer, ".").SelectTestsForChangedFiles(context.Background(), []string{"docs/a.md"}, baseOptions())

	requireInvariants(t, res)
	assert.False(t, res.Degraded, "a policy fallback is not a collaborator failure")
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.AllTests)
	assert.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.SelectionReason, "below minimum confidence")
}

func TestOutOfRangeConfidenceIsTreatedAsZero(t *testing.T) {
	for _, confidence := range []float64{math.NaN(), -0.5, 1.5, math.Inf(1)} {
		t.Run(fmt.Sprint(confidence), func(t *testing.T) {
			analysis := scenarioAnalysis()
			analysis.Confidence = confidence
			res := NewEngine(nil, &fakeAnalyzer{analysis: analysis}, ".").
				SelectTestsForChangedFiles(context.Background(), []string{"a.go"}, baseOptions())

			requireInvariants(t, res)
			assert.False(t, res.UsedSmartSelection)
			assert.Zero(t, res.Confidence)
			assert.Len(t, res.SelectedTests, 20)
			assert.True(t, hasWarning(res.Warnings, "outside [0, 1]"), "%v", res.Warnings)
		})
	}
}

func TestSelectTestsWithoutChangesRunsEverything(t *testing.T) {
	analyzer := &fakeAnalyzer{allTests: suite(3)}
	engine := NewEngine(&fakeDetector{}, analyzer, ".")

	res := engine.SelectTests(context.Background(), baseOptions())

	requireInvariants(t, res)
	assert.Equal(t, ReasonNoChanges, res.SelectionReason)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, suite(3), res.SelectedTests)
	assert.False(t, res.UsedSmartSelection)
}

func TestSelectTestsUsesUncommittedChanges(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: scenarioAnalysis()}
	engine := NewEngine(&fakeDetector{uncommitted: []string{"svc/handler.go"}}, analyzer, ".")

	res := engine.SelectTests(context.Background(), baseOptions())

	requireInvariants(t, res)
	assert.True(t, res.UsedSmartSelection)
	assert.Equal(t, types.ChangeSet{"svc/handler.go"}, res.ChangedFiles)
}

func TestSelectTestsForGitChangesPassesRef(t *testing.T) {
	detector := &fakeDetector{changed: []string{"a.go"}}
	engine := NewEngine(detector, &fakeAnalyzer{analysis: scenarioAnalysis()}, ".")

	res := engine.SelectTestsForGitChanges(context.Background(), "origin/main", baseOptions())

	requireInvariants(t, res)
	assert.Equal(t, "origin/main", detector.lastRef)
	assert.True(t, res.UsedSmartSelection)
}

func TestCacheAndForceRefresh(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: scenarioAnalysis()}
	engine := NewEngine(nil, analyzer, ".")
	opts := baseOptions()
	opts.UseCache = true

	first := engine.SelectTestsForChangedFiles(context.Background(), []string{"b.go", "a.go"}, opts)
	second := engine.SelectTestsForChangedFiles(context.Background(), []string{"a.go", "b.go"}, opts)

	assert.False(t, first.Metrics.CacheHit)
	assert.True(t, second.Metrics.CacheHit)
	assert.Equal(t, int32(1), analyzer.calls.Load())

	opts.ForceRefresh = true
	third := engine.SelectTestsForChangedFiles(context.Background(), []string{"a.go", "b.go"}, opts)
	assert.False(t, third.Metrics.CacheHit)
	assert.Equal(t, int32(2), analyzer.calls.Load())
	assert.True(t, hasWarning(third.Warnings, "force refresh takes precedence"), "warnings: %v", third.Warnings)
}

func TestInvalidOptionsRunEverything(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: scenarioAnalysis()}
	engine := NewEngine(nil, analyzer, ".")
	opts := baseOptions()
	opts.MinimumConfidence = 1.5

	res := engine.SelectTestsForChangedFiles(context.Background(), []string{"a.go"}, opts)

	requireInvariants(t, res)
	assert.False(t, res.UsedSmartSelection)
	assert.Len(t, res.SelectedTests, 20)
	assert.Contains(t, res.SelectionReason, "invalid selection options")
}

func TestEngineDoesNotMutateInputs(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: scenarioAnalysis()}
	engine := NewEngine(nil, analyzer, ".")
	changed := []string{"b.go", "a.go"}
	opts := baseOptions()
	before := opts

	res := engine.SelectTestsForChangedFiles(context.Background(), changed, opts)
	res.ChangedFiles[0] = "mutated"

	assert.Equal(t, []string{"b.go", "a.go"}, changed)
	assert.Equal(t, before, opts)
}
