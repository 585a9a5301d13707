// Package selection decides which tests must run after a code change.
//
// The Engine asks an ImpactAnalyzer which tests a change set affects and then
// applies a SelectionOptions policy to decide whether that reduced set can be
// trusted or whether the whole suite has to run. Every decision carries a
// human-readable reason and timing metrics.
//
// Public entry points never return collaborator errors. A failing change
// detector or impact analyzer produces an empty result with confidence 0 and
// the failure recorded in Warnings (see SelectionResult.Degraded).
package selection

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/boshu2/safetest/internal/telemetry"
	"github.com/boshu2/safetest/internal/types"
)

// Reasons recorded for fallback decisions.
const (
	ReasonNoChanges               = "no changes detected"
	ReasonNoRelevantChanges       = "no relevant changes after filtering"
	ReasonNoAffectedTests         = "no affected tests found"
	ReasonWarningsWithoutFallback = "fallback disabled and warnings present"
)

// Engine is the selection decision engine. It is safe for concurrent use
// when its collaborators are.
type Engine struct {
	detector   ChangeDetector
	analyzer   ImpactAnalyzer
	root       string
	classifier *Classifier
	cache      *AnalysisCache
	log        logrus.FieldLogger
	recorder   *telemetry.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier replaces the default config/infrastructure classifier.
func WithClassifier(c *Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithCache shares an analysis cache between engines. Pass nil to disable caching.
func WithCache(c *AnalysisCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRecorder sets the telemetry recorder. The default uses the global MeterProvider.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates an engine for the project rooted at root.
// detector may be nil when only SelectTestsForChangedFiles is used.
func NewEngine(detector ChangeDetector, analyzer ImpactAnalyzer, root string, opts ...Option) *Engine {
	e := &Engine{
		detector:   detector,
		analyzer:   analyzer,
		root:       root,
		classifier: NewClassifier(nil, nil),
		cache:      NewAnalysisCache(),
		recorder:   telemetry.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		e.log = discard
	}
	if e.classifier == nil {
		e.classifier = NewClassifier(nil, nil)
	}
	return e
}

// selectionRun carries state that must survive into a degraded result.
type selectionRun struct {
	changed types.ChangeSet
	metrics types.SelectionMetrics
}

// SelectTests selects tests for the uncommitted changes in the working tree.
// With no changes every discoverable test is selected with confidence 1.
func (e *Engine) SelectTests(ctx context.Context, opts types.SelectionOptions) types.SelectionResult {
	return e.guarded(ctx, func(run *selectionRun) (types.SelectionResult, error) {
		if e.detector == nil {
			return types.SelectionResult{}, ErrNoChangeDetector
		}
		start := time.Now()
		changed, err := e.detector.ListUncommittedChanges(ctx)
		run.metrics.ChangeDetectionTime = time.Since(start)
		if err != nil {
			return types.SelectionResult{}, fmt.Errorf("list uncommitted changes: %w", err)
		}
		return e.decide(ctx, run, changed, opts)
	})
}

// SelectTestsForChangedFiles applies the selection policy to an explicit change set.
func (e *Engine) SelectTestsForChangedFiles(ctx context.Context, changedFiles []string, opts types.SelectionOptions) types.SelectionResult {
	return e.guarded(ctx, func(run *selectionRun) (types.SelectionResult, error) {
		return e.decide(ctx, run, changedFiles, opts)
	})
}

// SelectTestsForGitChanges selects tests for the files changed since sinceRef.
func (e *Engine) SelectTestsForGitChanges(ctx context.Context, sinceRef string, opts types.SelectionOptions) types.SelectionResult {
	return e.guarded(ctx, func(run *selectionRun) (types.SelectionResult, error) {
		if e.detector == nil {
			return types.SelectionResult{}, ErrNoChangeDetector
		}
		start := time.Now()
		changed, err := e.detector.ListChangedFiles(ctx, sinceRef)
		run.metrics.ChangeDetectionTime = time.Since(start)
		if err != nil {
			return types.SelectionResult{}, fmt.Errorf("list files changed since %q: %w", sinceRef, err)
		}
		return e.decide(ctx, run, changed, opts)
	})
}

// guarded runs fn and converts any error or panic into a degraded result.
// It also fills the timing and count metrics and reports the decision.
func (e *Engine) guarded(ctx context.Context, fn func(run *selectionRun) (types.SelectionResult, error)) (res types.SelectionResult) {
	start := time.Now()
	run := &selectionRun{}

	defer func() {
		if r := recover(); r != nil {
			res = degradedResult(run.changed, fmt.Errorf("%w: %v", ErrCollaboratorPanic, r))
		}
		m := run.metrics
		m.TotalTime = time.Since(start)
		m.ChangedFileCount = len(run.changed)
		m.SelectedTestCount = len(res.SelectedTests)
		m.TotalTestCount = len(res.AllTests)
		res.Metrics = m
		e.report(ctx, res)
	}()

	if e.analyzer == nil {
		return degradedResult(nil, ErrNoImpactAnalyzer)
	}
	res, err := fn(run)
	if err != nil {
		return degradedResult(run.changed, err)
	}
	return res
}

func (e *Engine) report(ctx context.Context, res types.SelectionResult) {
	e.recorder.RecordSelection(ctx, res.UsedSmartSelection, res.Degraded)
	entry := e.log.WithFields(logrus.Fields{
		"smart":      res.UsedSmartSelection,
		"confidence": res.Confidence,
		"selected":   len(res.SelectedTests),
		"total":      len(res.AllTests),
		"changed":    len(res.ChangedFiles),
		"elapsed":    res.Metrics.TotalTime,
	})
	if res.Degraded {
		entry.WithField("warnings", res.Warnings).Warn("test selection degraded: " + res.SelectionReason)
		return
	}
	entry.Info("test selection: " + res.SelectionReason)
}

// decide is the core policy: filter, analyze, apply thresholds, expand.
func (e *Engine) decide(ctx context.Context, run *selectionRun, changedFiles []string, opts types.SelectionOptions) (types.SelectionResult, error) {
	run.changed = types.ChangeSet(changedFiles).Clone()
	if run.changed == nil {
		run.changed = types.ChangeSet{}
	}

	validation := ValidateOptions(opts)
	warnings := append([]string(nil), validation.Warnings...)

	if !validation.Valid {
		all, err := e.discoverAll(ctx)
		if err != nil {
			return types.SelectionResult{}, err
		}
		reason := "invalid selection options: " + strings.Join(validation.Errors, "; ")
		return fullSuite(run.changed, all, 1.0, reason, append(warnings, validation.Errors...)), nil
	}

	if len(run.changed) == 0 {
		all, err := e.discoverAll(ctx)
		if err != nil {
			return types.SelectionResult{}, err
		}
		return fullSuite(run.changed, all, 1.0, ReasonNoChanges, warnings), nil
	}

	filterStart := time.Now()
	relevant := e.classifier.Filter(run.changed, opts.IncludeConfigFileTests, opts.IncludeInfrastructureTests)
	run.metrics.FilteringTime = time.Since(filterStart)
	run.metrics.RelevantFileCount = len(relevant)

	if len(relevant) == 0 {
		all, err := e.discoverAll(ctx)
		if err != nil {
			return types.SelectionResult{}, err
		}
		return fullSuite(run.changed, all, 1.0, ReasonNoRelevantChanges, warnings), nil
	}

	analysisStart := time.Now()
	analysis, cacheHit, err := e.analyze(ctx, relevant, opts)
	run.metrics.ImpactAnalysisTime = time.Since(analysisStart)
	run.metrics.CacheHit = cacheHit
	if err != nil {
		return types.SelectionResult{}, fmt.Errorf("analyze impact: %w", err)
	}

	affected := sortedUnique(analysis.AffectedTests)
	all := sortedUnique(append(append([]string(nil), analysis.AllTests...), affected...))
	run.metrics.AffectedTestCount = len(affected)
	warnings = append(warnings, analysis.Metadata.Warnings...)

	confidence := analysis.Confidence
	if !inUnitRange(confidence) {
		warnings = append(warnings, fmt.Sprintf("impact analysis reported confidence %s outside [0, 1]; treating it as 0",
			formatFloat(confidence)))
		confidence = 0
	}
	ratio := 0.0
	if len(all) > 0 {
		ratio = float64(len(affected)) / float64(len(all))
	}

	if reason, fallback := fallbackReason(confidence, ratio, len(affected), len(analysis.Metadata.Warnings), opts); fallback {
		return fullSuite(run.changed, all, confidence, reason, warnings), nil
	}

	selected := affected
	if opts.IncludeIndirectDependencies {
		expandStart := time.Now()
		selected, err = e.expand(ctx, affected, all)
		run.metrics.DependencyExpansionTime = time.Since(expandStart)
		if err != nil {
			return types.SelectionResult{}, fmt.Errorf("expand indirect dependencies: %w", err)
		}
		if expandedRatio := float64(len(selected)) / float64(len(all)); expandedRatio > opts.MaximumSelectionRatio {
			warnings = append(warnings, fmt.Sprintf(
				"indirect dependencies raised the selection ratio to %s (maximum %s)",
				formatFloat(expandedRatio), formatFloat(opts.MaximumSelectionRatio)))
		}
	}

	reason := fmt.Sprintf("smart selection: confidence %s meets minimum %s and selection ratio %s is within maximum %s",
		formatFloat(confidence), formatFloat(opts.MinimumConfidence),
		formatFloat(ratio), formatFloat(opts.MaximumSelectionRatio))

	return types.SelectionResult{
		SelectedTests:      selected,
		AllTests:           all,
		Confidence:         confidence,
		UsedSmartSelection: true,
		SelectionReason:    reason,
		ChangedFiles:       run.changed,
		Warnings:           warnings,
	}, nil
}

// fallbackReason applies the policy table. The first failing rule wins.
func fallbackReason(confidence, ratio float64, affected, analysisWarnings int, opts types.SelectionOptions) (string, bool) {
	switch {
	case confidence < opts.MinimumConfidence:
		return fmt.Sprintf("confidence %s is below minimum confidence %s",
			formatFloat(confidence), formatFloat(opts.MinimumConfidence)), true
	case ratio > opts.MaximumSelectionRatio:
		return fmt.Sprintf("selection ratio %s exceeds maximum selection ratio %s",
			formatFloat(ratio), formatFloat(opts.MaximumSelectionRatio)), true
	case affected == 0:
		return ReasonNoAffectedTests, true
	case !opts.FallbackToAllTests && analysisWarnings > 0:
		return ReasonWarningsWithoutFallback, true
	}
	return "", false
}

func (e *Engine) analyze(ctx context.Context, paths []string, opts types.SelectionOptions) (types.ImpactAnalysis, bool, error) {
	readCache := e.cache != nil && opts.UseCache && !opts.ForceRefresh
	if readCache {
		if a, ok := e.cache.Get(paths); ok {
			return a, true, nil
		}
	}
	a, err := e.analyzer.AnalyzeImpact(ctx, paths)
	if err != nil {
		return types.ImpactAnalysis{}, false, err
	}
	if e.cache != nil && opts.UseCache {
		e.cache.Put(paths, a)
	}
	return a, false, nil
}

// expand adds the dependents of every affected test. Dependents that are not
// known tests are ignored so the selection stays a subset of all tests.
func (e *Engine) expand(ctx context.Context, affected, all []string) ([]string, error) {
	graph, err := e.analyzer.BuildDependencyGraph(ctx, e.root)
	if err != nil {
		return nil, err
	}
	if graph == nil {
		return nil, fmt.Errorf("dependency graph for %s is nil", e.root)
	}
	known := make(map[string]struct{}, len(all))
	for _, t := range all {
		known[t] = struct{}{}
	}
	selected := append([]string(nil), affected...)
	for _, t := range affected {
		for _, dep := range graph.GetDependents(t) {
			if _, ok := known[dep]; ok {
				selected = append(selected, dep)
			}
		}
	}
	return sortedUnique(selected), nil
}

func (e *Engine) discoverAll(ctx context.Context) ([]string, error) {
	all, err := e.analyzer.DiscoverAllTests(ctx, e.root)
	if err != nil {
		return nil, fmt.Errorf("discover tests in %s: %w", e.root, err)
	}
	return sortedUnique(all), nil
}

func fullSuite(changed types.ChangeSet, all []string, confidence float64, reason string, warnings []string) types.SelectionResult {
	if all == nil {
		all = []string{}
	}
	return types.SelectionResult{
		SelectedTests:      append([]string(nil), all...),
		AllTests:           all,
		Confidence:         confidence,
		UsedSmartSelection: false,
		SelectionReason:    reason,
		ChangedFiles:       changed,
		Warnings:           warnings,
	}
}

func degradedResult(changed types.ChangeSet, err error) types.SelectionResult {
	if changed == nil {
		changed = types.ChangeSet{}
	}
	return types.SelectionResult{
		SelectedTests:      []string{},
		AllTests:           []string{},
		Confidence:         0,
		UsedSmartSelection: false,
		SelectionReason:    "test selection failed: " + err.Error(),
		ChangedFiles:       changed,
		Warnings:           []string{err.Error()},
		Degraded:           true,
	}
}

// formatFloat renders v with at most four decimals and no trailing zeros.
func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}
