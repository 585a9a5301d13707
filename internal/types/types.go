// Package types defines the data model shared by test selection and guarded
// test execution.
package types

import (
	"fmt"
	"sort"
	"time"
)

// ChangeSet is an ordered list of repository-relative file paths.
type ChangeSet []string

// Clone returns an independent copy of the change set.
func (c ChangeSet) Clone() ChangeSet {
	if c == nil {
		return nil
	}
	out := make(ChangeSet, len(c))
	copy(out, c)
	return out
}

// AnalysisMetadata describes how an ImpactAnalysis was produced.
type AnalysisMetadata struct {
	// Strategy names the analysis algorithm (e.g. "go-imports").
	Strategy string `json:"strategy" yaml:"strategy"`

	// Duration is how long the analysis took.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Warnings lists conditions that lower trust in the analysis.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// ImpactAnalysis is the impact analyzer's verdict for a change set.
type ImpactAnalysis struct {
	// AffectedTests are the tests presumed impacted by the change set.
	AffectedTests []string `json:"affected_tests" yaml:"affected_tests"`

	// AllTests are all discoverable tests (superset of AffectedTests).
	AllTests []string `json:"all_tests" yaml:"all_tests"`

	// Confidence is the analyzer's certainty, in [0,1], that AffectedTests is complete.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	Metadata AnalysisMetadata `json:"metadata" yaml:"metadata"`
}

// SelectionRatio returns |AffectedTests| / |AllTests|, or 0 when there are no tests.
func (a ImpactAnalysis) SelectionRatio() float64 {
	if len(a.AllTests) == 0 {
		return 0
	}
	return float64(len(a.AffectedTests)) / float64(len(a.AllTests))
}

// SelectionOptions is the policy applied by the selection engine.
// The engine never mutates the options it is given.
type SelectionOptions struct {
	// MinimumConfidence is the lowest analyzer confidence accepted for smart selection.
	MinimumConfidence float64 `json:"minimum_confidence" yaml:"minimum_confidence"`

	// MaximumSelectionRatio is the largest share of the suite smart selection may pick.
	MaximumSelectionRatio float64 `json:"maximum_selection_ratio" yaml:"maximum_selection_ratio"`

	// IncludeIndirectDependencies expands affected tests with their dependents.
	IncludeIndirectDependencies bool `json:"include_indirect_dependencies" yaml:"include_indirect_dependencies"`

	// IncludeConfigFileTests keeps configuration file changes in the change set.
	IncludeConfigFileTests bool `json:"include_config_file_tests" yaml:"include_config_file_tests"`

	// IncludeInfrastructureTests keeps build/container descriptor changes in the change set.
	IncludeInfrastructureTests bool `json:"include_infrastructure_tests" yaml:"include_infrastructure_tests"`

	// ForceRefresh bypasses cached analyses. It wins over UseCache.
	ForceRefresh bool `json:"force_refresh" yaml:"force_refresh"`

	UseCache bool `json:"use_cache" yaml:"use_cache"`

	// FallbackToAllTests allows smart selection despite analyzer warnings.
	// When false, any analyzer warning forces a full run.
	FallbackToAllTests bool `json:"fallback_to_all_tests" yaml:"fallback_to_all_tests"`
}

// DefaultSelectionOptions returns the policy used when nothing is configured.
func DefaultSelectionOptions() SelectionOptions {
	return SelectionOptions{
		MinimumConfidence:           0.8,
		MaximumSelectionRatio:       0.5,
		IncludeIndirectDependencies: true,
		IncludeConfigFileTests:      false,
		IncludeInfrastructureTests:  false,
		ForceRefresh:                false,
		UseCache:                    true,
		FallbackToAllTests:          true,
	}
}

// SelectionMetrics records the cost of one selection.
type SelectionMetrics struct {
	TotalTime               time.Duration `json:"total_time" yaml:"total_time"`
	ChangeDetectionTime     time.Duration `json:"change_detection_time" yaml:"change_detection_time"`
	FilteringTime           time.Duration `json:"filtering_time" yaml:"filtering_time"`
	ImpactAnalysisTime      time.Duration `json:"impact_analysis_time" yaml:"impact_analysis_time"`
	DependencyExpansionTime time.Duration `json:"dependency_expansion_time" yaml:"dependency_expansion_time"`

	ChangedFileCount  int `json:"changed_file_count" yaml:"changed_file_count"`
	RelevantFileCount int `json:"relevant_file_count" yaml:"relevant_file_count"`
	AffectedTestCount int `json:"affected_test_count" yaml:"affected_test_count"`
	SelectedTestCount int `json:"selected_test_count" yaml:"selected_test_count"`
	TotalTestCount    int `json:"total_test_count" yaml:"total_test_count"`

	// CacheHit is true when the impact analysis came from the cache.
	CacheHit bool `json:"cache_hit" yaml:"cache_hit"`
}

// SelectionResult is the selection engine's decision.
//
// SelectedTests is always a subset of AllTests; when UsedSmartSelection is
// false the two are equal.
type SelectionResult struct {
	SelectedTests      []string         `json:"selected_tests" yaml:"selected_tests"`
	AllTests           []string         `json:"all_tests" yaml:"all_tests"`
	Confidence         float64          `json:"confidence" yaml:"confidence"`
	UsedSmartSelection bool             `json:"used_smart_selection" yaml:"used_smart_selection"`
	SelectionReason    string           `json:"selection_reason" yaml:"selection_reason"`
	ChangedFiles       ChangeSet        `json:"changed_files" yaml:"changed_files"`
	Warnings           []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Metrics            SelectionMetrics `json:"metrics" yaml:"metrics"`

	// Degraded marks the empty, flagged result produced when a collaborator
	// failed. No test was selected and Warnings carries the failure.
	Degraded bool `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// SelectionRatio returns the share of the suite that was selected.
func (r *SelectionResult) SelectionRatio() float64 {
	if len(r.AllTests) == 0 {
		return 0
	}
	return float64(len(r.SelectedTests)) / float64(len(r.AllTests))
}

// Validate checks the structural invariants of a result.
func (r *SelectionResult) Validate() error {
	if r.SelectionReason == "" {
		return ErrEmptySelectionReason
	}
	all := make(map[string]struct{}, len(r.AllTests))
	for _, t := range r.AllTests {
		all[t] = struct{}{}
	}
	for _, t := range r.SelectedTests {
		if _, ok := all[t]; !ok {
			return fmt.Errorf("%w: %s", ErrSelectionNotSubset, t)
		}
	}
	if !r.UsedSmartSelection && !sameSet(r.SelectedTests, r.AllTests) {
		return ErrFallbackNotFullSuite
	}
	return nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Profile selects an execution guard implementation.
type Profile string

const (
	// ProfileRobust cancels cooperatively first and escalates later.
	ProfileRobust Profile = "robust"

	// ProfileAggressive caps timeouts low and force-cancels immediately.
	ProfileAggressive Profile = "aggressive"
)

// ParseProfile validates a profile name. Empty means robust.
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case "", ProfileRobust:
		return ProfileRobust, nil
	case ProfileAggressive:
		return ProfileAggressive, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: robust|aggressive)", ErrUnknownProfile, s)
	}
}

// TimeoutConfiguration bounds guarded test execution.
type TimeoutConfiguration struct {
	// DefaultTimeout is the primary (cooperative) deadline.
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// EscalationTimeout is the deadline after which cancellation turns forceful.
	// The robust profile always keeps it strictly above DefaultTimeout.
	EscalationTimeout time.Duration `json:"escalation_timeout" yaml:"escalation_timeout"`

	// HeartbeatInterval is the liveness polling period; 0 disables heartbeat monitoring.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// MaxHeartbeatFailures is the number of consecutive missed heartbeats tolerated.
	MaxHeartbeatFailures int `json:"max_heartbeat_failures" yaml:"max_heartbeat_failures"`

	// ProcessTimeout is a hard backstop independent of heartbeats; 0 disables it.
	ProcessTimeout time.Duration `json:"process_timeout" yaml:"process_timeout"`

	// EnableForceCancellation allows OS-level termination of attached processes.
	EnableForceCancellation bool `json:"enable_force_cancellation" yaml:"enable_force_cancellation"`
}

// DefaultTimeoutConfiguration returns the configuration used when nothing is configured.
func DefaultTimeoutConfiguration() TimeoutConfiguration {
	return TimeoutConfiguration{
		DefaultTimeout:          10 * time.Minute,
		EscalationTimeout:       20 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		MaxHeartbeatFailures:    3,
		ProcessTimeout:          30 * time.Minute,
		EnableForceCancellation: true,
	}
}

// Normalized returns a copy with out-of-range values clamped:
// MaxHeartbeatFailures is at least 1 and negative durations become 0.
func (c TimeoutConfiguration) Normalized() TimeoutConfiguration {
	if c.MaxHeartbeatFailures < 1 {
		c.MaxHeartbeatFailures = 1
	}
	if c.DefaultTimeout < 0 {
		c.DefaultTimeout = 0
	}
	if c.EscalationTimeout < 0 {
		c.EscalationTimeout = 0
	}
	if c.HeartbeatInterval < 0 {
		c.HeartbeatInterval = 0
	}
	if c.ProcessTimeout < 0 {
		c.ProcessTimeout = 0
	}
	return c
}

// Outcome is the terminal classification of a guarded run.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeEscalated        Outcome = "escalated"
	OutcomeHeartbeatFailure Outcome = "heartbeat_failure"
	OutcomeProcessTimeout   Outcome = "process_timeout"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeForceCancelled   Outcome = "force_cancelled"
	OutcomeGuardError       Outcome = "guard_error"
)

// TestExecutionResult is the terminal record of one guarded run.
// Build it with the constructors below so the flags stay consistent.
type TestExecutionResult struct {
	TestID             string        `json:"test_id" yaml:"test_id"`
	RunID              string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Outcome            Outcome       `json:"outcome" yaml:"outcome"`
	IsSuccess          bool          `json:"is_success" yaml:"is_success"`
	Duration           time.Duration `json:"duration" yaml:"duration"`
	ErrorMessage       string        `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	IsTimeout          bool          `json:"is_timeout" yaml:"is_timeout"`
	IsForceCancelled   bool          `json:"is_force_cancelled" yaml:"is_force_cancelled"`
	CancellationReason string        `json:"cancellation_reason,omitempty" yaml:"cancellation_reason,omitempty"`
}

// Passed returns a successful completion.
func Passed(testID string, d time.Duration) TestExecutionResult {
	return TestExecutionResult{TestID: testID, Outcome: OutcomeCompleted, IsSuccess: true, Duration: d}
}

// Failed returns a completion where the unit reported failure.
func Failed(testID string, d time.Duration, msg string) TestExecutionResult {
	return TestExecutionResult{TestID: testID, Outcome: OutcomeCompleted, Duration: d, ErrorMessage: msg}
}

// TimedOut returns a run stopped by a deadline. forced is true when the unit
// ignored cooperative cancellation and had to be force-cancelled.
func TimedOut(testID string, d time.Duration, outcome Outcome, reason string, forced bool) TestExecutionResult {
	return TestExecutionResult{
		TestID:             testID,
		Outcome:            outcome,
		Duration:           d,
		ErrorMessage:       reason,
		IsTimeout:          true,
		IsForceCancelled:   forced,
		CancellationReason: reason,
	}
}

// ForceCancelled returns a run abandoned without a deadline expiring
// (heartbeat failure or an explicit force-cancel request).
func ForceCancelled(testID string, d time.Duration, outcome Outcome, reason string) TestExecutionResult {
	return TestExecutionResult{
		TestID:             testID,
		Outcome:            outcome,
		Duration:           d,
		ErrorMessage:       reason,
		IsForceCancelled:   true,
		CancellationReason: reason,
	}
}

// Cancelled returns a run that honoured an external cancellation request.
func Cancelled(testID string, d time.Duration, reason string) TestExecutionResult {
	return TestExecutionResult{
		TestID:             testID,
		Outcome:            OutcomeCancelled,
		Duration:           d,
		ErrorMessage:       reason,
		CancellationReason: reason,
	}
}

// GuardFailure returns a run the guard could not supervise.
func GuardFailure(testID string, d time.Duration, msg string) TestExecutionResult {
	return TestExecutionResult{TestID: testID, Outcome: OutcomeGuardError, Duration: d, ErrorMessage: msg}
}

// DependencyGraph answers reverse-dependency queries over tests.
type DependencyGraph interface {
	// GetDependents returns the tests that transitively depend on testID.
	GetDependents(testID string) []string
}
