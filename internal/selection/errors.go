package selection

import "errors"

// Sentinel errors for the selection package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrNoChangeDetector is returned when a change-driven selection runs without a detector.
	ErrNoChangeDetector = errors.New("no change detector configured")

	// ErrNoImpactAnalyzer is returned when the engine has no impact analyzer.
	ErrNoImpactAnalyzer = errors.New("no impact analyzer configured")

	// ErrCollaboratorPanic wraps a panic raised inside a collaborator.
	ErrCollaboratorPanic = errors.New("collaborator panicked")
)
