package types

import "errors"

// Sentinel errors for result validation. Using sentinels allows callers to
// match with errors.Is for reliable error handling.
var (
	// ErrEmptySelectionReason is returned when a SelectionResult carries no reason.
	ErrEmptySelectionReason = errors.New("selection reason must not be empty")

	// ErrSelectionNotSubset is returned when a selected test is missing from AllTests.
	ErrSelectionNotSubset = errors.New("selected test is not part of all tests")

	// ErrFallbackNotFullSuite is returned when a fallback result does not select every test.
	ErrFallbackNotFullSuite = errors.New("fallback selection must select all tests")

	// ErrUnknownProfile is returned for an unrecognised guard profile name.
	ErrUnknownProfile = errors.New("unknown guard profile")
)
