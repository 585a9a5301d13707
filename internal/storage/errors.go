package storage

import "errors"

// Sentinel errors for the storage package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrRunIDRequired is returned when a report write is attempted without an ID.
	ErrRunIDRequired = errors.New("run ID is required")

	// ErrRunNotFound is returned when no stored run matches an ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrAmbiguousRunID is returned when an ID prefix matches several runs.
	ErrAmbiguousRunID = errors.New("run ID prefix is ambiguous")

	// ErrNoRuns is returned when the history is empty.
	ErrNoRuns = errors.New("no runs recorded")
)
