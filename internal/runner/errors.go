package runner

import "errors"

var (
	// ErrEmptyCommand is returned when the command template has no words.
	ErrEmptyCommand = errors.New("empty test command")

	// ErrNoGuard is returned when a runner is built without a guard.
	ErrNoGuard = errors.New("runner requires a guard")
)
