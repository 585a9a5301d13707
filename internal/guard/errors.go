package guard

import "errors"

var (
	// ErrPrimaryTimeout is the cancellation cause when the primary deadline fires.
	ErrPrimaryTimeout = errors.New("primary timeout elapsed")

	// ErrEscalationTimeout is the cancellation cause when the escalation deadline fires.
	ErrEscalationTimeout = errors.New("escalation timeout elapsed")

	// ErrForceCancelled is the cancellation cause for a forced stop.
	ErrForceCancelled = errors.New("force cancelled")

	// ErrTestAlreadyActive is reported when a test id is monitored twice at once.
	ErrTestAlreadyActive = errors.New("test is already being monitored")

	// ErrUnitPanic wraps a panic raised by a unit.
	ErrUnitPanic = errors.New("unit panicked")

	// ErrNilUnit is reported when MonitorExecution is given no unit.
	ErrNilUnit = errors.New("nil unit")
)
