package impact

import "errors"

var (
	// ErrNoModule is returned when the root has no go.mod or it names no module.
	ErrNoModule = errors.New("no Go module at root")
)
