package proctree

import "errors"

// ErrRefusedPID is returned when asked to signal init or the current process.
var ErrRefusedPID = errors.New("refusing to signal pid")
