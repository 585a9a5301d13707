package config

import "errors"

var (
	// ErrUnknownKey is returned for a configuration key that does not exist.
	ErrUnknownKey = errors.New("unknown config key")

	// ErrInvalidValue is returned when a value is out of range.
	ErrInvalidValue = errors.New("invalid config value")
)
