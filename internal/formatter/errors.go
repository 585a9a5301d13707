package formatter

import "errors"

// ErrUnknownFormat is returned by ParseFormat for an unsupported name.
var ErrUnknownFormat = errors.New("unknown output format")
