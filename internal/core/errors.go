package core

import "errors"

var (
	// ErrUnsupportedDialect is returned when a driver has no registered dialect.
	ErrUnsupportedDialect = errors.New("unsupported database dialect")
)
