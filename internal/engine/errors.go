package engine

import "errors"

// Synchronous error kinds returned by Status/Update.
var (
	ErrNotFound        = errors.New("job not found")
	ErrAlreadyTerminal = errors.New("job already terminal")
)
