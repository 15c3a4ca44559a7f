package store

import "errors"

// Sentinel errors a caller of Recover may check for with errors.Is.
var (
	// ErrCorrupted is returned when a record's checksum doesn't match its
	// contents — the log was truncated mid-write or damaged on disk.
	ErrCorrupted = errors.New("store: corrupted record")
)
