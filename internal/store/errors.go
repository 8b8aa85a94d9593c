package store

import "errors"

var (
	// ErrNotFound means no record exists for the requested key. Not
	// fatal: the manager treats an empty FastStore as "no history".
	ErrNotFound = errors.New("not found")

	// ErrCorruptState means a record exists but fails to parse or
	// validate. Recovery policy is the caller's: the manager falls back
	// to the latest archive row, then to a fresh generation 0.
	ErrCorruptState = errors.New("corrupt brain state")
)
