package oeis

import "errors"

// Sentinel errors shared across store implementations.
var (
	// ErrCheckpointRegression is returned by AdvanceCheckpoint when the
	// proposed checkpoint does not strictly exceed the stored one.
	ErrCheckpointRegression = errors.New("checkpoint would not advance")
	// ErrPassNotFound is returned when a pass id has no stored state.
	ErrPassNotFound = errors.New("pass not found")
)
