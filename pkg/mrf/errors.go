package mrf

import (
	"errors"
	"fmt"
)

// Error kinds reported by the weight model, the grid and the engine. Callers
// should test for them with errors.Is; the returned errors carry context.
var (
	// ErrInvalidArgument reports a malformed weight table, a volume smaller
	// than 3 voxels along some axis, or a length mismatch.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConfigured reports that Run was called before the classifier,
	// the initial labels or a class count of at least 2 were supplied.
	ErrNotConfigured = errors.New("engine not configured")

	// ErrInvalidState reports an attempt to reconfigure the engine while a
	// run is in progress.
	ErrInvalidState = errors.New("invalid engine state")

	// ErrInvalidDistance reports a classifier distance that is negative,
	// NaN or infinite.
	ErrInvalidDistance = errors.New("invalid classifier distance")
)

// RunError is returned by Run when an iteration is aborted. The engine keeps
// the labels of the last completed iteration; Iterations counts those.
type RunError struct {
	Iterations int
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("icm run aborted after %d completed iterations: %v", e.Iterations, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
