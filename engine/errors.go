package engine

import "errors"

// Error kinds surfaced directly to Submit/AddDependency callers (spec §7:
// "only InvalidSpec, DuplicateID, CyclicDependency are surfaced to the
// caller of Submit"). Every other failure is reported via per-task
// terminal state and events.
var (
	ErrInvalidSpec        = errors.New("engine: invalid task specification")
	ErrDuplicateID        = errors.New("engine: task ID already in use by a non-terminal task")
	ErrCyclicDependency   = errors.New("engine: dependency would create a cycle")
	ErrUnknownTask        = errors.New("engine: no such task")
	ErrNotCancellable     = errors.New("engine: task is already terminal")
	ErrNotPausable        = errors.New("engine: task is not RUNNING")
	ErrNotResumable       = errors.New("engine: task is not PAUSED")
	ErrNotRetryable       = errors.New("engine: task is not in a retryable terminal state")
	ErrShuttingDown       = errors.New("engine: engine is shutting down")
)
