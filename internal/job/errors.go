package job

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("invalid request")
	// ErrJobActive is returned when an operation requires a finished job.
	ErrJobActive = errors.New("job is still active")
	// ErrInvalidTransition is returned when a mutation breaks the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvariant is returned when a mutation breaks record bookkeeping.
	ErrInvariant = errors.New("record invariant violated")
)

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets callers match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ExtractionError is a per-query failure. It is recorded on the query's
// result and the job continues with the next query.
type ExtractionError struct {
	Query string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %q: %v", e.Query, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ResourceAcquisitionError means the external resource could not be started.
// It fails the whole job.
type ResourceAcquisitionError struct {
	Err error
}

func (e *ResourceAcquisitionError) Error() string {
	return fmt.Sprintf("acquire resource: %v", e.Err)
}

func (e *ResourceAcquisitionError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed durable write. The in-memory record stays
// authoritative.
type PersistenceError struct {
	JobID string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
