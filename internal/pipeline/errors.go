package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPhaseName is returned when a registry is built with an unnamed phase.
	ErrEmptyPhaseName = errors.New("phase name must not be empty")

	// ErrDuplicatePhase is returned when two phases share a name.
	ErrDuplicatePhase = errors.New("duplicate phase name")

	// ErrUnknownPhase is returned when a session records a completed phase
	// that the registry does not contain.
	ErrUnknownPhase = errors.New("session contains a phase not in the registry")

	// ErrInterrupted is returned when the run is cancelled.
	ErrInterrupted = errors.New("scan interrupted")

	// ErrPhasePanic wraps a panic raised by a phase.
	ErrPhasePanic = errors.New("phase panicked")

	// ErrTaskPanic wraps a panic raised by a pool task.
	ErrTaskPanic = errors.New("task panicked")
)

// PhaseError is returned by Driver.Run when a phase fails.
type PhaseError struct {
	Phase string
	Err   error
}

// Error implements the error interface.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *PhaseError) Unwrap() error {
	return e.Err
}
