package task

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTask       = errors.New("unknown task")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrDuplicateTask     = errors.New("duplicate task id")
)

// UnknownTaskError is returned for operations on an id the tracker has never seen.
type UnknownTaskError struct {
	ID string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task: %s", e.ID)
}

func (e *UnknownTaskError) Unwrap() error { return ErrUnknownTask }

func (e *UnknownTaskError) ErrorKind() string { return "unknown_task" }

// TransitionError is returned when a task is asked to move along an edge the state machine
// does not have.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot transition from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func (e *TransitionError) ErrorKind() string { return "invalid_transition" }
