package agent

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCapabilityDenied = errors.New("capability denied")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrTaskCancelled    = errors.New("task cancelled")
)

const (
	KindCapabilityDenied = "capability_denied"
	KindInvalidRequest   = "invalid_request"
	KindCancelled        = "cancelled"
	KindInternal         = "internal"
)

// Error is returned by every Agent operation that fails. Kind is the stable tag also used in
// the envelope; Err keeps the original cause for errors.Is and errors.As.
type Error struct {
	Kind   string
	TaskID string
	Tool   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.TaskID != "" && e.Tool != "":
		return fmt.Sprintf("task %s (%s): %v", e.TaskID, e.Tool, e.Err)
	case e.TaskID != "":
		return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorKind() string { return e.Kind }

type kinded interface {
	ErrorKind() string
}

// KindOf returns the envelope tag of err: the kind reported by the first error in the chain
// that has one, "timeout" or "cancelled" for bare context errors, "internal" otherwise.
func KindOf(err error) string {
	var k kinded
	switch {
	case err == nil:
		return ""
	case errors.As(err, &k):
		return k.ErrorKind()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

func newError(taskID, tool string, err error) *Error {
	return &Error{Kind: KindOf(err), TaskID: taskID, Tool: tool, Err: err}
}
