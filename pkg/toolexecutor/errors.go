package toolexecutor

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTool  = errors.New("duplicate tool")
	ErrToolNotFound   = errors.New("tool not found")
	ErrRegistrySealed = errors.New("registry is sealed")

	ErrToolFailed = errors.New("tool failed")
	ErrTimeout    = errors.New("tool call timed out")
	ErrOverloaded = errors.New("tool overloaded")
	ErrCancelled  = errors.New("tool call cancelled")
)

// ErrorKind is the stable tag of a pipeline failure.
type ErrorKind string

const (
	KindToolNotFound ErrorKind = "tool_not_found"
	KindToolFailed   ErrorKind = "tool_failed"
	KindTimeout      ErrorKind = "timeout"
	KindOverloaded   ErrorKind = "overloaded"
	KindCancelled    ErrorKind = "cancelled"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindToolNotFound:
		return ErrToolNotFound
	case KindToolFailed:
		return ErrToolFailed
	case KindTimeout:
		return ErrTimeout
	case KindOverloaded:
		return ErrOverloaded
	case KindCancelled:
		return ErrCancelled
	}
	return nil
}

// PipelineError is returned by Pipeline.Execute for failures the pipeline itself detects.
// errors.Is matches both the kind sentinel (ErrTimeout, ...) and the wrapped cause.
type PipelineError struct {
	Kind  ErrorKind
	Tool  string
	Cause error
}

func (e *PipelineError) Error() string {
	switch e.Kind {
	case KindToolFailed:
		return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
	case KindToolNotFound:
		return fmt.Sprintf("tool not found: %s", e.Tool)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Cause)
		}
		return fmt.Sprintf("tool %s: %s", e.Tool, e.Kind)
	}
}

func (e *PipelineError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// ErrorKind returns the envelope tag for this failure.
func (e *PipelineError) ErrorKind() string { return string(e.Kind) }
