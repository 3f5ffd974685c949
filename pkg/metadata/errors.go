package metadata

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingKey is matched by every *MissingKeyError.
	ErrMissingKey = errors.New("missing key")
	// ErrTypeMismatch is matched by every *TypeMismatchError.
	ErrTypeMismatch = errors.New("type mismatch")
)

// MissingKeyError reports a read of a key that is not present.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("metadata: missing key %q", e.Key)
}

func (e *MissingKeyError) Unwrap() error { return ErrMissingKey }

// TypeMismatchError reports a typed read whose stored value has a different kind.
type TypeMismatchError struct {
	Key      string
	Expected string
	Actual   Kind
}

func (e *TypeMismatchError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("metadata: expected %s, got %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("metadata: key %q: expected %s, got %s", e.Key, e.Expected, e.Actual)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }
