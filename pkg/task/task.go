package task

import (
	"errors"
	"time"

	"github.com/harun/atlas/pkg/metadata"
)

// Failure is the recorded cause of a Failed task.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Task is a point-in-time snapshot of one unit of work. Snapshots handed out by the Tracker are
// copies; mutating one does not affect the tracker.
type Task struct {
	ID        string             `json:"id"`
	Status    Status             `json:"status"`
	Input     *metadata.Metadata `json:"input"`
	Result    *metadata.Metadata `json:"result,omitempty"`
	Error     *Failure           `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Input = t.Input.Clone()
	if t.Result != nil {
		out.Result = t.Result.Clone()
	}
	if t.Error != nil {
		failure := *t.Error
		out.Error = &failure
	}
	return &out
}

// Lifetime is the time between creation and the last transition.
func (t *Task) Lifetime() time.Duration {
	return t.UpdatedAt.Sub(t.CreatedAt)
}

type kinded interface {
	ErrorKind() string
}

// FailureFrom converts err into a Failure. The kind comes from the first error in the chain
// that reports one; otherwise it is "internal".
func FailureFrom(err error) *Failure {
	if err == nil {
		return nil
	}
	kind := "internal"
	var k kinded
	if errors.As(err, &k) {
		kind = k.ErrorKind()
	}
	return &Failure{Kind: kind, Message: err.Error()}
}
