package agent

import (
	"encoding/json"
	"errors"
)

// Envelope is the error shape handed across the transport boundary.
type Envelope struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

// EnvelopeFrom converts err into an Envelope. The task id is taken from an *Error in the chain.
func EnvelopeFrom(err error) Envelope {
	if err == nil {
		return Envelope{}
	}
	env := Envelope{Kind: KindOf(err), Message: err.Error()}
	var agentErr *Error
	if errors.As(err, &agentErr) {
		env.TaskID = agentErr.TaskID
		if agentErr.Err != nil {
			env.Message = agentErr.Err.Error()
		}
	}
	return env
}

func (e Envelope) JSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"kind":"internal","message":"failed to encode error"}`
	}
	return string(b)
}
