package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/harun/atlas/internal/observability"
	"github.com/harun/atlas/pkg/metadata"
)

// Event carries data pushed to an agent outside of a tool call, such as a notification from
// another agent or the host.
type Event struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Payload  *metadata.Metadata `json:"payload"`
	Metadata *metadata.Metadata `json:"metadata,omitempty"`
}

func NewEvent(eventType string, payload *metadata.Metadata) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		Payload:  payload,
		Metadata: metadata.New(),
	}
}

// HandleEvent merges the event payload into the agent state. Keys already present are
// overwritten.
func (a *Agent) HandleEvent(ctx context.Context, event Event) error {
	if event.Type == "" {
		return &Error{Kind: KindInvalidRequest, Err: fmt.Errorf("%w: event type is required", ErrInvalidRequest)}
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	keys := event.Payload.Keys()
	a.stateMu.Lock()
	a.state.Merge(event.Payload)
	size := a.state.Len()
	a.stateMu.Unlock()

	a.logger.Debug().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Strs("keys", keys).
		Int("state_keys", size).
		Msg("Event applied to agent state")
	observability.RecordEventAudit(ctx, a.config.name, event.ID, event.Type, keys)
	return nil
}

// State returns a snapshot of the state accumulated from events.
func (a *Agent) State() *metadata.Metadata {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state.Clone()
}
