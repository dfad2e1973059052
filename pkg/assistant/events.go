package assistant

import (
	"context"
	"log/slog"

	"aviary/pkg/api"
)

// EventContext is handed to event handlers. Connector and Payload are
// optional depending on the event source.
type EventContext struct {
	SessionID string
	Lead      *api.Lead
	Message   *api.Message
	Connector api.Connector
	State     map[string]any
	Payload   map[string]any
}

// EventHandler reacts to a named event. A nil response lets the turn
// continue; later handlers for the same event still run only when earlier
// ones returned nil.
type EventHandler func(ctx context.Context, ev *EventContext) (*api.EventResponse, error)

// Trigger fires the handlers registered for event, in registration order,
// and returns the first non-nil response. Handler errors are logged and do
// not stop the chain.
func (a *Assistant) Trigger(ctx context.Context, event string, ev *EventContext) (*api.EventResponse, error) {
	handlers := a.events[event]
	if len(handlers) == 0 {
		return nil, nil
	}

	if ev == nil {
		ev = &EventContext{}
	}
	if ev.State == nil && ev.SessionID != "" {
		state, err := a.state.Get(ctx, ev.SessionID)
		if err != nil {
			slog.Warn("Failed to load state for event", "event", event, "session", ev.SessionID, "error", err)
			state = map[string]any{}
		}
		ev.State = state
	}

	for _, h := range handlers {
		resp, err := h(ctx, ev)
		if err != nil {
			slog.Error("Event handler failed", "assistant", a.name, "event", event, "error", err)
			continue
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}
