package middleware

import (
	"context"
	"fmt"
	"time"

	"aviary/pkg/api"
	"aviary/pkg/store"
)

// State fields the tracker maintains per session.
const (
	firstSeenField = "first_seen"
	lastSeenField  = "last_seen"
)

// SessionTracker stamps first/last contact times into session state. The
// first time a peer shows up it fires the start event, then
// new_conversation; after an idle gap longer than configured it fires
// new_conversation again.
type SessionTracker struct {
	state   store.State
	emit    EventFunc
	idleGap time.Duration
	now     func() time.Time
}

// NewSessionTracker builds the tracker. idleGap <= 0 disables the
// idle-based new_conversation trigger.
func NewSessionTracker(state store.State, idleGap time.Duration, emit EventFunc) *SessionTracker {
	return &SessionTracker{state: state, emit: emit, idleGap: idleGap, now: time.Now}
}

func (t *SessionTracker) Name() string { return "session" }

// Process implements Middleware. Tracking never vetoes a message.
func (t *SessionTracker) Process(ctx context.Context, msg *api.Message) (bool, error) {
	sessionID := msg.SessionID()
	now := t.now().Unix()

	var fresh, idle bool
	err := store.Scope(ctx, t.state, sessionID, false, func(state map[string]any) error {
		if _, ok := state[firstSeenField]; !ok {
			state[firstSeenField] = now
			fresh = true
		}
		if last, ok := asInt64(state[lastSeenField]); ok && t.idleGap > 0 {
			idle = now-last > int64(t.idleGap.Seconds())
		}
		state[lastSeenField] = now
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("track session: %w", err)
	}

	if t.emit != nil {
		if fresh {
			t.emit(ctx, api.EventStart, msg, nil)
		}
		if fresh || idle {
			t.emit(ctx, api.EventNewConversation, msg, map[string]any{"first_contact": fresh})
		}
	}
	return true, nil
}

// asInt64 copes with JSON round-trips turning int64 into float64.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
