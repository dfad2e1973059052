// Package store provides the two persistence keyspaces of the gateway:
// an ordered history list and a JSON state mapping, both keyed by session
// id. Backends: in-memory (development) and redis (production).
package store

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned only by operations that require an existing
// session (e.g. CloseConversation on backends that implement it). Plain
// reads on unknown sessions return empty results, not errors.
var ErrNotFound = errors.New("store: session not found")

// History is an append-only ordered list of serialized chat messages per
// session. Entries are opaque JSON blobs; the store never inspects them.
type History interface {
	// Append adds one entry preserving insertion order.
	Append(ctx context.Context, sessionID, entry string) error

	// Get returns the full list in insertion order; empty if absent.
	Get(ctx context.Context, sessionID string) ([]string, error)

	// Last returns the last n entries, insertion order preserved.
	Last(ctx context.Context, sessionID string, n int) ([]string, error)

	// Clear removes the session's history. If keepLast > 0 only the last
	// keepLast entries are retained.
	Clear(ctx context.Context, sessionID string, keepLast int) error
}

// State is a per-session JSON mapping. No transactions are required
// between operations; the assistant layer scopes its own (see Scope).
type State interface {
	Get(ctx context.Context, sessionID string) (map[string]any, error)
	Set(ctx context.Context, sessionID string, data map[string]any) error
	GetField(ctx context.Context, sessionID, key string) (any, error)
	SetField(ctx context.Context, sessionID, key string, value any) error
	Clear(ctx context.Context, sessionID string) error
	ClearAll(ctx context.Context) error
}

// Scope loads a session's state, hands a mutable mapping to fn, and writes
// it back on normal return. If fn fails the state is written back only
// when keepOnError is true. This is the single point where state is
// published between turns.
func Scope(ctx context.Context, st State, sessionID string, keepOnError bool, fn func(state map[string]any) error) error {
	state, err := st.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if state == nil {
		state = map[string]any{}
	}
	ferr := fn(state)
	if ferr != nil && !keepOnError {
		return ferr
	}
	if err := st.Set(ctx, sessionID, state); err != nil {
		if ferr != nil {
			return ferr
		}
		return err
	}
	return ferr
}
