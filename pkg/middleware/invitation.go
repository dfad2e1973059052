package middleware

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"aviary/pkg/api"
	"aviary/pkg/store"
)

// AuthenticatedField is the state field marking a session as admitted.
const AuthenticatedField = "authenticated"

var codePattern = regexp.MustCompile(`^#[A-Za-z0-9]{6}$`)

// EventFunc lets a middleware fire gateway events without depending on the
// gateway package.
type EventFunc func(ctx context.Context, event string, msg *api.Message, payload map[string]any)

// Invitation gates sessions behind invitation codes of the form #XXXXXX.
// Until a session presents a valid code, its messages never reach the
// engine. The only exceptions are /login and /logout, which must stay
// reachable so deployments can attach master-password auth to them.
type Invitation struct {
	state     store.State
	emit      EventFunc
	singleUse bool

	mu    sync.Mutex
	codes map[string]bool
}

// NewInvitation builds the gate. emit may be nil. When singleUse is set,
// an accepted code is removed from the pool.
func NewInvitation(state store.State, codes []string, singleUse bool, emit EventFunc) *Invitation {
	pool := make(map[string]bool, len(codes))
	for _, c := range codes {
		pool[normalizeCode(c)] = true
	}
	return &Invitation{state: state, emit: emit, singleUse: singleUse, codes: pool}
}

func (i *Invitation) Name() string { return "invitation" }

// AddCode adds a code to the pool at runtime.
func (i *Invitation) AddCode(code string) {
	i.mu.Lock()
	i.codes[normalizeCode(code)] = true
	i.mu.Unlock()
}

// Process implements Middleware.
func (i *Invitation) Process(ctx context.Context, msg *api.Message) (bool, error) {
	sessionID := msg.SessionID()

	authed, err := i.state.GetField(ctx, sessionID, AuthenticatedField)
	if err == nil {
		if b, ok := authed.(bool); ok && b {
			return true, nil
		}
	}

	text := strings.TrimSpace(msg.Text)
	if isAuthCommand(text) {
		return true, nil
	}
	if codePattern.MatchString(text) {
		if i.redeem(text) {
			if err := i.state.SetField(ctx, sessionID, AuthenticatedField, true); err != nil {
				return false, fmt.Errorf("mark session authenticated: %w", err)
			}
			if i.emit != nil {
				i.emit(ctx, api.EventInvitationOK, msg, map[string]any{"code": text})
			}
		} else if i.emit != nil {
			i.emit(ctx, api.EventRejectedCode, msg, map[string]any{"code": text})
		}
		// The code itself never reaches the engine; the events speak.
		return false, nil
	}

	if i.emit != nil && !strings.HasPrefix(text, "/") {
		i.emit(ctx, api.EventRejectedCode, msg, nil)
	}
	return false, nil
}

func (i *Invitation) redeem(code string) bool {
	code = normalizeCode(code)
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.codes[code] {
		return false
	}
	if i.singleUse {
		delete(i.codes, code)
	}
	return true
}

func normalizeCode(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// isAuthCommand matches the two commands that pass the gate.
func isAuthCommand(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(fields[0])
	return cmd == "/login" || cmd == "/logout"
}
