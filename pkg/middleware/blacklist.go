package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"aviary/pkg/api"
)

// RejectFunc delivers the reject notice back to a blocked peer.
type RejectFunc func(ctx context.Context, msg *api.Message, text string)

// Blacklist drops messages from blocked sessions and tells the peer so.
// The block set is managed over its HTTP surface (mounted under
// /middlewares/blacklist, behind the gateway API key) or programmatically.
type Blacklist struct {
	mu         sync.RWMutex
	blocked    map[string]bool
	rejectText string
	send       RejectFunc
}

// NewBlacklist builds an empty blacklist stage. rejectText is sent back on
// every blocked message; empty means block silently.
func NewBlacklist(rejectText string) *Blacklist {
	return &Blacklist{blocked: map[string]bool{}, rejectText: rejectText}
}

// SetSender installs the delivery function for reject notices. It is wired
// after gateway construction because delivery needs the connector registry.
func (b *Blacklist) SetSender(fn RejectFunc) {
	b.mu.Lock()
	b.send = fn
	b.mu.Unlock()
}

func (b *Blacklist) Name() string { return "blacklist" }

// Process implements Middleware.
func (b *Blacklist) Process(ctx context.Context, msg *api.Message) (bool, error) {
	b.mu.RLock()
	blocked := b.blocked[msg.SessionID()]
	send := b.send
	b.mu.RUnlock()
	if !blocked {
		return true, nil
	}
	if send != nil && b.rejectText != "" {
		send(ctx, msg, b.rejectText)
	}
	return false, nil
}

// Block adds a session id to the blacklist.
func (b *Blacklist) Block(sessionID string) {
	b.mu.Lock()
	b.blocked[sessionID] = true
	b.mu.Unlock()
}

// Unblock removes a session id from the blacklist.
func (b *Blacklist) Unblock(sessionID string) {
	b.mu.Lock()
	delete(b.blocked, sessionID)
	b.mu.Unlock()
}

// Blocked reports whether the session id is blacklisted.
func (b *Blacklist) Blocked(sessionID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blocked[sessionID]
}

// Routes implements RouteMounter.
func (b *Blacklist) Routes(r *mux.Router) {
	r.HandleFunc("/block/{session}", func(w http.ResponseWriter, req *http.Request) {
		b.Block(mux.Vars(req)["session"])
		writeStatus(w, "blocked")
	}).Methods(http.MethodPost)

	r.HandleFunc("/unblock/{session}", func(w http.ResponseWriter, req *http.Request) {
		b.Unblock(mux.Vars(req)["session"])
		writeStatus(w, "unblocked")
	}).Methods(http.MethodPost)

	r.HandleFunc("/list", func(w http.ResponseWriter, req *http.Request) {
		b.mu.RLock()
		sessions := make([]string, 0, len(b.blocked))
		for s := range b.blocked {
			sessions = append(sessions, s)
		}
		b.mu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"blocked": sessions})
	}).Methods(http.MethodGet)
}

func writeStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
