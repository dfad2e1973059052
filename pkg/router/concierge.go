package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"aviary/pkg/api"
	"aviary/pkg/assistant"
	"aviary/pkg/store"
)

// State fields the concierge keeps per session.
const (
	activeAgentField = "active_agent"
	transferField    = "transfer_to"
)

// TransferToolName is the tool the concierge injects into every member so
// the model itself can hand the conversation over.
const TransferToolName = "request_transfer"

// ConciergeRouter keeps a sticky active agent per session. Members get a
// request_transfer tool; when a turn requests a transfer, the turn's
// buffered output is discarded and the target agent reruns the message.
// At most one transfer happens per turn.
type ConciergeRouter struct {
	name        string
	state       store.State
	members     map[string]*assistant.Assistant
	memberOrder []string
	defaultName string
}

// NewConcierge builds a concierge router. The first member added becomes
// the default unless SetDefault overrides it.
func NewConcierge(name string, state store.State) *ConciergeRouter {
	return &ConciergeRouter{
		name:    name,
		state:   state,
		members: map[string]*assistant.Assistant{},
	}
}

// Add registers a member and injects the transfer tool into it.
func (r *ConciergeRouter) Add(a *assistant.Assistant) *ConciergeRouter {
	r.members[a.Name()] = a
	r.memberOrder = append(r.memberOrder, a.Name())
	if r.defaultName == "" {
		r.defaultName = a.Name()
	}
	a.RegisterFunction(r.transferToolDef(), r.handleTransfer)
	return r
}

// SetDefault names the agent new sessions start with.
func (r *ConciergeRouter) SetDefault(name string) *ConciergeRouter {
	if _, ok := r.members[name]; ok {
		r.defaultName = name
	}
	return r
}

// Name implements assistant.Agent.
func (r *ConciergeRouter) Name() string { return r.name }

func (r *ConciergeRouter) transferToolDef() *api.FunctionDef {
	return &api.FunctionDef{
		Name: TransferToolName,
		Description: "Transfer the conversation to a colleague better suited for the " +
			"request. Use only when the request is clearly outside your area.",
		Parameters: []api.Param{
			{
				Name:        "agent",
				Type:        api.ParamString,
				Description: "Name of the agent to transfer to.",
				Required:    true,
			},
		},
	}
}

// handleTransfer records the transfer request in session state. The actual
// switch happens after the turn, in NewMessage.
func (r *ConciergeRouter) handleTransfer(ctx context.Context, params map[string]any, fctx *api.FunctionContext) (any, error) {
	target, _ := params["agent"].(string)
	target = strings.TrimSpace(target)
	if _, ok := r.members[target]; !ok {
		return fmt.Sprintf("No agent named %q is available.", target), nil
	}
	sessionID := fctx.Message.SessionID()
	if err := r.state.SetField(ctx, sessionID, transferField, target); err != nil {
		return nil, fmt.Errorf("record transfer: %w", err)
	}
	return fmt.Sprintf("Transferring to %s.", target), nil
}

func (r *ConciergeRouter) active(ctx context.Context, sessionID string) *assistant.Assistant {
	name, err := r.state.GetField(ctx, sessionID, activeAgentField)
	if err == nil {
		if s, ok := name.(string); ok {
			if a, ok := r.members[s]; ok {
				return a
			}
		}
	}
	return r.members[r.defaultName]
}

// NewMessage runs the turn on the session's active agent, buffering its
// output. If the turn requested a transfer, the buffer is dropped, the
// session switches, and the target agent reruns the message streaming
// straight through.
func (r *ConciergeRouter) NewMessage(ctx context.Context, msg *api.Message) (<-chan assistant.ReplyChunk, error) {
	active := r.active(ctx, msg.SessionID())
	if active == nil {
		return nil, fmt.Errorf("concierge %q has no members", r.name)
	}

	out := make(chan assistant.ReplyChunk, 64)
	go func() {
		defer close(out)
		r.runTurn(ctx, msg, active, out)
	}()
	return out, nil
}

func (r *ConciergeRouter) runTurn(ctx context.Context, msg *api.Message, active *assistant.Assistant, out chan<- assistant.ReplyChunk) {
	sessionID := msg.SessionID()

	ch, err := active.NewMessage(ctx, msg)
	if err != nil {
		slog.Error("Concierge turn failed", "router", r.name, "agent", active.Name(), "error", err)
		return
	}
	var buffered []assistant.ReplyChunk
	for chunk := range ch {
		buffered = append(buffered, chunk)
	}

	target := r.takeTransfer(ctx, sessionID)
	if target == nil || target == active {
		for _, chunk := range buffered {
			out <- chunk
		}
		return
	}

	slog.Info("Transferring session", "router", r.name, "from", active.Name(), "to", target.Name(), "session", sessionID)
	if err := r.state.SetField(ctx, sessionID, activeAgentField, target.Name()); err != nil {
		slog.Error("Failed to persist active agent", "router", r.name, "session", sessionID, "error", err)
	}

	// Second run streams directly; one transfer per turn.
	ch, err = target.NewMessage(ctx, msg)
	if err != nil {
		slog.Error("Transfer target turn failed", "router", r.name, "agent", target.Name(), "error", err)
		for _, chunk := range buffered {
			out <- chunk
		}
		return
	}
	for chunk := range ch {
		out <- chunk
	}
	r.takeTransfer(ctx, sessionID)
}

// takeTransfer pops the pending transfer request, if any.
func (r *ConciergeRouter) takeTransfer(ctx context.Context, sessionID string) *assistant.Assistant {
	v, err := r.state.GetField(ctx, sessionID, transferField)
	if err != nil || v == nil {
		return nil
	}
	if err := r.state.SetField(ctx, sessionID, transferField, nil); err != nil {
		slog.Warn("Failed to clear transfer flag", "router", r.name, "session", sessionID, "error", err)
	}
	name, _ := v.(string)
	return r.members[name]
}

// HandleCommand delegates to the session's active agent.
func (r *ConciergeRouter) HandleCommand(ctx context.Context, msg *api.Message, connector api.Connector) (bool, error) {
	return r.active(ctx, msg.SessionID()).HandleCommand(ctx, msg, connector)
}

// Trigger delegates to the session's active agent.
func (r *ConciergeRouter) Trigger(ctx context.Context, event string, ev *assistant.EventContext) (*api.EventResponse, error) {
	sessionID := ""
	if ev != nil {
		sessionID = ev.SessionID
	}
	return r.active(ctx, sessionID).Trigger(ctx, event, ev)
}

// Blend delegates to the session's active agent.
func (r *ConciergeRouter) Blend(ctx context.Context, sessionID, text string) (string, error) {
	return r.active(ctx, sessionID).Blend(ctx, sessionID, text)
}

// RecordExchange delegates to the session's active agent.
func (r *ConciergeRouter) RecordExchange(ctx context.Context, sessionID, userText, replyText string) {
	r.active(ctx, sessionID).RecordExchange(ctx, sessionID, userText, replyText)
}
