// Package router composes several assistants behind the single Agent face
// the gateway talks to. Three strategies: predicate rules (LogicRouter),
// LLM selection (AgenticRouter), and sticky sessions with in-conversation
// transfer (ConciergeRouter).
package router

import (
	"context"
	"log/slog"

	"aviary/pkg/api"
	"aviary/pkg/assistant"
)

// Predicate decides whether a rule claims a message.
type Predicate func(ctx context.Context, msg *api.Message) bool

type rule struct {
	match Predicate
	agent assistant.Agent
}

// LogicRouter routes by the first matching predicate, in registration
// order, falling back to a default agent.
type LogicRouter struct {
	name     string
	rules    []rule
	fallback assistant.Agent
}

// NewLogic builds a logic router around a fallback agent.
func NewLogic(name string, fallback assistant.Agent) *LogicRouter {
	return &LogicRouter{name: name, fallback: fallback}
}

// Route appends a predicate rule. Rules are evaluated in the order added.
func (r *LogicRouter) Route(match Predicate, agent assistant.Agent) *LogicRouter {
	r.rules = append(r.rules, rule{match: match, agent: agent})
	return r
}

// Name implements assistant.Agent.
func (r *LogicRouter) Name() string { return r.name }

func (r *LogicRouter) pick(ctx context.Context, msg *api.Message) assistant.Agent {
	if msg != nil {
		for _, rl := range r.rules {
			if rl.match(ctx, msg) {
				slog.Debug("Logic router matched", "router", r.name, "agent", rl.agent.Name())
				return rl.agent
			}
		}
	}
	return r.fallback
}

// NewMessage routes the turn to the first matching agent.
func (r *LogicRouter) NewMessage(ctx context.Context, msg *api.Message) (<-chan assistant.ReplyChunk, error) {
	return r.pick(ctx, msg).NewMessage(ctx, msg)
}

// HandleCommand routes command dispatch the same way as messages.
func (r *LogicRouter) HandleCommand(ctx context.Context, msg *api.Message, connector api.Connector) (bool, error) {
	return r.pick(ctx, msg).HandleCommand(ctx, msg, connector)
}

// Trigger routes by the event's message when present, else the fallback.
func (r *LogicRouter) Trigger(ctx context.Context, event string, ev *assistant.EventContext) (*api.EventResponse, error) {
	agent := r.fallback
	if ev != nil && ev.Message != nil {
		agent = r.pick(ctx, ev.Message)
	}
	return agent.Trigger(ctx, event, ev)
}

// Blend delegates to the fallback agent; blending is message-free so rules
// cannot apply.
func (r *LogicRouter) Blend(ctx context.Context, sessionID, text string) (string, error) {
	return r.fallback.Blend(ctx, sessionID, text)
}

// RecordExchange delegates to the fallback agent; members share the history
// store so any of them can write the pair.
func (r *LogicRouter) RecordExchange(ctx context.Context, sessionID, userText, replyText string) {
	r.fallback.RecordExchange(ctx, sessionID, userText, replyText)
}
