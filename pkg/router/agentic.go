package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aviary/pkg/api"
	"aviary/pkg/assistant"
	"aviary/pkg/llm"
	"aviary/pkg/store"
)

const selectSystemPrompt = "You route a user message to the best-suited agent. You will get the " +
	"recent conversation, the new message, and the list of agents with their " +
	"specialties. Reply with the name of one agent, exactly as listed, and " +
	"nothing else."

type candidate struct {
	agent       assistant.Agent
	description string
}

// AgenticRouter asks an LLM which member agent should take the turn, based
// on the conversation window and each agent's description. Selection
// failures fall back to the default agent, never to an error.
type AgenticRouter struct {
	name       string
	client     llm.ChatClient
	history    store.History
	window     int
	candidates []candidate
	fallback   assistant.Agent
	timeout    time.Duration
}

// NewAgentic builds an agentic router. history is the shared conversation
// store of the member agents; window bounds how much dialog the selector
// sees.
func NewAgentic(name string, client llm.ChatClient, history store.History, window int, fallback assistant.Agent) *AgenticRouter {
	return &AgenticRouter{
		name:     name,
		client:   client,
		history:  history,
		window:   window,
		fallback: fallback,
		timeout:  15 * time.Second,
	}
}

// Add registers a selectable agent with the description the selector model
// sees.
func (r *AgenticRouter) Add(agent assistant.Agent, description string) *AgenticRouter {
	r.candidates = append(r.candidates, candidate{agent: agent, description: description})
	return r
}

// Name implements assistant.Agent.
func (r *AgenticRouter) Name() string { return r.name }

func (r *AgenticRouter) pick(ctx context.Context, msg *api.Message) assistant.Agent {
	if len(r.candidates) == 0 || msg == nil {
		return r.fallback
	}

	entries, err := r.history.Last(ctx, msg.SessionID(), r.window)
	if err != nil {
		slog.Warn("Router failed to load history, using fallback", "router", r.name, "error", err)
		return r.fallback
	}
	dialog := dialogText(assistant.ParseHistory(entries))

	var agents strings.Builder
	for _, c := range r.candidates {
		fmt.Fprintf(&agents, "- %s: %s\n", c.agent.Name(), c.description)
	}
	user := fmt.Sprintf("Conversation:\n%s\n\nNew message:\n%s\n\nAgents:\n%s", dialog, msg.Text, agents.String())

	selCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := llm.Complete(selCtx, r.client, []llm.Message{
		llm.NewSystemMessage(selectSystemPrompt),
		llm.NewUserMessage(user),
	})
	if err != nil {
		slog.Warn("Router selection failed, using fallback", "router", r.name, "error", err)
		return r.fallback
	}

	choice := strings.TrimSpace(out)
	for _, c := range r.candidates {
		if strings.EqualFold(c.agent.Name(), choice) {
			slog.Debug("Router selected agent", "router", r.name, "agent", c.agent.Name())
			return c.agent
		}
	}
	slog.Warn("Router picked unknown agent, using fallback", "router", r.name, "choice", choice)
	return r.fallback
}

// NewMessage selects an agent for the turn and delegates to it.
func (r *AgenticRouter) NewMessage(ctx context.Context, msg *api.Message) (<-chan assistant.ReplyChunk, error) {
	return r.pick(ctx, msg).NewMessage(ctx, msg)
}

// HandleCommand delegates to the fallback: commands are deterministic and
// should not burn a selection call.
func (r *AgenticRouter) HandleCommand(ctx context.Context, msg *api.Message, connector api.Connector) (bool, error) {
	return r.fallback.HandleCommand(ctx, msg, connector)
}

// Trigger delegates to the fallback agent.
func (r *AgenticRouter) Trigger(ctx context.Context, event string, ev *assistant.EventContext) (*api.EventResponse, error) {
	return r.fallback.Trigger(ctx, event, ev)
}

// Blend delegates to the fallback agent.
func (r *AgenticRouter) Blend(ctx context.Context, sessionID, text string) (string, error) {
	return r.fallback.Blend(ctx, sessionID, text)
}

// RecordExchange delegates to the fallback agent.
func (r *AgenticRouter) RecordExchange(ctx context.Context, sessionID, userText, replyText string) {
	r.fallback.RecordExchange(ctx, sessionID, userText, replyText)
}

// dialogText flattens a window into role-labeled lines without tool
// traffic, the selector doesn't need it.
func dialogText(msgs []llm.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant || m.Content == "" {
			continue
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
