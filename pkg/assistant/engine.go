package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aviary/pkg/api"
	"aviary/pkg/llm"
)

// NewMessage runs one assistant turn for msg. The returned channel emits
// partial chunks while the model streams and closes after a terminal
// non-partial chunk. Tool calls are resolved inside the turn, bounded by
// the configured per-message budget.
func (a *Assistant) NewMessage(ctx context.Context, msg *api.Message) (<-chan ReplyChunk, error) {
	if msg == nil || msg.Lead == nil {
		return nil, fmt.Errorf("message without lead")
	}

	out := make(chan ReplyChunk, 64)
	go func() {
		defer close(out)
		a.runTurn(ctx, msg, out)
		out <- ReplyChunk{Content: "", Partial: false}
	}()
	return out, nil
}

func (a *Assistant) runTurn(ctx context.Context, msg *api.Message, out chan<- ReplyChunk) {
	sessionID := msg.SessionID()

	state, err := a.state.Get(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to load state, compiling prompt without it", "session", sessionID, "error", err)
		state = map[string]any{}
	}
	system := a.template.Compile(ctx, a.template.MergeState(state))
	system = a.augment(ctx, system, msg.Text)

	entries, err := a.history.Get(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to load history, starting turn with empty window", "session", sessionID, "error", err)
		entries = nil
	}
	window := Window(ParseHistory(entries), a.settings.CoreHistoryWindowLength)

	userMsg := llm.NewUserMessage(msg.Text)
	a.persist(ctx, sessionID, userMsg)

	messages := make([]llm.Message, 0, len(window)+2)
	messages = append(messages, llm.NewSystemMessage(system))
	messages = append(messages, window...)
	messages = append(messages, userMsg)

	turnCtx := ctx
	if a.settings.Core.TimeoutMs > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, time.Duration(a.settings.Core.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	tools := a.toolSchemas()
	maxRounds := a.settings.CoreMaxFunctionCallsInMessage
	if maxRounds <= 0 {
		maxRounds = 1
	}

	for round := 0; ; round++ {
		ch, err := a.client.StreamChat(turnCtx, messages, tools)
		if err != nil {
			slog.Error("Model call failed", "assistant", a.name, "session", sessionID, "error", err)
			out <- ReplyChunk{Content: ToolErrorText, Partial: true}
			a.persist(ctx, sessionID, llm.NewAssistantMessage(ToolErrorText))
			return
		}

		var text strings.Builder
		var calls []llm.ToolCall
		var streamErr error
		for chunk := range ch {
			if chunk.Err != nil {
				streamErr = chunk.Err
				break
			}
			if chunk.Delta != "" {
				text.WriteString(chunk.Delta)
				out <- ReplyChunk{Content: chunk.Delta, Partial: true}
			}
			if len(chunk.ToolCalls) > 0 {
				calls = append(calls, chunk.ToolCalls...)
			}
		}

		if streamErr != nil {
			slog.Error("Stream broke mid-turn", "assistant", a.name, "session", sessionID, "error", streamErr)
			reply := text.String()
			if reply == "" {
				reply = ToolErrorText
				out <- ReplyChunk{Content: reply, Partial: true}
			}
			a.persist(ctx, sessionID, llm.NewAssistantMessage(reply))
			return
		}

		if len(calls) == 0 {
			a.persist(ctx, sessionID, llm.NewAssistantMessage(text.String()))
			return
		}

		// Persist the tool-call record and every result before the next
		// model call, keeping the history well-formed even if we crash
		// between rounds.
		asst := llm.Message{
			Role:      llm.RoleAssistant,
			Content:   text.String(),
			Timestamp: time.Now().Unix(),
			ToolCalls: calls,
		}
		a.persist(ctx, sessionID, asst)
		messages = append(messages, asst)

		for _, call := range calls {
			result := a.invokeFunction(ctx, sessionID, call, msg)
			tr := llm.NewToolResult(call.ID, result)
			a.persist(ctx, sessionID, tr)
			messages = append(messages, tr)
		}

		if round+1 >= maxRounds {
			slog.Warn("Tool budget exhausted, ending turn", "assistant", a.name, "session", sessionID, "rounds", round+1)
			return
		}
	}
}

// augment appends retrieval hits to the compiled prompt.
func (a *Assistant) augment(ctx context.Context, system, query string) string {
	if a.retriever == nil || strings.TrimSpace(query) == "" {
		return system
	}
	hits, err := a.retriever.Search(ctx, query, a.settings.CoreRAGKNN)
	if err != nil {
		slog.Warn("Retrieval failed, continuing without context", "assistant", a.name, "error", err)
		return system
	}
	if len(hits) == 0 {
		return system
	}
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\nRelevant context:\n")
	for _, h := range hits {
		sb.WriteString("- ")
		sb.WriteString(h.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// invokeFunction resolves one tool call. It never returns an error: a
// missing tool yields ToolMissingText, a failing or panicking one yields
// ToolErrorText, so the history always gets a result for the call.
func (a *Assistant) invokeFunction(ctx context.Context, sessionID string, call llm.ToolCall, msg *api.Message) (result string) {
	name := strings.TrimPrefix(call.Name, "functions.")

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool panicked", "tool", name, "session", sessionID, "panic", r)
			result = ToolErrorText
		}
	}()

	entry, ok := a.functions[name]
	if !ok {
		slog.Warn("Model called unregistered tool", "tool", name, "session", sessionID)
		return ToolMissingText
	}

	params := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &params); err != nil {
			slog.Warn("Tool arguments are not valid JSON", "tool", name, "session", sessionID, "error", err)
		}
	}

	state, err := a.state.Get(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load state for tool", "tool", name, "session", sessionID, "error", err)
		state = map[string]any{}
	}

	fctx := &api.FunctionContext{
		Def:     entry.def,
		Lead:    msg.Lead,
		Message: msg,
		State:   state,
	}
	if problems := fctx.ValidateParams(params); len(problems) > 0 {
		return "Invalid arguments: " + strings.Join(problems, "; ")
	}

	res, err := entry.handler(ctx, params, fctx)
	if err != nil {
		slog.Error("Tool failed", "tool", name, "session", sessionID, "error", err)
		return ToolErrorText
	}

	switch v := res.(type) {
	case nil:
		return ""
	case string:
		return v
	case *api.FunctionResponse:
		return v.Text
	case api.FunctionResponse:
		return v.Text
	default:
		b, err := json.Marshal(v)
		if err != nil {
			slog.Error("Tool result is not marshalable", "tool", name, "error", err)
			return ToolErrorText
		}
		return string(b)
	}
}

// RecordExchange implements Agent.
func (a *Assistant) RecordExchange(ctx context.Context, sessionID, userText, replyText string) {
	if userText != "" {
		a.persist(ctx, sessionID, llm.NewUserMessage(userText))
	}
	if replyText != "" {
		a.persist(ctx, sessionID, llm.NewAssistantMessage(replyText))
	}
}

func (a *Assistant) persist(ctx context.Context, sessionID string, m llm.Message) {
	entry, err := m.Marshal()
	if err != nil {
		slog.Error("Failed to serialize history entry", "session", sessionID, "error", err)
		return
	}
	if err := a.history.Append(ctx, sessionID, entry); err != nil {
		slog.Error("Failed to append history entry", "session", sessionID, "error", err)
	}
}
