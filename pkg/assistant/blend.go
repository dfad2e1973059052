package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aviary/pkg/llm"
)

const blendSystemPrompt = "You rewrite canned messages so they fit naturally into an ongoing " +
	"conversation. Keep the meaning and every factual detail intact. Match the " +
	"language, tone, and register of the conversation. Reply with the rewritten " +
	"message only."

// Blend rephrases text into the session's conversational register using the
// recent dialog as context. On any failure the original text comes back
// unchanged so canned content always reaches the user.
func (a *Assistant) Blend(ctx context.Context, sessionID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	entries, err := a.history.Last(ctx, sessionID, a.settings.CoreHistoryWindowLength)
	if err != nil {
		slog.Warn("Failed to load history for blend, delivering original", "session", sessionID, "error", err)
		return text, nil
	}

	dialog := renderDialog(ParseHistory(entries))
	user := fmt.Sprintf("Conversation so far:\n%s\n\nMessage to rewrite:\n%s", dialog, text)

	blendCtx := ctx
	if a.settings.Blend.TimeoutMs > 0 {
		var cancel context.CancelFunc
		blendCtx, cancel = context.WithTimeout(ctx, time.Duration(a.settings.Blend.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	out, err := llm.Complete(blendCtx, a.client, []llm.Message{
		llm.NewSystemMessage(blendSystemPrompt),
		llm.NewUserMessage(user),
	})
	if err != nil || strings.TrimSpace(out) == "" {
		slog.Warn("Blend failed, delivering original", "session", sessionID, "error", err)
		return text, nil
	}
	return strings.TrimSpace(out), nil
}

// renderDialog flattens a message window into role-labeled lines, skipping
// tool traffic.
func renderDialog(msgs []llm.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		if m.Content == "" {
			continue
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
