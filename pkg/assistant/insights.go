package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aviary/pkg/llm"
	"aviary/pkg/store"
)

const insightsSystemPrompt = "You extract structured facts from a conversation. For each requested " +
	"field, return the value only if the conversation clearly supports it; " +
	"omit fields you are not sure about. Reply with a single JSON object and " +
	"nothing else."

// Insights extracts the requested fields from the recent conversation and
// merges the findings into session state. targets maps field name to a
// description of what to extract. Runs in the background after turns;
// failures are logged, never surfaced to the user.
func (a *Assistant) Insights(ctx context.Context, sessionID string, targets map[string]string) (map[string]any, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	entries, err := a.history.Last(ctx, sessionID, a.settings.CoreHistoryWindowLength)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	dialog := renderDialog(ParseHistory(entries))
	if dialog == "" {
		return nil, nil
	}

	var fields strings.Builder
	for name, desc := range targets {
		fields.WriteString(fmt.Sprintf("- %s: %s\n", name, desc))
	}
	user := fmt.Sprintf("Conversation:\n%s\n\nFields to extract:\n%s", dialog, fields.String())

	insCtx := ctx
	if a.settings.Insights.TimeoutMs > 0 {
		var cancel context.CancelFunc
		insCtx, cancel = context.WithTimeout(ctx, time.Duration(a.settings.Insights.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	out, err := llm.Complete(insCtx, a.client, []llm.Message{
		llm.NewSystemMessage(insightsSystemPrompt),
		llm.NewUserMessage(user),
	})
	if err != nil {
		return nil, fmt.Errorf("insights completion: %w", err)
	}

	found := map[string]any{}
	if err := json.Unmarshal([]byte(extractJSON(out)), &found); err != nil {
		return nil, fmt.Errorf("insights response is not JSON: %w", err)
	}

	// Only requested fields land in state; the model sometimes volunteers
	// extras.
	err = store.Scope(ctx, a.state, sessionID, false, func(state map[string]any) error {
		for name := range targets {
			if v, ok := found[name]; ok && v != nil {
				state[name] = v
			}
		}
		return nil
	})
	if err != nil {
		return found, fmt.Errorf("merge insights into state: %w", err)
	}
	return found, nil
}

// RunInsights fires Insights on a detached context and logs the outcome.
// Intended to be called as `go a.RunInsights(...)` after a turn completes.
func (a *Assistant) RunInsights(sessionID string, targets map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if _, err := a.Insights(ctx, sessionID, targets); err != nil {
		slog.Warn("Insights extraction failed", "assistant", a.name, "session", sessionID, "error", err)
	}
}

// extractJSON trims code fences and surrounding prose around a JSON object.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
