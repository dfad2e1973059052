package assistant

import (
	"log/slog"

	"aviary/pkg/llm"
)

// Window cuts the inference window out of the full history: the last n
// entries, adjusted so the window starts on a user or assistant message
// (never a stranded tool result) and carries no unresolved tool calls.
func Window(msgs []llm.Message, n int) []llm.Message {
	msgs = TruncateCorrupted(msgs)

	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}

	// A cut can strand tool results whose originating call fell outside
	// the window. Drop them; same for a leading system entry (the compiled
	// prompt is prepended fresh every turn).
	for len(msgs) > 0 && (msgs[0].Role == llm.RoleTool || msgs[0].Role == llm.RoleSystem) {
		msgs = msgs[1:]
	}

	return msgs
}

// TruncateCorrupted enforces the call/result pairing invariant: every
// assistant tool call must be followed by a result with the same id. The
// history is cut at the first violation, so a turn that crashed mid-tool
// never poisons later inference.
func TruncateCorrupted(msgs []llm.Message) []llm.Message {
	for i, m := range msgs {
		if m.Role != llm.RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		pending := make(map[string]bool, len(m.ToolCalls))
		for _, c := range m.ToolCalls {
			pending[c.ID] = true
		}
		for _, later := range msgs[i+1:] {
			if later.Role == llm.RoleTool {
				delete(pending, later.ToolCallID)
			}
		}
		if len(pending) > 0 {
			slog.Warn("History has unresolved tool calls, truncating", "index", i, "unresolved", len(pending))
			return msgs[:i]
		}
	}
	return msgs
}

// ParseHistory decodes serialized history entries, truncating at the first
// entry that fails to parse.
func ParseHistory(entries []string) []llm.Message {
	msgs := make([]llm.Message, 0, len(entries))
	for i, e := range entries {
		m, err := llm.UnmarshalMessage(e)
		if err != nil {
			slog.Warn("Corrupted history entry, truncating", "index", i, "error", err)
			break
		}
		msgs = append(msgs, m)
	}
	return msgs
}
