package assistant

import (
	"testing"

	"github.com/stretchr/testify/require"

	"aviary/pkg/llm"
)

func user(text string) llm.Message      { return llm.Message{Role: llm.RoleUser, Content: text} }
func assistantMsg(text string) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: text}
}

func TestWindowKeepsLastN(t *testing.T) {
	msgs := []llm.Message{user("1"), assistantMsg("2"), user("3"), assistantMsg("4")}
	got := Window(msgs, 2)
	require.Len(t, got, 2)
	require.Equal(t, "3", got[0].Content)
	require.Equal(t, "4", got[1].Content)
}

func TestWindowDropsStrandedToolResults(t *testing.T) {
	msgs := []llm.Message{
		user("q"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a"}}},
		llm.NewToolResult("a", "result"),
		assistantMsg("answer"),
	}
	// A window of 2 cuts between the call and its result.
	got := Window(msgs, 2)
	require.Len(t, got, 1)
	require.Equal(t, llm.RoleAssistant, got[0].Role)
	require.Equal(t, "answer", got[0].Content)
}

func TestTruncateCorruptedCutsUnresolvedCalls(t *testing.T) {
	msgs := []llm.Message{
		user("q"),
		assistantMsg("a"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "orphan"}}},
	}
	got := TruncateCorrupted(msgs)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[1].Content)
}

func TestTruncateCorruptedKeepsResolvedCalls(t *testing.T) {
	msgs := []llm.Message{
		user("q"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "x"}}},
		llm.NewToolResult("x", "ok"),
		assistantMsg("done"),
	}
	require.Len(t, TruncateCorrupted(msgs), 4)
}

func TestParseHistoryTruncatesAtBadEntry(t *testing.T) {
	good, err := user("hello").Marshal()
	require.NoError(t, err)
	msgs := ParseHistory([]string{good, "{not json", good})
	require.Len(t, msgs, 1)
}
