package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"aviary/pkg/api"
	"aviary/pkg/config"
	"aviary/pkg/llm"
	"aviary/pkg/prompt"
	"aviary/pkg/store"
)

// scriptedResponse is one round of a fake model conversation.
type scriptedResponse struct {
	deltas    []string
	toolCalls []llm.ToolCall
	startErr  error
	streamErr error
}

// scriptedClient replays canned responses and records what it was asked.
type scriptedClient struct {
	responses []scriptedResponse
	requests  [][]llm.Message
	tools     [][]llm.ToolSchema
}

func (c *scriptedClient) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (<-chan llm.StreamChunk, error) {
	c.requests = append(c.requests, messages)
	c.tools = append(c.tools, tools)
	if len(c.responses) == 0 {
		return nil, errors.New("scripted client exhausted")
	}
	r := c.responses[0]
	c.responses = c.responses[1:]
	if r.startErr != nil {
		return nil, r.startErr
	}

	ch := make(chan llm.StreamChunk, len(r.deltas)+2)
	for _, d := range r.deltas {
		ch <- llm.NewTextChunk(d)
	}
	if r.streamErr != nil {
		ch <- llm.NewErrorChunk(r.streamErr)
	} else if len(r.toolCalls) > 0 {
		ch <- llm.StreamChunk{ToolCalls: r.toolCalls, Final: true, FinishReason: llm.StopReasonToolCalls}
	} else {
		ch <- llm.NewFinalChunk(llm.StopReasonStop)
	}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) IsTransientError(err error) bool { return false }

func testAssistant(t *testing.T, client llm.ChatClient) (*Assistant, store.History, store.State) {
	t.Helper()
	history := store.NewMemoryHistory()
	state := store.NewMemoryState()
	tmpl := prompt.New("You are a test assistant.")
	a := New("core", tmpl, client, history, state, config.Default())
	return a, history, state
}

func testMessage(text string) *api.Message {
	return api.NewMessage(api.NewLead("test", api.Peer{ID: "42"}), text)
}

func collect(t *testing.T, ch <-chan ReplyChunk) []ReplyChunk {
	t.Helper()
	var chunks []ReplyChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func concat(chunks []ReplyChunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Content)
	}
	return sb.String()
}

func historyMessages(t *testing.T, h store.History, sessionID string) []llm.Message {
	t.Helper()
	entries, err := h.Get(context.Background(), sessionID)
	require.NoError(t, err)
	return ParseHistory(entries)
}

func TestPlainTurnStreamsAndPersists(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{deltas: []string{"po", "ng"}},
	}}
	a, history, _ := testAssistant(t, client)

	ch, err := a.NewMessage(context.Background(), testMessage("ping"))
	require.NoError(t, err)
	chunks := collect(t, ch)

	require.Equal(t, "pong", concat(chunks))
	last := chunks[len(chunks)-1]
	require.False(t, last.Partial)
	require.Empty(t, last.Content)
	for _, c := range chunks[:len(chunks)-1] {
		require.True(t, c.Partial)
	}

	msgs := historyMessages(t, history, "test:42")
	require.Len(t, msgs, 2)
	require.Equal(t, llm.RoleUser, msgs[0].Role)
	require.Equal(t, "ping", msgs[0].Content)
	require.Equal(t, llm.RoleAssistant, msgs[1].Role)
	require.Equal(t, "pong", msgs[1].Content)

	// The inference request starts with the compiled system prompt.
	require.Equal(t, llm.RoleSystem, client.requests[0][0].Role)
}

func TestToolCallTurn(t *testing.T) {
	call := llm.ToolCall{
		ID:       "call_1",
		Name:     "get_price",
		Function: llm.FunctionCall{Name: "get_price", Arguments: `{"symbol":"BTC"}`},
	}
	client := &scriptedClient{responses: []scriptedResponse{
		{toolCalls: []llm.ToolCall{call}},
		{deltas: []string{"The current price of BTC is $50000"}},
	}}
	a, history, _ := testAssistant(t, client)

	var gotSymbol string
	a.RegisterFunction(&api.FunctionDef{
		Name:        "get_price",
		Description: "Current price of a crypto symbol",
		Parameters: []api.Param{
			{Name: "symbol", Type: api.ParamString, Required: true},
		},
	}, func(ctx context.Context, params map[string]any, fctx *api.FunctionContext) (any, error) {
		gotSymbol, _ = params["symbol"].(string)
		return "50000", nil
	})

	ch, err := a.NewMessage(context.Background(), testMessage("what is btc at?"))
	require.NoError(t, err)
	chunks := collect(t, ch)

	require.Equal(t, "BTC", gotSymbol)
	require.Equal(t, "The current price of BTC is $50000", concat(chunks))

	msgs := historyMessages(t, history, "test:42")
	require.Len(t, msgs, 4)
	require.Equal(t, llm.RoleUser, msgs[0].Role)
	require.Equal(t, llm.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	require.Equal(t, llm.RoleTool, msgs[2].Role)
	require.Equal(t, "call_1", msgs[2].ToolCallID)
	require.Equal(t, "50000", msgs[2].Content)
	require.Equal(t, llm.RoleAssistant, msgs[3].Role)

	// The second request carries the tool result back to the model.
	require.Len(t, client.requests, 2)
	second := client.requests[1]
	require.Equal(t, llm.RoleTool, second[len(second)-1].Role)

	// Tool schemas were offered on both calls.
	require.Len(t, client.tools[0], 1)
	require.Equal(t, "get_price", client.tools[0][0].Name)
}

func TestUnregisteredToolYieldsDataNotFound(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "ghost", Function: llm.FunctionCall{Name: "ghost", Arguments: `{}`}}
	client := &scriptedClient{responses: []scriptedResponse{
		{toolCalls: []llm.ToolCall{call}},
		{deltas: []string{"sorry"}},
	}}
	a, history, _ := testAssistant(t, client)

	ch, err := a.NewMessage(context.Background(), testMessage("hi"))
	require.NoError(t, err)
	collect(t, ch)

	msgs := historyMessages(t, history, "test:42")
	require.Equal(t, ToolMissingText, msgs[2].Content)
}

func TestFailingToolYieldsApology(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "boom", Function: llm.FunctionCall{Name: "boom", Arguments: `{}`}}
	client := &scriptedClient{responses: []scriptedResponse{
		{toolCalls: []llm.ToolCall{call}},
		{deltas: []string{"done"}},
	}}
	a, history, _ := testAssistant(t, client)
	a.RegisterFunction(&api.FunctionDef{Name: "boom"}, func(ctx context.Context, params map[string]any, fctx *api.FunctionContext) (any, error) {
		return nil, errors.New("exploded")
	})

	ch, err := a.NewMessage(context.Background(), testMessage("hi"))
	require.NoError(t, err)
	collect(t, ch)

	msgs := historyMessages(t, history, "test:42")
	require.Equal(t, ToolErrorText, msgs[2].Content)
}

func TestToolBudgetBoundsRecursion(t *testing.T) {
	call := llm.ToolCall{ID: "c", Name: "loop", Function: llm.FunctionCall{Name: "loop", Arguments: `{}`}}
	client := &scriptedClient{responses: []scriptedResponse{
		{toolCalls: []llm.ToolCall{call}},
		{toolCalls: []llm.ToolCall{call}},
		{toolCalls: []llm.ToolCall{call}},
		{toolCalls: []llm.ToolCall{call}},
	}}
	a, history, _ := testAssistant(t, client)
	a.settings.CoreMaxFunctionCallsInMessage = 2
	a.RegisterFunction(&api.FunctionDef{Name: "loop"}, func(ctx context.Context, params map[string]any, fctx *api.FunctionContext) (any, error) {
		return "again", nil
	})

	ch, err := a.NewMessage(context.Background(), testMessage("go"))
	require.NoError(t, err)
	collect(t, ch)

	// Two rounds, then the turn ends with every call resolved.
	require.Len(t, client.requests, 2)
	msgs := historyMessages(t, history, "test:42")
	require.Equal(t, llm.RoleTool, msgs[len(msgs)-1].Role)
}

func TestModelFailureApologizesAndStaysConsistent(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{startErr: errors.New("upstream down")},
	}}
	a, history, _ := testAssistant(t, client)

	ch, err := a.NewMessage(context.Background(), testMessage("hello"))
	require.NoError(t, err)
	chunks := collect(t, ch)

	require.Equal(t, ToolErrorText, concat(chunks))
	msgs := historyMessages(t, history, "test:42")
	require.Len(t, msgs, 2)
	require.Equal(t, ToolErrorText, msgs[1].Content)
}

func TestMidStreamErrorKeepsPartialText(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{deltas: []string{"partial "}, streamErr: errors.New("cut")},
	}}
	a, history, _ := testAssistant(t, client)

	ch, err := a.NewMessage(context.Background(), testMessage("hello"))
	require.NoError(t, err)
	chunks := collect(t, ch)

	require.Equal(t, "partial ", concat(chunks))
	msgs := historyMessages(t, history, "test:42")
	require.Equal(t, "partial ", msgs[1].Content)
}

func TestWindowLimitsInferenceContext(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{deltas: []string{"ok"}},
	}}
	a, _, _ := testAssistant(t, client)
	a.settings.CoreHistoryWindowLength = 4

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		entry, err := llm.NewUserMessage("old").Marshal()
		require.NoError(t, err)
		require.NoError(t, a.history.Append(ctx, "test:42", entry))
	}

	ch, err := a.NewMessage(ctx, testMessage("new"))
	require.NoError(t, err)
	collect(t, ch)

	// system + 4 window entries + the new user message
	require.Len(t, client.requests[0], 6)
}
