package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubClient struct {
	failures  int
	calls     int
	transient bool
	reply     string
}

func (s *stubClient) StreamChat(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan StreamChunk, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("provider down")
	}
	ch := make(chan StreamChunk, 2)
	ch <- NewTextChunk(s.reply)
	ch <- NewFinalChunk(StopReasonStop)
	close(ch)
	return ch, nil
}

func (s *stubClient) IsTransientError(err error) bool { return s.transient }

func TestCompleteDrainsStream(t *testing.T) {
	out, err := Complete(context.Background(), &stubClient{reply: "hello"}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestFallbackRetriesTransientErrors(t *testing.T) {
	c := &stubClient{failures: 2, transient: true, reply: "ok"}
	f := &FallbackClient{Clients: []ChatClient{c}, MaxRetries: 3, RetryDelay: time.Millisecond}

	out, err := Complete(context.Background(), f, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 3, c.calls)
}

func TestFallbackMovesToNextProvider(t *testing.T) {
	dead := &stubClient{failures: 100}
	alive := &stubClient{reply: "backup"}
	f := &FallbackClient{Clients: []ChatClient{dead, alive}, MaxRetries: 1}

	out, err := Complete(context.Background(), f, nil)
	require.NoError(t, err)
	require.Equal(t, "backup", out)
	require.Equal(t, 1, dead.calls)
}

func TestFallbackReportsWhenAllFail(t *testing.T) {
	f := &FallbackClient{Clients: []ChatClient{&stubClient{failures: 100}}, MaxRetries: 2}
	_, err := f.StreamChat(context.Background(), nil, nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "all fallback providers failed"))
}

func TestMessageMarshalRoundTrip(t *testing.T) {
	m := Message{
		Role:    RoleAssistant,
		Content: "calling",
		ToolCalls: []ToolCall{{
			ID:       "c1",
			Name:     "f",
			Function: FunctionCall{Name: "f", Arguments: `{"a":1}`},
		}},
	}
	entry, err := m.Marshal()
	require.NoError(t, err)

	back, err := UnmarshalMessage(entry)
	require.NoError(t, err)
	require.Equal(t, m.Role, back.Role)
	require.Equal(t, m.Content, back.Content)
	require.Len(t, back.ToolCalls, 1)
	require.Equal(t, "c1", back.ToolCalls[0].ID)

	_, err = UnmarshalMessage("{bad")
	require.Error(t, err)
}
