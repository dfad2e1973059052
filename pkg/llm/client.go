package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StopReason constants normalize provider-native finish reasons.
const (
	StopReasonStop      = "stop"
	StopReasonLength    = "length"
	StopReasonToolCalls = "tool_calls"
)

// ChatClient is the streaming chat-model contract. It accepts a message
// list plus optional tool schemas and returns a channel of deltas that
// accumulate into one assistant message, possibly carrying tool calls.
type ChatClient interface {
	StreamChat(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan StreamChunk, error)

	// IsTransientError reports whether the error is worth retrying
	// (rate limits, 5xx, connection drops).
	IsTransientError(err error) bool
}

// Complete drains a stream into a single text response. Providers stay
// streaming underneath; this is the helper for one-shot calls such as
// blend, insights, and router selection.
func Complete(ctx context.Context, c ChatClient, messages []Message) (string, error) {
	ch, err := c.StreamChat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	var out []byte
	for chunk := range ch {
		if chunk.Err != nil {
			return string(out), chunk.Err
		}
		out = append(out, chunk.Delta...)
	}
	return string(out), nil
}

// FallbackClient tries a ladder of clients in order, retrying each on
// transient errors before moving to the next.
type FallbackClient struct {
	Clients    []ChatClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan StreamChunk, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.Warn("Provider failed, trying fallback", "provider_index", i)
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, messages, tools)
			if err == nil {
				return ch, nil
			}
			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.Warn("Transient provider error, retrying", "provider_index", i, "attempt", retry, "error", err)
				continue
			}
			slog.Error("Provider failed", "provider_index", i, "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed: %w", lastErr)
}

// IsTransientError always reports false: a FallbackClient error means the
// whole ladder was exhausted.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}
