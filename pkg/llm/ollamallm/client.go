package ollamallm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"aviary/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client drives a local Ollama instance behind the llm.ChatClient contract.
type Client struct {
	client  *api.Client
	model   string
	options map[string]any
}

// NewClient builds a client for one local model. baseURL may be empty to
// fall back to the OLLAMA_HOST environment.
func NewClient(model, baseURL string, options map[string]any) (*Client, error) {
	// Local generation can stall for minutes while a model loads; the
	// HTTP client must not impose its own deadline.
	httpClient := &http.Client{Timeout: 0}

	var client *api.Client
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama base URL: %w", err)
		}
		client = api.NewClient(u, httpClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)
	return &Client{client: client, model: model, options: options}, nil
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "overloaded")
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (<-chan llm.StreamChunk, error) {
	chunkCh := make(chan llm.StreamChunk, 100)
	startResultCh := make(chan error)

	go func() {
		defer close(chunkCh)

		ollamaTools := convertTools(tools)
		streamVal := true
		req := &api.ChatRequest{
			Model:    c.model,
			Messages: c.convertMessages(messages),
			Options:  c.options,
			Tools:    ollamaTools,
			Stream:   &streamVal,
		}

		started := false
		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if !started {
				started = true
				select {
				case startResultCh <- nil:
				default:
				}
			}

			if resp.Message.Content != "" {
				chunkCh <- llm.NewTextChunk(resp.Message.Content)
			}

			if len(resp.Message.ToolCalls) > 0 {
				var calls []llm.ToolCall
				for i, tc := range resp.Message.ToolCalls {
					argsB, err := json.Marshal(tc.Function.Arguments)
					if err != nil {
						argsB = []byte("{}")
					}
					id := tc.ID
					if id == "" {
						id = fmt.Sprintf("call_%d_%d", time.Now().UnixNano(), i)
					}
					calls = append(calls, llm.ToolCall{
						ID:   id,
						Name: tc.Function.Name,
						Function: llm.FunctionCall{
							Name:      tc.Function.Name,
							Arguments: string(argsB),
						},
					})
				}
				chunkCh <- llm.StreamChunk{ToolCalls: calls}
			}

			if resp.Done {
				reason := resp.DoneReason
				if reason == "" {
					reason = llm.StopReasonStop
				}
				chunkCh <- llm.NewFinalChunk(reason)
			}
			return nil
		})

		if err != nil {
			slog.Error("Stream error", "provider", "ollama", "model", c.model, "error", err)
			if !started {
				select {
				case startResultCh <- err:
				default:
					chunkCh <- llm.NewErrorChunk(err)
				}
			} else {
				chunkCh <- llm.NewErrorChunk(fmt.Errorf("stream interrupted: %w", err))
			}
		} else if !started {
			select {
			case startResultCh <- nil:
			default:
			}
		}
	}()

	// Wait for the first callback so connection errors surface here
	// instead of mid-stream.
	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) convertMessages(messages []llm.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msg := api.Message{
			Role:    m.Role,
			Content: m.Content,
		}

		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				var apiArgs api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &apiArgs); err != nil {
					slog.Warn("Failed to restore tool arguments", "provider", "ollama", "error", err)
				}
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Function.Name,
						Arguments: apiArgs,
					},
				})
			}
		}

		if m.Role == llm.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}

		out = append(out, msg)
	}
	return out
}

// convertTools round-trips the schemas through JSON to work around the
// SDK's nested parameter types.
func convertTools(tools []llm.ToolSchema) []api.Tool {
	if len(tools) == 0 {
		return nil
	}
	wrapped := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		wrapped = append(wrapped, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	rawB, err := json.Marshal(wrapped)
	if err != nil {
		slog.Error("Failed to marshal tools", "provider", "ollama", "error", err)
		return nil
	}
	var out []api.Tool
	if err := json.Unmarshal(rawB, &out); err != nil {
		slog.Error("Failed to unmarshal tools", "provider", "ollama", "error", err)
		return nil
	}
	return out
}
