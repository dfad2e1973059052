package geminillm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aviary/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client drives the Google Gemini API behind the llm.ChatClient contract.
type Client struct {
	client *genai.Client
	model  string
}

// NewClient builds a Gemini client for one model.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "503") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "internal error")
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (<-chan llm.StreamChunk, error) {
	contents, systemInstruction := c.convertMessages(messages)
	genaiTools := convertTools(tools)

	chunkCh := make(chan llm.StreamChunk, 100)
	startResultCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)

		iter := c.client.Models.GenerateContentStream(ctx, c.model, contents, &genai.GenerateContentConfig{
			SystemInstruction: systemInstruction,
			Tools:             genaiTools,
		})

		started := false
		finishReason := llm.StopReasonStop

		for resp, err := range iter {
			if err != nil {
				if resp == nil {
					slog.Error("Stream error", "provider", "gemini", "model", c.model, "error", err)
					if !started {
						startResultCh <- err
					} else {
						chunkCh <- llm.NewErrorChunk(fmt.Errorf("stream interrupted: %w", err))
					}
					return
				}
				// Data alongside the error: process it, the next
				// iteration surfaces the failure.
				slog.Warn("Stream error with data", "provider", "gemini", "error", err)
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason != "" {
					finishReason = normalizeStopReason(string(candidate.FinishReason))
				}
				if candidate.Content == nil {
					continue
				}

				var calls []llm.ToolCall
				for _, part := range candidate.Content.Parts {
					if part.Text != "" && !part.Thought {
						chunkCh <- llm.NewTextChunk(part.Text)
					}
					if part.FunctionCall != nil {
						argsB, _ := json.Marshal(part.FunctionCall.Args)
						id := part.FunctionCall.ID
						if id == "" {
							// Gemini stream ids are sometimes missing.
							id = fmt.Sprintf("call_%d_%s", time.Now().UnixNano(), part.FunctionCall.Name)
						}
						calls = append(calls, llm.ToolCall{
							ID:   id,
							Name: part.FunctionCall.Name,
							Function: llm.FunctionCall{
								Name:      part.FunctionCall.Name,
								Arguments: string(argsB),
							},
						})
					}
				}
				if len(calls) > 0 {
					chunkCh <- llm.StreamChunk{ToolCalls: calls}
				}
			}
		}

		if !started {
			startResultCh <- nil
		}
		chunkCh <- llm.NewFinalChunk(finishReason)
	}()

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

func (c *Client) convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			}

		case llm.RoleTool:
			// Tool results travel under the user role in Gemini.
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     m.ToolCallID,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})

		case llm.RoleAssistant:
			var parts []*genai.Part
			for _, tc := range m.ToolCalls {
				var args map[string]any
				json.Unmarshal([]byte(tc.Function.Arguments), &args)
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Function.Name,
						Args: args,
					},
				})
			}
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}

		default:
			if m.Content != "" {
				contents = append(contents, &genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: m.Content}},
				})
			}
		}
	}

	return contents, systemInstruction
}

func convertTools(tools []llm.ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var fds []*genai.FunctionDeclaration
	for _, t := range tools {
		fd := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if t.Parameters != nil {
			schemaB, _ := json.Marshal(t.Parameters)
			var schema genai.Schema
			if err := json.Unmarshal(schemaB, &schema); err == nil {
				fd.Parameters = &schema
			}
		}
		fds = append(fds, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "STOP", "FINISH_REASON_STOP", "":
		return llm.StopReasonStop
	case "MAX_TOKENS", "FINISH_REASON_MAX_TOKENS":
		return llm.StopReasonLength
	default:
		return reason
	}
}
