package openaillm

import (
	"context"
	"log/slog"
	"strings"

	"aviary/pkg/llm"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// Client wraps the official OpenAI Go SDK behind the llm.ChatClient
// contract. It also serves any OpenAI-compatible endpoint via BaseURL.
type Client struct {
	client  *openai.Client
	model   string
	options map[string]any
}

// NewClient builds a client for one model. baseURL may be empty for the
// default endpoint.
func NewClient(apiKey, model, baseURL string, options map[string]any) (*Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &Client{
		client:  &client,
		model:   model,
		options: options,
	}, nil
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	// Everything else (400 Bad Request, 401 Unauthorized, ...) is permanent.
	return false
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (<-chan llm.StreamChunk, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: c.convertMessages(messages),
	}

	if t, ok := c.options["temperature"].(float64); ok {
		params.Temperature = openai.Float(t)
	}
	if p, ok := c.options["top_p"].(float64); ok {
		params.TopP = openai.Float(p)
	}
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		params.MaxCompletionTokens = openai.Int(int64(maxTok))
	}

	if converted := convertTools(tools); len(converted) > 0 {
		params.Tools = converted
	}

	chunkCh := make(chan llm.StreamChunk, 100)

	go func() {
		defer close(chunkCh)

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				chunkCh <- llm.NewTextChunk(delta)
			}
		}

		if err := stream.Err(); err != nil {
			slog.Error("Stream error", "provider", "openai", "model", c.model, "error", err)
			chunkCh <- llm.NewErrorChunk(err)
			return
		}

		finishReason := llm.StopReasonStop
		if len(acc.Choices) > 0 {
			msg := acc.Choices[0].Message
			if len(msg.ToolCalls) > 0 {
				calls := make([]llm.ToolCall, 0, len(msg.ToolCalls))
				for _, tc := range msg.ToolCalls {
					calls = append(calls, llm.ToolCall{
						ID:   tc.ID,
						Name: tc.Function.Name,
						Function: llm.FunctionCall{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					})
				}
				chunkCh <- llm.StreamChunk{ToolCalls: calls}
			}
			finishReason = normalizeStopReason(acc.Choices[0].FinishReason)
		}

		chunkCh <- llm.NewFinalChunk(finishReason)
	}()

	return chunkCh, nil
}

func (c *Client) convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))

		case llm.RoleUser:
			out = append(out, openai.UserMessage(m.Content))

		case llm.RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})

		case llm.RoleTool:
			tool := openai.ChatCompletionToolMessageParam{
				ToolCallID: m.ToolCallID,
			}
			tool.Content.OfString = openai.String(m.Content)
			out = append(out, openai.ChatCompletionMessageParamUnion{OfTool: &tool})
		}
	}

	return out
}

func convertTools(tools []llm.ToolSchema) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.Parameters),
		}))
	}
	return out
}

// normalizeStopReason maps OpenAI finish reasons onto the shared constants.
func normalizeStopReason(reason string) string {
	switch strings.ToLower(reason) {
	case "stop", "":
		return llm.StopReasonStop
	case "length":
		return llm.StopReasonLength
	case "tool_calls":
		return llm.StopReasonToolCalls
	default:
		return reason
	}
}
