package middleware

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"aviary/pkg/api"
)

// Moderator classifies text as acceptable or flagged.
type Moderator interface {
	Flag(ctx context.Context, text string) (flagged bool, detail string, err error)
}

// FlaggedFunc is notified when a message is vetoed, so the gateway can fire
// the corresponding event.
type FlaggedFunc func(ctx context.Context, msg *api.Message, detail string)

// Moderation vetoes flagged messages before they reach the engine.
type Moderation struct {
	moderator Moderator
	onFlagged FlaggedFunc
}

// NewModeration builds the moderation stage. onFlagged may be nil.
func NewModeration(m Moderator, onFlagged FlaggedFunc) *Moderation {
	return &Moderation{moderator: m, onFlagged: onFlagged}
}

func (m *Moderation) Name() string { return "moderation" }

// Process implements Middleware. Moderation errors fail open: an
// unreachable classifier must not silence the assistant.
func (m *Moderation) Process(ctx context.Context, msg *api.Message) (bool, error) {
	if msg.Text == "" {
		return true, nil
	}
	flagged, detail, err := m.moderator.Flag(ctx, msg.Text)
	if err != nil {
		return true, fmt.Errorf("moderation check: %w", err)
	}
	if !flagged {
		return true, nil
	}
	if m.onFlagged != nil {
		m.onFlagged(ctx, msg, detail)
	}
	return false, nil
}

// OpenAIModerator implements Moderator over the OpenAI moderations
// endpoint.
type OpenAIModerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIModerator builds a moderator. An empty model uses the endpoint
// default.
func NewOpenAIModerator(apiKey, model string) *OpenAIModerator {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIModerator{client: &client, model: model}
}

// Flag implements Moderator.
func (o *OpenAIModerator) Flag(ctx context.Context, text string) (bool, string, error) {
	params := openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if o.model != "" {
		params.Model = openai.ModerationModel(o.model)
	}
	resp, err := o.client.Moderations.New(ctx, params)
	if err != nil {
		return false, "", fmt.Errorf("moderation request: %w", err)
	}
	if len(resp.Results) == 0 {
		return false, "", nil
	}
	result := resp.Results[0]
	if !result.Flagged {
		return false, "", nil
	}
	detail, err := json.Marshal(result.Categories)
	if err != nil {
		return true, "", nil
	}
	return true, string(detail), nil
}
