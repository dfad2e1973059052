package openaillm

import (
	"log/slog"

	"aviary/pkg/llm"
)

// Factory builds OpenAI-compatible clients from a provider group.
type Factory struct{}

// Create implements llm.ProviderFactory.
func (f *Factory) Create(group llm.ProviderGroupConfig) ([]llm.ChatClient, error) {
	var clients []llm.ChatClient
	for _, model := range group.Models {
		client, err := NewClient(group.APIKey, model, group.BaseURL, group.Options)
		if err != nil {
			slog.Warn("Failed to create OpenAI client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &Factory{})
}
