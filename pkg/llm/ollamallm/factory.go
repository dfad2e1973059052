package ollamallm

import (
	"log/slog"

	"aviary/pkg/llm"
)

// Factory builds Ollama clients from a provider group.
type Factory struct{}

// Create implements llm.ProviderFactory.
func (f *Factory) Create(group llm.ProviderGroupConfig) ([]llm.ChatClient, error) {
	var clients []llm.ChatClient
	for _, model := range group.Models {
		client, err := NewClient(model, group.BaseURL, group.Options)
		if err != nil {
			slog.Warn("Failed to create Ollama client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &Factory{})
}
