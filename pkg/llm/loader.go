package llm

import (
	"fmt"
	"log/slog"
	"time"
)

// NewFromGroups builds one ChatClient from the configured provider groups.
// A single client is returned bare; several are wrapped in a FallbackClient
// carrying the retry budget.
func NewFromGroups(groups []ProviderGroupConfig, maxRetries int, retryDelay time.Duration) (ChatClient, error) {
	var clients []ChatClient

	for _, group := range groups {
		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type, skipping", "type", group.Type)
			continue
		}

		created, err := factory.Create(group)
		if err != nil {
			slog.Warn("Failed to create provider clients", "type", group.Type, "error", err)
			continue
		}
		slog.Info("Loaded provider group", "type", group.Type, "models", len(created))
		clients = append(clients, created...)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}
	if len(clients) == 1 {
		return clients[0], nil
	}

	return &FallbackClient{
		Clients:    clients,
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
	}, nil
}
