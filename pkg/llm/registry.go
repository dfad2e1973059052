package llm

// ProviderGroupConfig declares one group of models from a single provider
// in the application config.
type ProviderGroupConfig struct {
	Type    string         `json:"type"`
	APIKey  string         `json:"api_key,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory builds atomic clients for one provider group.
type ProviderFactory interface {
	Create(group ProviderGroupConfig) ([]ChatClient, error)
}

var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider adds a factory to the registry. Provider packages call
// this from init; importing the autoload package wires them all.
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory looks up a registered factory by provider type.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
