// Package config holds the application settings. Settings load from a JSON
// file with safe defaults; secrets come from the environment so they never
// land in the config file.
package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"aviary/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ModelBlock groups the tuning knobs of one LLM call family.
type ModelBlock struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TimeoutMs   int     `json:"timeout_ms"`
	MaxRetries  int     `json:"max_retries"`
}

// Settings is the full configuration surface of the gateway.
type Settings struct {
	// Core drives the main assistant turn.
	Core ModelBlock `json:"core"`
	// Blend drives conversational rephrasing of canned strings.
	Blend ModelBlock `json:"blend"`
	// Insights drives background field extraction.
	Insights ModelBlock `json:"insights"`

	CoreHistoryWindowLength       int `json:"core_history_window_length"`
	CoreMaxFunctionCallsInMessage int `json:"core_max_function_calls_in_message"`
	CoreRAGKNN                    int `json:"core_rag_knn"`

	// Providers lists the configured LLM provider groups, tried in order.
	Providers []llm.ProviderGroupConfig `json:"providers"`

	// Gateway behavior.
	StreamMode        string  `json:"stream_mode"` // direct | sentence | full
	DeliveryRateRatio float64 `json:"delivery_rate_ratio"`
	SessionQueueCap   int     `json:"session_queue_cap"`
	RetryDelayMs      int     `json:"retry_delay_ms"`

	// HTTP surface.
	ListenAddr    string `json:"listen_addr"`
	ExternalURL   string `json:"external_url"`
	CallbackPath  string `json:"callback_path"`
	GatewayAPIKey string `json:"-"`

	// Stores.
	RedisURL      string `json:"-"`
	HistoryPrefix string `json:"history_prefix"`
	StatePrefix   string `json:"state_prefix"`
	StoreTTLHours int    `json:"store_ttl_hours"`

	// Connector credentials (environment only).
	TelegramToken       string `json:"-"`
	WhatsAppToken       string `json:"-"`
	WhatsAppVerifyToken string `json:"-"`
	WhatsAppPhoneID     string `json:"-"`
	WhatsAppAppSecret   string `json:"-"`

	// Callback token keys (environment only).
	CallbackSigningKey    string `json:"-"`
	CallbackEncryptionKey string `json:"-"`

	OpenAIAPIKey string `json:"-"`

	// InsightsTargets maps state field names to extraction hints; empty
	// disables background insights.
	InsightsTargets map[string]string `json:"insights_targets"`

	// InvitationCodes gates sessions when non-empty (see the invitation
	// middleware).
	InvitationCodes          []string `json:"invitation_codes"`
	InvitationCodesSingleUse bool     `json:"invitation_codes_single_use"`

	// Chatwoot mirroring; disabled while BaseURL is empty.
	ChatwootBaseURL   string `json:"chatwoot_base_url"`
	ChatwootAccountID string `json:"chatwoot_account_id"`
	ChatwootInboxID   string `json:"chatwoot_inbox_id"`
	ChatwootToken     string `json:"-"`

	// STTFallbackText replaces the message text when a voice note cannot
	// be transcribed.
	STTFallbackText string `json:"stt_fallback_text"`
	// BlacklistRejectText is sent back to blocked peers; empty blocks
	// silently.
	BlacklistRejectText string `json:"blacklist_reject_text"`

	SystemPrompt string `json:"system_prompt"`
	LogLevel     string `json:"log_level"`
}

// Default returns settings initialized with safe defaults, used when the
// config file is missing or partial.
func Default() *Settings {
	return &Settings{
		Core:     ModelBlock{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 1024, TimeoutMs: 60000, MaxRetries: 3},
		Blend:    ModelBlock{Model: "gpt-4o-mini", Temperature: 0.4, MaxTokens: 512, TimeoutMs: 30000, MaxRetries: 2},
		Insights: ModelBlock{Model: "gpt-4o-mini", Temperature: 0.0, MaxTokens: 512, TimeoutMs: 30000, MaxRetries: 1},

		CoreHistoryWindowLength:       20,
		CoreMaxFunctionCallsInMessage: 5,
		CoreRAGKNN:                    3,

		StreamMode:        "sentence",
		DeliveryRateRatio: 0,
		SessionQueueCap:   256,
		RetryDelayMs:      500,

		ListenAddr:    ":8080",
		CallbackPath:  "callback",
		HistoryPrefix: "h:",
		StatePrefix:   "s:",
		StoreTTLHours: 0,

		STTFallbackText:     "I sent a voice message that could not be transcribed.",
		BlacklistRejectText: "You are not allowed to use this service.",

		LogLevel: "info",
	}
}

// Load reads settings from path, overlaying defaults, then applies
// environment secrets. A missing file is not an error; defaults apply.
func Load(path string) (*Settings, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Settings) applyEnv() {
	c.OpenAIAPIKey = envOr("AVIARY_OPENAI_API_KEY", c.OpenAIAPIKey)
	c.TelegramToken = envOr("AVIARY_TELEGRAM_TOKEN", c.TelegramToken)
	c.WhatsAppToken = envOr("AVIARY_WHATSAPP_TOKEN", c.WhatsAppToken)
	c.WhatsAppVerifyToken = envOr("AVIARY_WHATSAPP_VERIFY_TOKEN", c.WhatsAppVerifyToken)
	c.WhatsAppPhoneID = envOr("AVIARY_WHATSAPP_PHONE_ID", c.WhatsAppPhoneID)
	c.WhatsAppAppSecret = envOr("AVIARY_WHATSAPP_APP_SECRET", c.WhatsAppAppSecret)
	c.CallbackSigningKey = envOr("AVIARY_CALLBACK_SIGNING_KEY", c.CallbackSigningKey)
	c.CallbackEncryptionKey = envOr("AVIARY_CALLBACK_ENCRYPTION_KEY", c.CallbackEncryptionKey)
	c.RedisURL = envOr("AVIARY_REDIS_URL", c.RedisURL)
	c.GatewayAPIKey = envOr("AVIARY_GATEWAY_API_KEY", c.GatewayAPIKey)
	c.ChatwootToken = envOr("AVIARY_CHATWOOT_TOKEN", c.ChatwootToken)
	if c.ExternalURL == "" {
		c.ExternalURL = os.Getenv("AVIARY_EXTERNAL_URL")
	}
}

// Validate fails fast on configuration the gateway cannot start without.
func (c *Settings) Validate() error {
	if len(c.Providers) == 0 && c.OpenAIAPIKey == "" {
		return fmt.Errorf("no LLM provider configured: set 'providers' or AVIARY_OPENAI_API_KEY")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
