package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"aviary/pkg/api"
	"aviary/pkg/assistant"
	"aviary/pkg/callbacks"
	"aviary/pkg/config"
	"aviary/pkg/connectors/telegram"
	"aviary/pkg/connectors/webcli"
	"aviary/pkg/connectors/whatsapp"
	"aviary/pkg/enhancer"
	"aviary/pkg/gateway"
	"aviary/pkg/llm"
	_ "aviary/pkg/llm/autoload" // registers LLM providers
	"aviary/pkg/middleware"
	"aviary/pkg/prompt"
	"aviary/pkg/speech"
	"aviary/pkg/store"
)

const defaultSystemPrompt = "You are a helpful assistant. Today is {current_date}. " +
	"Answer concisely and use the available tools when they help."

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// With no provider groups configured, a bare OpenAI key gets a default
	// group on the core model.
	if len(cfg.Providers) == 0 {
		cfg.Providers = []llm.ProviderGroupConfig{{
			Type:   "openai",
			APIKey: cfg.OpenAIAPIKey,
			Models: []string{cfg.Core.Model},
		}}
	}
	client, err := llm.NewFromGroups(cfg.Providers, cfg.Core.MaxRetries, time.Duration(cfg.RetryDelayMs)*time.Millisecond)
	if err != nil {
		slog.Error("Failed to init LLM client", "error", err)
		os.Exit(1)
	}

	history, state := buildStores(cfg)

	tmpl := prompt.New(systemPrompt(cfg)).
		WithResolver("current_date", func(ctx context.Context) (any, error) {
			return time.Now().Format("2006-01-02"), nil
		})

	core := assistant.New("core", tmpl, client, history, state, cfg)

	chain := buildChain(cfg, state, core)

	gw := gateway.New(core, chain, enhancer.New(), cfg)

	// The blacklist answers blocked peers through their connector, which
	// only the gateway knows, so the sender is wired after construction.
	for _, stage := range chain.Stages() {
		if bl, ok := stage.(*middleware.Blacklist); ok {
			bl.SetSender(func(ctx context.Context, msg *api.Message, text string) {
				if c, ok := gw.Connector(msg.Lead.ConnectorName); ok {
					if err := api.Deliver(ctx, c, api.NewOutgoingText(msg.Lead, text)); err != nil {
						slog.Warn("Failed to deliver reject notice", "session", msg.SessionID(), "error", err)
					}
				}
			})
		}
	}

	if cfg.TelegramToken != "" {
		tg, err := telegram.New(cfg.TelegramToken)
		if err != nil {
			slog.Error("Failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		gw.AddConnector(tg)
	}
	if cfg.WhatsAppToken != "" && cfg.WhatsAppPhoneID != "" {
		gw.AddConnector(whatsapp.New(whatsapp.Config{
			Token:       cfg.WhatsAppToken,
			VerifyToken: cfg.WhatsAppVerifyToken,
			PhoneID:     cfg.WhatsAppPhoneID,
			AppSecret:   cfg.WhatsAppAppSecret,
		}))
	}
	gw.AddConnector(webcli.New())

	if cfg.CallbackSigningKey != "" && cfg.CallbackEncryptionKey != "" && cfg.ExternalURL != "" {
		provider, err := callbacks.New(cfg.CallbackSigningKey, cfg.CallbackEncryptionKey, cfg.ExternalURL, cfg.CallbackPath)
		if err != nil {
			slog.Error("Failed to init callback provider", "error", err)
			os.Exit(1)
		}
		gw.SetCallbacks(provider)
	}

	if len(cfg.InsightsTargets) > 0 {
		targets := cfg.InsightsTargets
		gw.SetAfterTurn(func(sessionID string) {
			core.RunInsights(sessionID, targets)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := gw.Start(ctx); err != nil {
		slog.Error("Failed to start gateway", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      gw.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	go func() {
		slog.Info("Gateway listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	slog.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown failed", "error", err)
	}
	gw.Stop()
	slog.Info("Bye")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func systemPrompt(cfg *config.Settings) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	return defaultSystemPrompt
}

// buildStores returns redis-backed stores when a redis URL is configured,
// in-memory stores otherwise.
func buildStores(cfg *config.Settings) (store.History, store.State) {
	if cfg.RedisURL == "" {
		slog.Info("Using in-memory stores")
		return store.NewMemoryHistory(), store.NewMemoryState()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("Invalid redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	ttl := time.Duration(cfg.StoreTTLHours) * time.Hour
	slog.Info("Using redis stores", "history_prefix", cfg.HistoryPrefix, "state_prefix", cfg.StatePrefix)
	return store.NewRedisHistory(rdb, cfg.HistoryPrefix, ttl), store.NewRedisState(rdb, cfg.StatePrefix, ttl)
}

// buildChain assembles the middleware pipeline from configuration.
func buildChain(cfg *config.Settings, state store.State, agent assistant.Agent) *middleware.Chain {
	emit := func(ctx context.Context, event string, msg *api.Message, payload map[string]any) {
		_, err := agent.Trigger(ctx, event, &assistant.EventContext{
			SessionID: msg.SessionID(),
			Lead:      msg.Lead,
			Message:   msg,
			Payload:   payload,
		})
		if err != nil {
			slog.Error("Middleware event failed", "event", event, "error", err)
		}
	}

	chain := middleware.NewChain()
	chain.Use(middleware.NewSessionTracker(state, 24*time.Hour, emit))
	if len(cfg.InvitationCodes) > 0 {
		chain.Use(middleware.NewInvitation(state, cfg.InvitationCodes, cfg.InvitationCodesSingleUse, emit))
	}
	chain.Use(middleware.NewBlacklist(cfg.BlacklistRejectText))
	if cfg.OpenAIAPIKey != "" {
		chain.Use(middleware.NewSTT(speech.NewOpenAISpeech(cfg.OpenAIAPIKey, "", "", ""), cfg.STTFallbackText))
		chain.Use(middleware.NewModeration(
			middleware.NewOpenAIModerator(cfg.OpenAIAPIKey, ""),
			func(ctx context.Context, msg *api.Message, detail string) {
				emit(ctx, api.EventMessageFlagged, msg, map[string]any{"detail": detail})
			},
		))
	}
	chain.Use(middleware.NewContact())
	if cfg.ChatwootBaseURL != "" {
		chain.Use(middleware.NewChatwoot(cfg.ChatwootBaseURL, cfg.ChatwootAccountID, cfg.ChatwootInboxID, cfg.ChatwootToken))
	}
	return chain
}
