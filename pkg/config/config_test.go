package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 20, cfg.CoreHistoryWindowLength)
	require.Equal(t, 5, cfg.CoreMaxFunctionCallsInMessage)
	require.Equal(t, "sentence", cfg.StreamMode)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "h:", cfg.HistoryPrefix)
	require.Equal(t, "s:", cfg.StatePrefix)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Equal(t, Default().CoreHistoryWindowLength, cfg.CoreHistoryWindowLength)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"stream_mode":"full","core":{"model":"gpt-4o"}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "full", cfg.StreamMode)
	require.Equal(t, "gpt-4o", cfg.Core.Model)
	// Untouched keys keep their defaults.
	require.Equal(t, 5, cfg.CoreMaxFunctionCallsInMessage)
}

func TestLoadRejectsBrokenJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvSecretsOverlay(t *testing.T) {
	t.Setenv("AVIARY_OPENAI_API_KEY", "sk-test")
	t.Setenv("AVIARY_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("AVIARY_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	require.Equal(t, "tg-token", cfg.TelegramToken)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestValidateNeedsAProvider(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.OpenAIAPIKey = "sk-test"
	require.NoError(t, cfg.Validate())
}
