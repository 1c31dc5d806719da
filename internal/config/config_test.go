package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "dialogue.db", cfg.Database.Path)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 500, cfg.LLM.MaxTokens)
	assert.Equal(t, 60, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dialogue.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "9000"

[llm]
provider = "anthropic"
model = "claude-test"

[nats]
enabled = true
url = "nats://file:4222"
`), 0o644))

	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("SERVER_WRITE_TIMEOUT", "5m")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-test", cfg.LLM.Model)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_OriginListFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"single", "https://a.example", []string{"https://a.example"}},
		{"spaces", " https://a.example , https://b.example ,", []string{"https://a.example", "https://b.example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CORS_ALLOWED_ORIGINS", tt.value)

			cfg, err := Load("")
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.CORS.AllowedOrigins)
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DEFAULT_LLM", "gemini")
	_, err := Load("")
	assert.ErrorContains(t, err, "unknown llm provider")

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
