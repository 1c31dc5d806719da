// Package config loads configuration for the API server and the CLI.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	NATS      NATSConfig      `koanf:"nats"`
	Auth      AuthConfig      `koanf:"auth"`
	LLM       LLMConfig       `koanf:"llm"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Tracing   TracingConfig   `koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// NATSConfig holds event stream settings. Events are only published when
// Enabled is set.
type NATSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	Token    string `koanf:"token"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	Enabled   bool   `koanf:"enabled"`
	JWTSecret string `koanf:"jwt_secret"`
}

// LLMConfig selects and configures the generation provider.
type LLMConfig struct {
	Provider        string `koanf:"provider"`
	Model           string `koanf:"model"`
	MaxTokens       int    `koanf:"max_tokens"`
	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	OpenAIAPIKey    string `koanf:"openai_api_key"`
	OpenAIBaseURL   string `koanf:"openai_base_url"`
}

// APIKey returns the key of the selected provider.
func (c LLMConfig) APIKey() string {
	if c.Provider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// RateLimitConfig holds request rate limits.
type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

// CORSConfig holds allowed origins.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `koanf:"level"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
}

var defaults = map[string]interface{}{
	"server.port":          "8080",
	"server.read_timeout":  30 * time.Second,
	"server.write_timeout": 120 * time.Second,

	"database.path": "dialogue.db",

	"nats.enabled": false,
	"nats.url":     "nats://localhost:4222",

	"auth.enabled":    false,
	"auth.jwt_secret": "development-secret-change-in-production",

	"llm.provider":   "openai",
	"llm.max_tokens": 500,

	"rate_limit.requests": 60,
	"rate_limit.window":   time.Minute,

	"cors.allowed_origins": []string{},

	"log.level": "info",

	"tracing.enabled":  false,
	"tracing.endpoint": "localhost:4318",
}

// envKeys maps environment variables to configuration keys.
var envKeys = map[string]string{
	"PORT":                 "server.port",
	"SERVER_READ_TIMEOUT":  "server.read_timeout",
	"SERVER_WRITE_TIMEOUT": "server.write_timeout",

	"DATABASE_PATH": "database.path",

	"NATS_ENABLED":   "nats.enabled",
	"NATS_URL":       "nats.url",
	"NATS_CA_FILE":   "nats.ca_file",
	"NATS_CERT_FILE": "nats.cert_file",
	"NATS_KEY_FILE":  "nats.key_file",
	"NATS_TOKEN":     "nats.token",

	"AUTH_ENABLED": "auth.enabled",
	"JWT_SECRET":   "auth.jwt_secret",

	"DEFAULT_LLM":       "llm.provider",
	"LLM_MODEL":         "llm.model",
	"LLM_MAX_TOKENS":    "llm.max_tokens",
	"ANTHROPIC_API_KEY": "llm.anthropic_api_key",
	"OPENAI_API_KEY":    "llm.openai_api_key",
	"OPENAI_BASE_URL":   "llm.openai_base_url",

	"RATE_LIMIT_REQUESTS": "rate_limit.requests",
	"RATE_LIMIT_WINDOW":   "rate_limit.window",

	"CORS_ALLOWED_ORIGINS": "cors.allowed_origins",

	"LOG_LEVEL": "log.level",

	"TRACING_ENABLED":  "tracing.enabled",
	"TRACING_ENDPOINT": "tracing.endpoint",
}

// listKeys are comma separated when read from the environment.
var listKeys = map[string]bool{
	"cors.allowed_origins": true,
}

func splitList(value string) []string {
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Load builds the configuration from defaults, an optional TOML file and
// environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Keys the callback maps to "" are skipped by the provider.
	if err := k.Load(env.ProviderWithValue("", ".", func(name, value string) (string, interface{}) {
		key := envKeys[name]
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm max_tokens must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but no jwt secret is set")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	return nil
}
