// Package config provides configuration management for GitScribe.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the GitScribe server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// GitHubToken is the personal access token for GitHub API operations.
	GitHubToken string

	// GitHubBaseURL overrides the GitHub API endpoint (GitHub Enterprise, tests).
	GitHubBaseURL string

	// LLM provider API keys. Anthropic is preferred when both are set.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// GenerationModel overrides the provider's default model.
	GenerationModel string

	// Embeddings (optional -- enables retrieval augmentation).
	// VoyageAPIKey takes precedence; falls back to OpenAIAPIKey.
	VoyageAPIKey   string
	EmbeddingModel string

	// Session credentials.
	// SessionSubject is the subject ID minted into credentials at login.
	SessionSubject string
	// SessionPassword guards the login endpoint. Login is disabled when empty.
	SessionPassword string
	// CredentialTTL is how long a minted credential lives.
	CredentialTTL time.Duration
	// SweepInterval is how often the credential store evicts expired entries.
	SweepInterval time.Duration

	// GitHubRatePerSecond caps outbound GitHub API calls. 0 disables the cap.
	GitHubRatePerSecond float64

	// Slack notifications (optional).
	SlackBotToken string
	SlackChannel  string

	// Telegram notifications (optional).
	TelegramBotToken string
	TelegramChatID   int64
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("GITSCRIBE_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:          envOr("GITSCRIBE_ADDR", ":7090"),
		DataDir:             dataDir,
		DatabasePath:        filepath.Join(dataDir, "gitscribe.db"),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		GitHubBaseURL:       os.Getenv("GITSCRIBE_GITHUB_BASE_URL"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		GenerationModel:     os.Getenv("GITSCRIBE_MODEL"),
		VoyageAPIKey:        os.Getenv("VOYAGE_API_KEY"),
		EmbeddingModel:      os.Getenv("GITSCRIBE_EMBEDDING_MODEL"),
		SessionSubject:      envOr("GITSCRIBE_SUBJECT", "owner"),
		SessionPassword:     os.Getenv("GITSCRIBE_PASSWORD"),
		CredentialTTL:       envOrDuration("GITSCRIBE_CREDENTIAL_TTL", 24*time.Hour),
		SweepInterval:       envOrDuration("GITSCRIBE_SWEEP_INTERVAL", time.Minute),
		GitHubRatePerSecond: envOrFloat("GITSCRIBE_GITHUB_RATE", 8),
		SlackBotToken:       os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:        os.Getenv("SLACK_CHANNEL"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:      envOrInt64("TELEGRAM_CHAT_ID", 0),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}
	if c.CredentialTTL <= 0 {
		return fmt.Errorf("credential TTL must be positive")
	}
	return nil
}

// AugmentationEnabled returns true if an embedding provider is configured.
func (c *Config) AugmentationEnabled() bool {
	return c.VoyageAPIKey != "" || c.OpenAIAPIKey != ""
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// TelegramEnabled returns true if Telegram notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gitscribe"
	}
	return filepath.Join(home, ".gitscribe")
}
