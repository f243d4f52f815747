// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	DBPath         string
	LedgerEnabled  bool
	AllowedOrigins []string
	Dev            bool
	ChatGPT        ChatGPTConfig
	Session        SessionConfig
}

// ChatGPTConfig locates the remote API.
type ChatGPTConfig struct {
	SessionURL    string
	APIURL        string
	Model         string
	CredentialTTL time.Duration
}

// SessionConfig bounds completion sessions.
type SessionConfig struct {
	CleanupTimeout time.Duration
	StreamTimeout  time.Duration // 0 = no limit
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./data/overflowgpt.db"),
		LedgerEnabled:  getEnvBool("LEDGER_ENABLED", true),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"chrome-extension://*"}),
		Dev:            getEnvBool("DEV", false),
		ChatGPT: ChatGPTConfig{
			SessionURL:    getEnv("CHATGPT_SESSION_URL", "https://chat.openai.com/api/auth/session"),
			APIURL:        getEnv("CHATGPT_API_URL", "https://chat.openai.com/backend-api"),
			Model:         getEnv("CHATGPT_MODEL", "text-davinci-002-render"),
			CredentialTTL: getEnvDuration("CREDENTIAL_TTL", 10*time.Second),
		},
		Session: SessionConfig{
			CleanupTimeout: getEnvDuration("CLEANUP_TIMEOUT", 10*time.Second),
			StreamTimeout:  getEnvDuration("STREAM_TIMEOUT", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.LedgerEnabled && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when the ledger is enabled")
	}
	if c.ChatGPT.SessionURL == "" {
		return fmt.Errorf("CHATGPT_SESSION_URL cannot be empty")
	}
	if c.ChatGPT.APIURL == "" {
		return fmt.Errorf("CHATGPT_API_URL cannot be empty")
	}
	if c.ChatGPT.CredentialTTL <= 0 {
		return fmt.Errorf("CREDENTIAL_TTL must be > 0")
	}
	if c.Session.CleanupTimeout <= 0 {
		return fmt.Errorf("CLEANUP_TIMEOUT must be > 0")
	}
	if c.Session.StreamTimeout < 0 {
		return fmt.Errorf("STREAM_TIMEOUT must be >= 0")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS cannot be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("15s") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if _, err := strconv.Atoi(value); err == nil {
		return time.Duration(getEnvInt(key, 0)) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
