// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	OpenAI      OpenAIConfig
}

// OpenAIConfig holds the completion provider settings.
type OpenAIConfig struct {
	APIKey  string
	APIType string
	BaseURL string
	Model   string
	OrgID   string
	UseMock bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/minichat.db"),
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			APIType: getEnv("OPENAI_API_TYPE", "openai"),
			BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:   getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			OrgID:   getEnv("OPENAI_ORG_ID", ""),
			UseMock: getEnvBool("OPENAI_USE_MOCK", false),
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OpenAI.BaseURL == "" {
		return fmt.Errorf("OPENAI_BASE_URL cannot be empty")
	}
	if c.OpenAI.Model == "" {
		return fmt.Errorf("OPENAI_MODEL cannot be empty")
	}
	return nil
}

// MockActive reports whether the gateway will run without credentials,
// either by explicit flag or because no API key is configured.
func (c *Config) MockActive() bool {
	return c.OpenAI.UseMock || c.OpenAI.APIKey == ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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
