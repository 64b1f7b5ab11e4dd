// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all client configuration.
type Config struct {
	APIBaseURL        string
	RequestTimeout    time.Duration
	Language          string
	Difficulty        string
	WarningThreshold  time.Duration
	CriticalThreshold time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DebounceWindow    time.Duration
	Transcript        TranscriptConfig
}

// TranscriptConfig controls local conversation history persistence.
type TranscriptConfig struct {
	Enabled bool
	DBPath  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:        getEnv("NEUROCLIMA_API_URL", "http://localhost:8080"),
		RequestTimeout:    getEnvDuration("NEUROCLIMA_REQUEST_TIMEOUT", 60*time.Second),
		Language:          getEnv("NEUROCLIMA_LANGUAGE", "en"),
		Difficulty:        getEnv("NEUROCLIMA_DIFFICULTY", "intermediate"),
		WarningThreshold:  getEnvDuration("NEUROCLIMA_WARNING_THRESHOLD", 60*time.Second),
		CriticalThreshold: getEnvDuration("NEUROCLIMA_CRITICAL_THRESHOLD", 15*time.Second),
		ReconnectAttempts: getEnvInt("NEUROCLIMA_RECONNECT_ATTEMPTS", 3),
		ReconnectDelay:    getEnvDuration("NEUROCLIMA_RECONNECT_DELAY", 2*time.Second),
		DebounceWindow:    getEnvDuration("NEUROCLIMA_DEBOUNCE_WINDOW", time.Second),
		Transcript: TranscriptConfig{
			Enabled: getEnvBool("NEUROCLIMA_TRANSCRIPT_ENABLED", true),
			DBPath:  getEnv("NEUROCLIMA_TRANSCRIPT_DB", "./data/transcript.db"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("NEUROCLIMA_API_URL cannot be empty")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("NEUROCLIMA_API_URL must be an http(s) URL")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("NEUROCLIMA_REQUEST_TIMEOUT must be > 0")
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("NEUROCLIMA_RECONNECT_ATTEMPTS must be >= 0")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("NEUROCLIMA_RECONNECT_DELAY must be > 0")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("NEUROCLIMA_DEBOUNCE_WINDOW must be > 0")
	}
	if c.CriticalThreshold > c.WarningThreshold {
		return fmt.Errorf("NEUROCLIMA_CRITICAL_THRESHOLD cannot exceed NEUROCLIMA_WARNING_THRESHOLD")
	}
	if c.Transcript.Enabled && c.Transcript.DBPath == "" {
		return fmt.Errorf("NEUROCLIMA_TRANSCRIPT_DB cannot be empty")
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
