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
	Port        string
	FrontendURL string
	DBPath      string // empty = in-memory store

	HeartbeatInterval    time.Duration
	StalenessWindow      time.Duration
	PromptDismissAfter   time.Duration
	ArchiveSweepInterval time.Duration // 0 = derived from StalenessWindow

	// RearmOnRejoin clears the counterpart's departure-notified flag when a
	// participant rejoins, allowing a second departure announcement later.
	RearmOnRejoin bool

	RelayAddr string // empty = relay disabled
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		FrontendURL:          getEnv("FRONTEND_URL", ""),
		DBPath:               getEnv("DB_PATH", "./data/pairlab.db"),
		HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		StalenessWindow:      getEnvDuration("STALENESS_WINDOW", 120*time.Second),
		PromptDismissAfter:   getEnvDuration("PROMPT_DISMISS_AFTER", 8*time.Second),
		ArchiveSweepInterval: getEnvDuration("ARCHIVE_SWEEP_INTERVAL", 0),
		RearmOnRejoin:        getEnvBool("REARM_ON_REJOIN", false),
		RelayAddr:            getEnv("RELAY_ADDR", ""),
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
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be > 0")
	}
	if c.StalenessWindow <= 0 {
		return fmt.Errorf("STALENESS_WINDOW must be > 0")
	}
	// A staleness window shorter than two heartbeat intervals would mark
	// participants stale between normal beats.
	if c.StalenessWindow < 2*c.HeartbeatInterval {
		return fmt.Errorf("STALENESS_WINDOW must be at least twice HEARTBEAT_INTERVAL")
	}
	if c.PromptDismissAfter <= 0 {
		return fmt.Errorf("PROMPT_DISMISS_AFTER must be > 0")
	}
	if c.ArchiveSweepInterval < 0 {
		return fmt.Errorf("ARCHIVE_SWEEP_INTERVAL cannot be negative")
	}
	return nil
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare integers are treated as seconds.
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
