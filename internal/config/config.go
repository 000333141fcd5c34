// Package config provides configuration loading for the notification CLIs.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all pipeline configuration.
type Config struct {
	// Redis connection URL (streams broker)
	RedisURL string

	// Postgres DSN for the ledger, subscriptions and entity tables
	DatabaseURL string

	// Base URL for related links in notification payloads
	SiteURL string

	// SMTP transport settings
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	// Logging
	LogLevel  string
	LogFormat string
	// Log file path; empty logs to stdout, non-empty enables rotation
	LogFile string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SiteURL:      getEnv("SITE_URL", "https://nest.owasp.org"),
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
		LogFile:      getEnv("LOG_FILE", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
