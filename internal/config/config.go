// Package config provides environment-based configuration for the
// service. A .env file is loaded by the entrypoint before Load runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full service configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int
	// ResultsDir is where completed results are dumped as JSON.
	// Empty disables artifact dumping.
	ResultsDir string
	// MaxConcurrentTasks bounds simultaneously running search tasks.
	MaxConcurrentTasks int

	Source SourceConfig
}

// SourceConfig configures the PatentScope portal client.
type SourceConfig struct {
	BaseURL string
	// Timeout bounds a single portal request.
	Timeout time.Duration
	// MinDelay spaces out consecutive portal requests.
	MinDelay time.Duration
	// MaxRetries caps retries after rate-limited responses.
	MaxRetries int
	// Username/Password are the WIPO credentials for authenticated
	// sessions. Only required when a search requests use_login.
	Username string
	Password string
}

// Load reads the configuration from the environment, applying defaults
// for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               envInt("PORT", 8000),
		ResultsDir:         envStr("RESULTS_DIR", "results"),
		MaxConcurrentTasks: envInt("MAX_CONCURRENT_TASKS", 4),
		Source: SourceConfig{
			BaseURL:    envStr("PATENTSCOPE_BASE_URL", "https://patentscope.wipo.int"),
			Timeout:    envDuration("SOURCE_TIMEOUT", 30*time.Second),
			MinDelay:   envDuration("SOURCE_MIN_DELAY", time.Second),
			MaxRetries: envInt("SOURCE_MAX_RETRIES", 3),
			Username:   os.Getenv("WIPO_USERNAME"),
			Password:   os.Getenv("WIPO_PASSWORD"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config error: PORT must be in 1..65535, got %d", c.Port)
	}
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("config error: MAX_CONCURRENT_TASKS must be positive, got %d", c.MaxConcurrentTasks)
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("config error: SOURCE_TIMEOUT must be positive, got %s", c.Source.Timeout)
	}
	if c.Source.MaxRetries < 0 {
		return fmt.Errorf("config error: SOURCE_MAX_RETRIES must be non-negative, got %d", c.Source.MaxRetries)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
