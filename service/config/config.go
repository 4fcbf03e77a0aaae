package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Fetch modes select which collaborator retrieves wallet history.
const (
	FetchModeDirect   = "direct"
	FetchModeTemporal = "temporal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration. Empty disables lookup persistence.
	DatabaseURL string

	// NATS configuration. Empty disables published notifications.
	NATSURL string

	// Solana configuration
	SolanaRPCURLs   []string
	SolanaNetwork   string
	FetchLimit      int
	RPCRequestDelay time.Duration

	// Search configuration
	FetchTimeout time.Duration
	FetchMode    string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URL"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "mainnet")

	limit, err := parseInt("FETCH_LIMIT", 50)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FetchLimit = limit
	}

	delay, err := parseDuration("RPC_REQUEST_DELAY", "600ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRequestDelay = delay
	}

	// Search configuration
	timeout, err := parseDuration("FETCH_TIMEOUT", "2m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FetchTimeout = timeout
	}
	cfg.FetchMode = getEnvOrDefault("FETCH_MODE", FetchModeDirect)

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solvision-wallet-fetch")

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if c.FetchLimit < 1 || c.FetchLimit > 1000 {
		errs = append(errs, fmt.Errorf("FetchLimit must be between 1 and 1000, got %d", c.FetchLimit))
	}

	if c.RPCRequestDelay < 0 {
		errs = append(errs, fmt.Errorf("RPCRequestDelay cannot be negative"))
	}

	if c.FetchTimeout < time.Second {
		errs = append(errs, fmt.Errorf("FetchTimeout must be at least 1 second"))
	}

	switch c.FetchMode {
	case FetchModeDirect:
	case FetchModeTemporal:
		if c.TemporalHost == "" {
			errs = append(errs, fmt.Errorf("TemporalHost is required when FetchMode is %q", FetchModeTemporal))
		}
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required when FetchMode is %q", FetchModeTemporal))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required when FetchMode is %q", FetchModeTemporal))
		}
	default:
		errs = append(errs, fmt.Errorf("FetchMode must be %q or %q, got %q", FetchModeDirect, FetchModeTemporal, c.FetchMode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
