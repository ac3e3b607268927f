// Package config resolves Supabase credentials and client tunables from
// explicit values, environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvURL          = "SUPABASE_URL"
	EnvAPIKey       = "SUPABASE_API_KEY"
	EnvAuthEmail    = "SUPABASE_AUTH_EMAIL"
	EnvAuthPassword = "SUPABASE_AUTH_PASSWORD"
	EnvEnvironment  = "ENVIRONMENT"

	EnvTable           = "SUPABASE_LOG_TABLE"
	EnvTokenTTL        = "SUPABASE_TOKEN_TTL"
	EnvExpiryBuffer    = "SUPABASE_TOKEN_EXPIRY_BUFFER"
	EnvMaxAttempts     = "SUPABASE_MAX_ATTEMPTS"
	EnvRetryBackoff    = "SUPABASE_RETRY_BACKOFF"
	EnvRetryMaxBackoff = "SUPABASE_RETRY_MAX_BACKOFF"
	EnvRequestTimeout  = "SUPABASE_REQUEST_TIMEOUT"
	EnvJournal         = "SUPABASE_LOG_JOURNAL"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
)

// Default values
const (
	DefaultTable           = "ai_bot_logs"
	DefaultTokenTTL        = 55 * time.Minute
	DefaultExpiryBuffer    = 60 * time.Second
	DefaultMaxAttempts     = 3
	DefaultRetryBackoff    = 500 * time.Millisecond
	DefaultRetryMaxBackoff = 8 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
)

// Credentials identify the Supabase project and the account used to log in.
// Empty fields mean "not provided".
type Credentials struct {
	BaseURL      string
	APIKey       string
	AuthEmail    string
	AuthPassword string
	Environment  string
}

// Config holds the resolved client configuration.
type Config struct {
	Credentials

	Table           string
	JournalPath     string
	LogLevel        string
	LogFormat       string
	TokenTTL        time.Duration
	ExpiryBuffer    time.Duration
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	RequestTimeout  time.Duration
	MaxAttempts     int
}

// Load reads .env files and environment variables, applies explicit
// credentials on top and validates the result.
func Load(explicit Credentials) (*Config, error) {
	if err := LoadEnv(""); err != nil {
		return nil, err
	}
	return FromEnv(explicit)
}

// LoadFile is Load with a specific .env file. A missing file is an error.
func LoadFile(path string, explicit Credentials) (*Config, error) {
	if err := LoadEnv(path); err != nil {
		return nil, err
	}
	return FromEnv(explicit)
}

// LoadEnv loads path into the process environment, or the first .env file
// found in the search paths when path is empty. Variables already set are
// kept.
func LoadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	for _, p := range getEnvPaths() {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			break
		}
	}
	return nil
}

// FromEnv builds the configuration from the current process environment
// without touching .env files.
func FromEnv(explicit Credentials) (*Config, error) {
	cfg := &Config{
		Credentials: Credentials{
			BaseURL:      firstNonEmpty(explicit.BaseURL, os.Getenv(EnvURL)),
			APIKey:       firstNonEmpty(explicit.APIKey, os.Getenv(EnvAPIKey)),
			AuthEmail:    firstNonEmpty(explicit.AuthEmail, os.Getenv(EnvAuthEmail)),
			AuthPassword: firstNonEmpty(explicit.AuthPassword, os.Getenv(EnvAuthPassword)),
			Environment:  firstNonEmpty(explicit.Environment, os.Getenv(EnvEnvironment)),
		},
		Table:           getEnvString(EnvTable, DefaultTable),
		JournalPath:     getEnvString(EnvJournal, ""),
		LogLevel:        getEnvString(EnvLogLevel, "info"),
		LogFormat:       getEnvString(EnvLogFormat, "text"),
		TokenTTL:        getEnvDuration(EnvTokenTTL, DefaultTokenTTL),
		ExpiryBuffer:    getEnvDuration(EnvExpiryBuffer, DefaultExpiryBuffer),
		RetryBackoff:    getEnvDuration(EnvRetryBackoff, DefaultRetryBackoff),
		RetryMaxBackoff: getEnvDuration(EnvRetryMaxBackoff, DefaultRetryMaxBackoff),
		RequestTimeout:  getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		MaxAttempts:     getEnvInt(EnvMaxAttempts, DefaultMaxAttempts),
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required credentials are present and the
// tunables are usable.
func (c *Config) Validate() error {
	if missing := c.Credentials.Missing(); len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	if c.MaxAttempts < 1 {
		return &ConfigurationError{Reason: fmt.Sprintf("max attempts must be at least 1, got %d", c.MaxAttempts)}
	}
	if c.Table == "" {
		return &ConfigurationError{Reason: "log table name is empty"}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("%s must be positive, got %s", EnvRequestTimeout, c.RequestTimeout)}
	}
	if c.RetryBackoff <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("%s must be positive, got %s", EnvRetryBackoff, c.RetryBackoff)}
	}
	return nil
}

// Missing lists the names of the required credentials that are not set.
func (c Credentials) Missing() []string {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, EnvURL)
	}
	if c.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	if c.AuthEmail == "" {
		missing = append(missing, EnvAuthEmail)
	}
	if c.AuthPassword == "" {
		missing = append(missing, EnvAuthPassword)
	}
	return missing
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	cwd, cwdErr := os.Getwd()
	if cwdErr == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "supabase-logger", ".env"))
	}

	// Parent directories (useful for development)
	if cwdErr == nil {
		parent := filepath.Dir(cwd)
		paths = append(paths, filepath.Join(parent, ".env"))
		paths = append(paths, filepath.Join(filepath.Dir(parent), ".env"))
	}

	return paths
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
