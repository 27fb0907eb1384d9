// Package config provides environment-aware configuration management for the
// collaborative document engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	slruntime "github.com/r3e-labs/docweave/internal/runtime"
	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all application configuration for the document engine process.
type Config struct {
	// Environment
	Env Environment

	// HTTP
	HTTPPort int

	// Database
	DatabaseURL      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Session protocol (§4.3)
	AuthGrace          time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatMisses    int
	MaxSessionsPerDoc  int
	MaxOutboundQueue   int
	AwarenessEcho      bool

	// Document cache (§4.2)
	IdleTimeout time.Duration
	MaxHotDocs  int

	// Revision engine (§4.5)
	UpdateThreshold      int
	TimeThreshold        time.Duration
	IdleThreshold        time.Duration
	PruneUpdatesOnSnapshot bool

	// Event bus / SSE (§4.6)
	SSEKeepalive        time.Duration
	SSEStallTimeout     time.Duration
	ViewerCountInterval time.Duration
	MaxTopicSubscribers int

	// Features
	MetricsEnabled bool
	MetricsPort    int
	CORSOrigins    []string
}

// Load loads configuration based on the DOC_ENGINE_ENV environment variable,
// optionally layering an environment-specific .env file underneath explicit
// process environment variables.
func Load() (*Config, error) {
	envStr := os.Getenv("DOC_ENGINE_ENV")
	if envStr == "" {
		envStr = string(slruntime.Development)
	}

	parsedEnv, ok := slruntime.ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid DOC_ENGINE_ENV: %s (must be development, testing, or production)", envStr)
	}
	env := Environment(parsedEnv)

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		// Config file is optional; only warn on non-"file not found" errors
		// (e.g. parse errors) to avoid noisy logs during tests and CI runs.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	var err error

	c.HTTPPort = getIntEnv("HTTP_PORT", 8080)

	c.DatabaseURL = getEnv("DATABASE_URL", "")
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 20)
	if c.DBIdleTimeout, err = time.ParseDuration(getEnv("DB_IDLE_TIMEOUT", "5m")); err != nil {
		return fmt.Errorf("invalid DB_IDLE_TIMEOUT: %w", err)
	}

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	if c.AuthGrace, err = time.ParseDuration(getEnv("AUTH_GRACE", "5s")); err != nil {
		return fmt.Errorf("invalid AUTH_GRACE: %w", err)
	}
	if c.HeartbeatInterval, err = time.ParseDuration(getEnv("HEARTBEAT_INTERVAL", "20s")); err != nil {
		return fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
	}
	c.HeartbeatMisses = getIntEnv("HEARTBEAT_MISSES", 2)
	c.MaxSessionsPerDoc = getIntEnv("MAX_SESSIONS_PER_DOC", 64)
	c.MaxOutboundQueue = getIntEnv("MAX_OUTBOUND_QUEUE", 256)
	c.AwarenessEcho = getBoolEnv("AWARENESS_ECHO", false)

	if c.IdleTimeout, err = time.ParseDuration(getEnv("IDLE_TIMEOUT", "5m")); err != nil {
		return fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}
	c.MaxHotDocs = getIntEnv("MAX_HOT_DOCS", 1000)

	c.UpdateThreshold = getIntEnv("UPDATE_THRESHOLD", 50)
	if c.TimeThreshold, err = time.ParseDuration(getEnv("TIME_THRESHOLD", "10m")); err != nil {
		return fmt.Errorf("invalid TIME_THRESHOLD: %w", err)
	}
	if c.IdleThreshold, err = time.ParseDuration(getEnv("IDLE_THRESHOLD", "2m")); err != nil {
		return fmt.Errorf("invalid IDLE_THRESHOLD: %w", err)
	}
	c.PruneUpdatesOnSnapshot = getBoolEnv("PRUNE_UPDATES_ON_SNAPSHOT", true)

	if c.SSEKeepalive, err = time.ParseDuration(getEnv("SSE_KEEPALIVE", "15s")); err != nil {
		return fmt.Errorf("invalid SSE_KEEPALIVE: %w", err)
	}
	if c.SSEStallTimeout, err = time.ParseDuration(getEnv("SSE_STALL_TIMEOUT", "30s")); err != nil {
		return fmt.Errorf("invalid SSE_STALL_TIMEOUT: %w", err)
	}
	if c.ViewerCountInterval, err = time.ParseDuration(getEnv("VIEWER_COUNT_INTERVAL", "1s")); err != nil {
		return fmt.Errorf("invalid VIEWER_COUNT_INTERVAL: %w", err)
	}
	c.MaxTopicSubscribers = getIntEnv("MAX_TOPIC_SUBSCRIBERS", 500)

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)
	c.CORSOrigins = strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",")

	return nil
}

func (c *Config) IsDevelopment() bool { return c.Env == Development }
func (c *Config) IsTesting() bool     { return c.Env == Testing }
func (c *Config) IsProduction() bool  { return c.Env == Production }

// Validate checks invariants that must hold before the server starts.
func (c *Config) Validate() error {
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d", c.HTTPPort)
	}
	if c.MaxSessionsPerDoc < 1 {
		return fmt.Errorf("MAX_SESSIONS_PER_DOC must be positive")
	}
	if c.MaxOutboundQueue < 1 {
		return fmt.Errorf("MAX_OUTBOUND_QUEUE must be positive")
	}
	if c.HeartbeatMisses < 1 {
		return fmt.Errorf("HEARTBEAT_MISSES must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
