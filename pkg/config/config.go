// Package config provides configuration loading from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StorageBackend represents the storage implementation type.
type StorageBackend string

const (
	// StorageMemory uses in-memory storage.
	StorageMemory StorageBackend = "memory"
)

// Base contains common configuration shared by all services.
type Base struct {
	// Service identification
	ServiceName string
	Environment string // development, staging, production
	Version     string

	// Server
	HTTPPort int

	// Storage backend
	StorageBackend StorageBackend

	// Trace cache
	CacheEnabled bool
	RedisAddr    string
	CacheTTL     time.Duration

	// Logging
	LogLevel  string
	LogFormat string // json, text

	// Tracing
	TracingEnabled  bool
	TracingSampling float64
	OTLPEndpoint    string

	// Scoring
	ScoringTimeout time.Duration
}

// Load loads base configuration from environment variables.
func Load(serviceName string) (*Base, error) {
	backend, err := parseStorageBackend(getEnv("NAXOS_STORAGE_BACKEND", "memory"))
	if err != nil {
		return nil, err
	}

	cfg := &Base{
		ServiceName: serviceName,
		Environment: getEnv("NAXOS_ENV", "development"),
		Version:     getEnv("NAXOS_VERSION", "dev"),

		HTTPPort: getEnvInt("NAXOS_HTTP_PORT", 8080),

		StorageBackend: backend,

		CacheEnabled: getEnvBool("NAXOS_CACHE_ENABLED", false),
		RedisAddr:    getEnv("NAXOS_REDIS_ADDR", "localhost:6379"),
		CacheTTL:     getEnvDuration("NAXOS_CACHE_TTL", 5*time.Minute),

		LogLevel:  getEnv("NAXOS_LOG_LEVEL", "info"),
		LogFormat: getEnv("NAXOS_LOG_FORMAT", "json"),

		TracingEnabled:  getEnvBool("NAXOS_TRACING_ENABLED", false),
		TracingSampling: getEnvFloat("NAXOS_TRACING_SAMPLING", 1.0),
		OTLPEndpoint:    getEnv("NAXOS_OTLP_ENDPOINT", "localhost:4317"),

		ScoringTimeout: getEnvDuration("NAXOS_SCORING_TIMEOUT", 5*time.Minute),
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Base) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Base) IsProduction() bool {
	return c.Environment == "production"
}

// UseMemoryStorage returns true if using in-memory storage.
func (c *Base) UseMemoryStorage() bool {
	return c.StorageBackend == StorageMemory
}

// Helper functions

func parseStorageBackend(s string) (StorageBackend, error) {
	switch StorageBackend(s) {
	case StorageMemory:
		return StorageMemory, nil
	default:
		return "", fmt.Errorf("unknown storage backend %q (supported: %s)", s, StorageMemory)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
