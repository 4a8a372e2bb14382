package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	SlotCacheTTL  time.Duration

	// DefaultHoldDuration bounds how long a pending reservation blocks its
	// slot before confirmation.
	DefaultHoldDuration time.Duration

	// SweepInterval is the expiry sweeper cadence. Keep it no coarser than
	// the smallest hold duration in use.
	SweepInterval time.Duration

	// GoogleSyncEnabled turns on the external calendar sync collaborator.
	GoogleSyncEnabled bool
	SyncQueueSize     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		SlotCacheTTL:        getEnvAsDuration("SLOT_CACHE_TTL", 5*time.Second),
		DefaultHoldDuration: getEnvAsDuration("DEFAULT_HOLD_DURATION", 15*time.Minute),
		SweepInterval:       getEnvAsDuration("SWEEP_INTERVAL", 30*time.Second),
		GoogleSyncEnabled:   getEnvAsBool("GOOGLE_SYNC_ENABLED", false),
		SyncQueueSize:       getEnvAsInt("SYNC_QUEUE_SIZE", 256),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
