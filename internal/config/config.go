// Package config provides configuration management for the loyalty leaderboard.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	apperrors "github.com/loyalty-leaderboard/internal/errors"
	"github.com/loyalty-leaderboard/internal/types"
)

// Storage backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Loyalty   LoyaltyConfig
	Locations types.Locations
	Sync      SyncConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig selects the leaderboard store
type StorageConfig struct {
	Backend string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration. URL, when set, takes
// precedence over the individual fields.
type PostgresConfig struct {
	URL            string
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
	// AutoMigrate applies pending schema migrations at startup
	AutoMigrate bool
}

// ConnString returns a libpq style connection string for pgxpool
func (c *PostgresConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.MaxConnections,
	)
}

// MigrationURL returns a postgres:// URL for golang-migrate
func (c *PostgresConfig) MigrationURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// Addr returns host:port
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// LoyaltyConfig holds the upstream loyalty feed configuration
type LoyaltyConfig struct {
	APIURL      string
	APIKey      string
	TemplateID  string
	StartDate   string
	PageSize    int
	Timeout     time.Duration
	MaxAttempts int
	// RequestsPerSecond paces outbound page requests
	RequestsPerSecond float64
}

// SyncConfig holds sync engine configuration
type SyncConfig struct {
	StaleMinutes int
	LockTTL      time.Duration
	Schedule     string // cron spec for cmd/worker
	Timeout      time.Duration
}

// RateLimitConfig holds inbound API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// TrustProxy is set when a reverse proxy owns X-Forwarded-For
	TrustProxy bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 3*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendPostgres)),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				URL:            getEnv("DATABASE_URL", ""),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "loyalty"),
				User:           getEnv("POSTGRES_USER", "loyalty"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
				AutoMigrate:    getEnvAsBool("POSTGRES_AUTO_MIGRATE", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Loyalty: LoyaltyConfig{
			APIURL:            getEnv("LOYALTY_API_URL", ""),
			APIKey:            getEnv("LOYALTY_API_KEY", ""),
			TemplateID:        getEnv("LOYALTY_TEMPLATE_ID", ""),
			StartDate:         getEnv("LOYALTY_START_DATE", "2025-05-28"),
			PageSize:          getEnvAsInt("LOYALTY_PAGE_SIZE", 1000),
			Timeout:           getEnvAsDuration("LOYALTY_TIMEOUT", 30*time.Second),
			MaxAttempts:       getEnvAsInt("LOYALTY_MAX_ATTEMPTS", 3),
			RequestsPerSecond: getEnvAsFloat("LOYALTY_REQUESTS_PER_SECOND", 5),
		},
		Locations: types.Locations{
			types.LocationJumeirah: getEnvAsInt64("LOCATION_JUMEIRAH_MANAGER_ID", types.DefaultJumeirahManagerID),
			types.LocationRAK:      getEnvAsInt64("LOCATION_RAK_MANAGER_ID", types.DefaultRAKManagerID),
		},
		Sync: SyncConfig{
			StaleMinutes: getEnvAsInt("SYNC_STALE_MINUTES", 60),
			LockTTL:      getEnvAsDuration("SYNC_LOCK_TTL", 5*time.Minute),
			Schedule:     getEnv("SYNC_SCHEDULE", "@every 30m"),
			Timeout:      getEnvAsDuration("SYNC_TIMEOUT", 2*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
			TrustProxy:        getEnvAsBool("RATE_LIMIT_TRUST_PROXY", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate reports the first missing or inconsistent setting as a
// ConfigurationError
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"LOYALTY_API_URL", c.Loyalty.APIURL},
		{"LOYALTY_API_KEY", c.Loyalty.APIKey},
		{"LOYALTY_TEMPLATE_ID", c.Loyalty.TemplateID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperrors.NewConfigurationError(r.key, "must be set")
		}
	}

	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Database.Postgres.URL == "" && c.Database.Postgres.Host == "" {
			return apperrors.NewConfigurationError("DATABASE_URL", "set DATABASE_URL or POSTGRES_HOST for the postgres backend")
		}
	case BackendRedis:
		if c.Database.Redis.Host == "" {
			return apperrors.NewConfigurationError("REDIS_HOST", "must be set for the redis backend")
		}
	default:
		return apperrors.NewConfigurationError("STORAGE_BACKEND", fmt.Sprintf("unknown backend %q (want postgres or redis)", c.Storage.Backend))
	}

	if c.Loyalty.PageSize <= 0 {
		return apperrors.NewConfigurationError("LOYALTY_PAGE_SIZE", "must be positive")
	}
	if c.Sync.StaleMinutes < 0 {
		return apperrors.NewConfigurationError("SYNC_STALE_MINUTES", "must not be negative")
	}

	// A manager id designates at most one location
	seen := make(map[int64]types.Location, len(c.Locations))
	for _, loc := range c.Locations.Named() {
		id := c.Locations[loc]
		if other, ok := seen[id]; ok {
			return apperrors.NewConfigurationError(locationEnvKey(loc),
				fmt.Sprintf("manager id %d is already assigned to %s", id, other))
		}
		seen[id] = loc
	}

	return nil
}

func locationEnvKey(loc types.Location) string {
	return "LOCATION_" + strings.ToUpper(string(loc)) + "_MANAGER_ID"
}

// RedisEnabled reports whether a Redis server is configured, either as the
// leaderboard store or only for the sync lock
func (c *Config) RedisEnabled() bool {
	return c.Database.Redis.Host != ""
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
