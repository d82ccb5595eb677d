// Package config handles application configuration loading and validation
// from environment variables, providing a type-safe configuration structure.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backend identifiers accepted in STORE_BACKEND.
const (
	StoreBackendMemory   = "memory"
	StoreBackendSQLite   = "sqlite"
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
)

// Admin authentication modes accepted in ADMIN_AUTH.
const (
	AdminAuthBearer = "bearer"
	AdminAuthNone   = "none"
)

// Config holds all application configuration values loaded from environment
// variables. It provides a centralized, type-safe way to access configuration
// throughout the application.
type Config struct {
	// Server configuration
	ListenAddr     string        // Address to listen on (e.g., ":8080")
	RequestTimeout time.Duration // Read/write timeouts for the inbound server

	// Environment
	AppEnv string // 'production', 'development', 'test'; production enforces HTTPS

	// Upstream defaults (lowest-precedence resolution source)
	DefaultAPIURL string // Default upstream base URL
	DefaultAPIKey string // Default upstream API key (empty means unauthenticated)

	// Admin authentication
	AdminToken string // Static admin credential; the stored one takes precedence
	AdminAuth  string // "bearer" or "none" (always-allow, local/dev only)

	// Operational store
	StoreBackend   string // memory, sqlite, postgres, redis
	DatabasePath   string // SQLite database file path
	DatabaseURL    string // Postgres connection string
	RedisAddr      string // Redis server address
	RedisDB        int    // Redis database number
	RedisKeyPrefix string // Namespace prefix for Redis keys

	// Target profiles (optional YAML file of named upstreams)
	TargetProfilesPath string

	// Admin console document
	AdminConsolePath string // Path to the externally supplied console HTML

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json or console
	LogFile   string // Path to log file (empty for stdout)
	Debug     bool   // Forces LogLevel to debug
}

// New creates a new configuration with values from environment variables.
// It applies default values where environment variables are not set,
// and validates required configuration settings.
func New() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnvString("LISTEN_ADDR", ":8080"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 5*time.Minute),

		AppEnv: getEnvString("APP_ENV", "development"),

		DefaultAPIURL: getEnvString("DEFAULT_API_URL", "https://api.openai.com"),
		DefaultAPIKey: getEnvString("DEFAULT_API_KEY", ""),

		AdminToken: getEnvString("ADMIN_TOKEN", ""),
		AdminAuth:  getEnvString("ADMIN_AUTH", AdminAuthBearer),

		StoreBackend:   getEnvString("STORE_BACKEND", StoreBackendSQLite),
		DatabasePath:   getEnvString("DATABASE_PATH", "./data/llm-relay.db"),
		DatabaseURL:    getEnvString("DATABASE_URL", ""),
		RedisAddr:      getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnvString("REDIS_KEY_PREFIX", "llmrelay:"),

		TargetProfilesPath: getEnvString("TARGET_PROFILES_PATH", ""),
		AdminConsolePath:   getEnvString("ADMIN_CONSOLE_PATH", "./web/admin.html"),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),
		LogFile:   getEnvString("LOG_FILE", ""),
		Debug:     getEnvBool("DEBUG", false),
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	switch cfg.StoreBackend {
	case StoreBackendMemory, StoreBackendSQLite, StoreBackendPostgres, StoreBackendRedis:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.AdminAuth {
	case AdminAuthBearer, AdminAuthNone:
	default:
		return nil, fmt.Errorf("unsupported ADMIN_AUTH %q", cfg.AdminAuth)
	}

	// The bearer authenticator fails closed without a credential; requiring
	// ADMIN_TOKEN here surfaces the misconfiguration at startup instead.
	if cfg.AdminAuth == AdminAuthBearer && cfg.AdminToken == "" {
		return nil, fmt.Errorf("ADMIN_TOKEN environment variable is required (or set ADMIN_AUTH=none for local development)")
	}

	if cfg.AdminAuth == AdminAuthNone && cfg.IsProduction() {
		return nil, fmt.Errorf("ADMIN_AUTH=none is not allowed when APP_ENV=production")
	}

	if cfg.StoreBackend == StoreBackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
	}

	return cfg, nil
}

// IsProduction reports whether the deployment environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// getEnvString retrieves a string value from an environment variable,
// falling back to the provided default value if the variable is not set.
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves a boolean value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a boolean.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.ParseBool(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvInt retrieves an integer value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as an integer.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.Atoi(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := time.ParseDuration(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}
