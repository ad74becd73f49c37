// Package config provides configuration management for laminate.
// It loads configuration from environment variables with sensible defaults
// and validates it so the CLI and the render service start safely.
//
// Templates can be read from a directory or from a SQL database (SQLite or
// PostgreSQL). Compiled scripts can be cached in process, in Redis, or in
// both. The render service supports JWT authentication and rate limiting.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve HTTPS when both are set
//
// Template Settings:
//   - LAMINATE_TEMPLATE_DIR: Template directory (default: ./templates)
//   - LAMINATE_TEMPLATE_EXT: Template file extension (default: lam)
//   - LAMINATE_DIALECT: Delimiter dialect, "erb" or "mustache" (default: erb)
//   - LAMINATE_TIMEOUT: Render timeout in seconds (default: 15)
//   - LAMINATE_TIMEOUTS_ENABLED: Arm the render watchdog (default: true)
//   - LAMINATE_WRAP_EXCEPTIONS: Turn helper failures into catchable Lua errors (default: true)
//   - LAMINATE_VENDOR_FILE: Lua file evaluated before every render
//   - LAMINATE_WATCH: Watch the template directory for changes (default: false)
//   - TEMPLATE_SOURCE: Where templates live - "file", "sqlite" or "postgres" (default: file)
//
// Database Configuration:
//   - DATABASE_PATH: SQLite database file path (default: ./laminate.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Cache Configuration:
//   - CACHE_TYPE: "none", "local", "redis" or "two_tier" (default: local)
//   - CACHE_TTL: Compiled script lifetime (default: 1h)
//   - CACHE_FLUSH_SCHEDULE: Cron expression for flushing the cache (default: disabled)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Security Configuration:
//   - JWT_SECRET: JWT signing secret (optional, minimum 32 characters when set)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_RPS: Requests per second per client (default: 10)
//   - RATE_LIMIT_BURST: Burst size per client (default: 20)
//   - RATE_LIMIT_BACKEND: "local" or "redis" (default: local)
//
// Example usage:
//
//	// Load configuration from environment
//	cfg := config.Load()
//
//	// Validate configuration
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration values for laminate.
// All string fields correspond to environment variables that can be set to
// override the default values.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)
	TLSCert  string // Certificate file for HTTPS
	TLSKey   string // Private key file for HTTPS

	// Template settings
	TemplateDir     string // Directory holding template files
	TemplateExt     string // Template file extension, without the dot
	Dialect         string // Delimiter dialect name
	Timeout         string // Render timeout in seconds
	TimeoutsEnabled bool   // Whether the render watchdog is armed
	WrapExceptions  bool   // Whether helper failures become Lua errors
	VendorFile      string // Lua file evaluated before every render
	Watch           bool   // Whether to watch TemplateDir for changes
	TemplateSource  string // Template source: "file", "sqlite" or "postgres"

	// Database configuration
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Compiled script cache configuration
	CacheType          string // Cache backend
	CacheTTL           string // Cache entry lifetime (e.g., "1h")
	CacheFlushSchedule string // Cron expression; empty disables scheduled flushes

	// Redis configuration for the shared cache and distributed rate limiting
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// JWT authentication configuration
	JWTSecret string // Secret key for JWT verification; empty disables auth

	// Rate limiting configuration
	RateLimitEnabled bool   // Whether rate limiting is enabled
	RateLimitRPS     string // Requests per second per client
	RateLimitBurst   string // Burst size per client
	RateLimitBackend string // "local" or "redis"
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
//
// Returns:
//   - *Config: A new configuration instance with values from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		TLSCert:  getEnv("TLS_CERT_FILE", ""),
		TLSKey:   getEnv("TLS_KEY_FILE", ""),

		// Template settings
		TemplateDir:     getEnv("LAMINATE_TEMPLATE_DIR", "./templates"),
		TemplateExt:     strings.TrimPrefix(getEnv("LAMINATE_TEMPLATE_EXT", "lam"), "."),
		Dialect:         getEnv("LAMINATE_DIALECT", "erb"),
		Timeout:         getEnv("LAMINATE_TIMEOUT", "15"),
		TimeoutsEnabled: getBoolEnv("LAMINATE_TIMEOUTS_ENABLED", true),
		WrapExceptions:  getBoolEnv("LAMINATE_WRAP_EXCEPTIONS", true),
		VendorFile:      getEnv("LAMINATE_VENDOR_FILE", ""),
		Watch:           getBoolEnv("LAMINATE_WATCH", false),
		TemplateSource:  getEnv("TEMPLATE_SOURCE", "file"),

		// Database configuration
		DatabasePath:     getEnv("DATABASE_PATH", "./laminate.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "laminate"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		// Cache configuration
		CacheType:          getEnv("CACHE_TYPE", "local"),
		CacheTTL:           getEnv("CACHE_TTL", "1h"),
		CacheFlushSchedule: getEnv("CACHE_FLUSH_SCHEDULE", ""),

		// Redis configuration
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		// JWT configuration
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Rate limiting configuration
		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     getEnv("RATE_LIMIT_RPS", "10"),
		RateLimitBurst:   getEnv("RATE_LIMIT_BURST", "20"),
		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "local"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
//
// Parameters:
//   - key: The environment variable name to look up
//   - defaultValue: The value to return if the environment variable is not set or empty
//
// Returns:
//   - string: The environment variable value or the default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
//
// This function accepts common boolean representations:
//   - "true", "1", "t", "TRUE", "True" -> true
//   - "false", "0", "f", "FALSE", "False" -> false
//   - Any other value or parsing error -> returns defaultValue
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid.
//
// This method checks:
//   - Field format validation (ports, durations, cron schedules)
//   - Cross-field dependencies (PostgreSQL and Redis requirements)
//   - Security requirements (JWT secret length)
//
// Returns:
//   - error: A descriptive error if validation fails, nil if configuration is valid
func (c *Config) Validate() error {
	// Validate JWT secret length when auth is enabled
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	// Validate template settings
	switch strings.ToLower(c.Dialect) {
	case "erb", "mustache":
	default:
		return fmt.Errorf("LAMINATE_DIALECT must be 'erb' or 'mustache'")
	}
	if secs, err := strconv.Atoi(c.Timeout); err != nil || secs < 1 {
		return fmt.Errorf("LAMINATE_TIMEOUT must be a positive number of seconds")
	}
	if c.TemplateExt == "" {
		return fmt.Errorf("LAMINATE_TEMPLATE_EXT must not be empty")
	}

	// Validate template source
	switch c.TemplateSource {
	case "file", "sqlite":
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("TEMPLATE_SOURCE must be 'file', 'sqlite' or 'postgres'")
	}

	// Validate cache config
	switch c.CacheType {
	case "none", "local", "redis", "two_tier":
	default:
		return fmt.Errorf("CACHE_TYPE must be 'none', 'local', 'redis' or 'two_tier'")
	}
	if _, err := time.ParseDuration(c.CacheTTL); err != nil {
		return fmt.Errorf("CACHE_TTL must be a valid duration (e.g., '30m', '1h')")
	}
	if c.CacheFlushSchedule != "" {
		if _, err := cron.ParseStandard(c.CacheFlushSchedule); err != nil {
			return fmt.Errorf("CACHE_FLUSH_SCHEDULE must be a valid cron expression: %w", err)
		}
	}

	// Validate Redis config when something depends on it
	if c.NeedsRedis() {
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required for CACHE_TYPE=%s or RATE_LIMIT_BACKEND=redis", c.CacheType)
		}
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	// Validate rate limit config
	if c.RateLimitEnabled {
		if rps, err := strconv.Atoi(c.RateLimitRPS); err != nil || rps < 1 {
			return fmt.Errorf("RATE_LIMIT_RPS must be a positive number")
		}
		if burst, err := strconv.Atoi(c.RateLimitBurst); err != nil || burst < 1 {
			return fmt.Errorf("RATE_LIMIT_BURST must be a positive number")
		}
		switch c.RateLimitBackend {
		case "local", "redis":
		default:
			return fmt.Errorf("RATE_LIMIT_BACKEND must be 'local' or 'redis'")
		}
	}

	return nil
}

// NeedsRedis reports whether the configuration requires a Redis connection
func (c *Config) NeedsRedis() bool {
	if c.CacheType == "redis" || c.CacheType == "two_tier" {
		return true
	}
	return c.RateLimitEnabled && c.RateLimitBackend == "redis"
}

// RenderTimeout returns LAMINATE_TIMEOUT as a duration. Call Validate first;
// an unparsable value yields zero, which the renderer replaces with its default.
func (c *Config) RenderTimeout() time.Duration {
	secs, _ := strconv.Atoi(c.Timeout)
	return time.Duration(secs) * time.Second
}

// CacheLifetime returns CACHE_TTL as a duration
func (c *Config) CacheLifetime() time.Duration {
	ttl, _ := time.ParseDuration(c.CacheTTL)
	return ttl
}

// PostgresDSN builds a connection string for pgx from the POSTGRES_* settings
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode)
}

// RedisDBNumber returns REDIS_DB as an int
func (c *Config) RedisDBNumber() int {
	db, _ := strconv.Atoi(c.RedisDB)
	return db
}

// RedisPoolSizeNumber returns REDIS_POOL_SIZE as an int
func (c *Config) RedisPoolSizeNumber() int {
	size, _ := strconv.Atoi(c.RedisPoolSize)
	return size
}

// RateLimitNumbers returns RATE_LIMIT_RPS and RATE_LIMIT_BURST as ints
func (c *Config) RateLimitNumbers() (rps, burst int) {
	rps, _ = strconv.Atoi(c.RateLimitRPS)
	burst, _ = strconv.Atoi(c.RateLimitBurst)
	return rps, burst
}
