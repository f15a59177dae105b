// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Store       StoreConfig
	Batch       BatchConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
	Maintenance MaintenanceConfig
	Events      EventsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout bounds reading the request including uploads (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout bounds writing the response (default: 0, archives can be large)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 5m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"5m"`
}

// DatabaseConfig holds database connection settings.
// The database is optional; without it templates live on disk and batch
// history is kept in memory.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (d *DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// StoreConfig selects the template store backend.
type StoreConfig struct {
	// Backend is "fs" or "postgres" (default: fs)
	Backend string `env:"TEMPLATE_STORE" default:"fs"`

	// Dir is the template directory for the fs backend (default: uploads/templates)
	Dir string `env:"TEMPLATE_DIR" default:"uploads/templates"`

	// MaxTemplateSize is the largest accepted template upload (default: 10MB)
	MaxTemplateSize int64 `env:"TEMPLATE_MAX_SIZE" default:"10MB" unit:"bytes"`
}

// BatchConfig holds letter generation settings.
type BatchConfig struct {
	// MaxFileSize is the largest accepted data file (default: 50MB)
	MaxFileSize int64 `env:"BATCH_MAX_FILE_SIZE" default:"50MB" unit:"bytes"`

	// MaxConcurrent is the maximum number of batches running at once (default: 4)
	MaxConcurrent int `env:"BATCH_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a batch waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"BATCH_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single batch (default: 5m)
	Timeout time.Duration `env:"BATCH_TIMEOUT" default:"5m"`

	// ScratchDir holds in-progress archives (default: system temp dir)
	ScratchDir string `env:"BATCH_SCRATCH_DIR"`

	// FailurePolicy is fail_fast or skip (default: fail_fast)
	FailurePolicy string `env:"BATCH_FAILURE_POLICY" default:"fail_fast"`

	// DefaultProfile is used when a request names no profile (default: student)
	DefaultProfile string `env:"BATCH_DEFAULT_PROFILE" default:"student"`

	// ProfilesFile is an optional YAML file with extra profiles
	ProfilesFile string `env:"PROFILES_FILE"`

	// HistorySize is how many batches the in-memory history keeps (default: 200)
	HistorySize int `env:"BATCH_HISTORY_SIZE" default:"200"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// GenerateLimit is requests per minute for upload and generate endpoints (default: 10)
	GenerateLimit int `env:"RATE_LIMIT_GENERATE" envAlt:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MaintenanceConfig holds background cleanup settings.
type MaintenanceConfig struct {
	// ScratchMaxAge is when an orphaned scratch archive is removed (default: 1h)
	ScratchMaxAge time.Duration `env:"MAINTENANCE_SCRATCH_MAX_AGE" default:"1h"`

	// HistoryRetention is how long batch history is kept (default: 720h)
	HistoryRetention time.Duration `env:"MAINTENANCE_HISTORY_RETENTION" default:"720h"`

	// CheckInterval is how often maintenance runs (default: 1h)
	CheckInterval time.Duration `env:"MAINTENANCE_CHECK_INTERVAL" default:"1h"`
}

// EventsConfig holds batch event publishing settings.
type EventsConfig struct {
	// Brokers is a comma-separated list of Kafka brokers; empty disables events
	Brokers []string `env:"KAFKA_BROKERS"`

	// Topic receives one message per finished batch
	Topic string `env:"KAFKA_TOPIC" default:"letters.batch.finished"`
}

// Enabled reports whether events should be published.
func (e *EventsConfig) Enabled() bool {
	return len(e.Brokers) > 0
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	dbURL := "[NONE]"
	if c.Database.URL != "" {
		dbURL = "[MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		dbURL, c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Store: {Backend: %q, Dir: %q}, ", c.Store.Backend, c.Store.Dir)
	fmt.Fprintf(&b, "Batch: {MaxFileSize: %d, MaxConcurrent: %d, Policy: %q, DefaultProfile: %q}, ",
		c.Batch.MaxFileSize, c.Batch.MaxConcurrent, c.Batch.FailurePolicy, c.Batch.DefaultProfile)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Events: {Brokers: %d, Topic: %q}, ", len(c.Events.Brokers), c.Events.Topic)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
