// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/prospects/internal/core"
	"github.com/JonMunkholm/prospects/internal/store"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Query    QueryConfig
	Export   ExportConfig
	Sources  SourcesConfig
	Security SecurityConfig
	Rate     RateLimitConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, exports stream)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds store backend settings.
type DatabaseConfig struct {
	// Driver selects the backend: postgres or sqlite (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// URL is the connection string. Supports both DATABASE_URL and DB_URL.
	// Required for postgres; sqlite falls back to an in-memory database.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate creates missing tables on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes (default: 20MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" envAlt:"UPLOAD_MAX_FILE_SIZE" default:"20971520"`

	// MaxConcurrent is the maximum number of confirms running at once (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long a confirm waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// PreviewRows is the number of parsed rows shown before mapping (default: 10)
	PreviewRows int `env:"IMPORT_PREVIEW_ROWS" default:"10"`

	// Timeout bounds a single confirm run (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// RetryAttempts is how many times a transient store failure is tried (default: 4)
	RetryAttempts int `env:"IMPORT_RETRY_ATTEMPTS" default:"4"`

	// SessionTTL is how long an idle import job is kept (default: 30m)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"30m"`

	// AllowedTables restricts import targets; empty allows every source table
	AllowedTables []string `env:"IMPORT_ALLOWED_TABLES"`

	// SweepInterval is how often expired import jobs are removed (default: 1m)
	SweepInterval time.Duration `env:"IMPORT_SWEEP_INTERVAL" default:"1m"`
}

// QueryConfig holds table view settings.
type QueryConfig struct {
	// DefaultPageSize applies when neither the request nor saved config sets one (default: 25)
	DefaultPageSize int `env:"QUERY_DEFAULT_PAGE_SIZE" default:"25"`

	// MaxPageSize caps requested page sizes (default: 500)
	MaxPageSize int `env:"QUERY_MAX_PAGE_SIZE" default:"500"`

	// SearchDebounce is the client debounce hint for search input (default: 300ms)
	SearchDebounce time.Duration `env:"QUERY_SEARCH_DEBOUNCE" default:"300ms"`
}

// ExportConfig holds default export options.
type ExportConfig struct {
	// Delimiter is the field separator, a single character (default: ",")
	Delimiter string `env:"EXPORT_DELIMITER" default:","`

	// Encoding is the output encoding (default: utf-8)
	Encoding string `env:"EXPORT_ENCODING" default:"utf-8"`

	// Quote is the quoting mode: minimal, all or none (default: minimal)
	Quote string `env:"EXPORT_QUOTE" default:"minimal"`

	// IncludeHeader writes the header row (default: true)
	IncludeHeader bool `env:"EXPORT_INCLUDE_HEADER" default:"true"`

	// CRLF ends lines with \r\n (default: false)
	CRLF bool `env:"EXPORT_CRLF" default:"false"`
}

// SourcesConfig locates the contact source registry.
type SourcesConfig struct {
	// File is an optional YAML registry; empty uses the built-in one
	File string `env:"SOURCES_FILE"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"SECURITY_REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// UserHeader carries the caller's identity from the fronting proxy (default: X-User-ID)
	UserHeader string `env:"SECURITY_USER_HEADER" default:"X-User-ID"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// UploadLimit is requests per minute for upload and confirm endpoints (default: 20)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"20"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// StoreConfig returns the backend settings for store.Open.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.URL,
		MaxConns:        int32(c.Database.MaxConns),
		MinConns:        int32(c.Database.MinConns),
		MaxConnLifetime: c.Database.MaxConnLifetime,
		MaxConnIdleTime: c.Database.MaxConnIdleTime,
		AutoMigrate:     c.Database.AutoMigrate,
	}
}

// ExportOptions returns the configured export defaults.
func (c *Config) ExportOptions() core.ExportOptions {
	opts := core.DefaultExportOptions()
	if r, _ := utf8.DecodeRuneInString(c.Export.Delimiter); r != utf8.RuneError {
		opts.Delimiter = r
	}
	opts.Encoding = c.Export.Encoding
	opts.Quote = core.QuoteMode(c.Export.Quote)
	opts.IncludeHeader = c.Export.IncludeHeader
	opts.CRLF = c.Export.CRLF
	return opts
}

// ServiceOptions returns the core service settings.
func (c *Config) ServiceOptions() core.ServiceOptions {
	return core.ServiceOptions{
		MaxPageSize:          c.Query.MaxPageSize,
		PreviewRows:          c.Import.PreviewRows,
		MaxUploadBytes:       c.Import.MaxFileSize,
		ImportTimeout:        c.Import.Timeout,
		RetryAttempts:        c.Import.RetryAttempts,
		MaxConcurrentImports: c.Import.MaxConcurrent,
		ImportWaitTime:       c.Import.MaxWaitTime,
		SessionTTL:           c.Import.SessionTTL,
		Authorizer:           core.AllowList(c.Import.AllowedTables),
		ExportDefaults:       c.ExportOptions(),
	}
}
