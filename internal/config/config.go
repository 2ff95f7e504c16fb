// Package config loads process configuration from the environment.
// Values may come from a .env file; everything is validated on startup
// so misconfiguration fails fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Gateway  GatewayConfig
	Import   ImportConfig
	Upload   UploadConfig
	Database DatabaseConfig
	History  HistoryConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`

	// WriteTimeout stays 0 so SSE streams are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RequestTimeout bounds non-streaming requests.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
}

// GatewayConfig points at the document backend.
type GatewayConfig struct {
	URL           string        `env:"GATEWAY_URL"`
	APIKey        string        `env:"GATEWAY_API_KEY"`
	APISecret     string        `env:"GATEWAY_API_SECRET"`
	Timeout       time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`
	RetryAttempts uint          `env:"GATEWAY_RETRY_ATTEMPTS" envDefault:"3"`

	// RateLimit is outbound requests per second; 0 disables limiting.
	RateLimit float64 `env:"GATEWAY_RATE_LIMIT" envDefault:"20"`
}

// ImportConfig holds engine timing and capacity settings.
type ImportConfig struct {
	PollInterval    time.Duration `env:"IMPORT_POLL_INTERVAL" envDefault:"2s"`
	RefreshDebounce time.Duration `env:"IMPORT_REFRESH_DEBOUNCE" envDefault:"500ms"`
	ViewIdleTimeout time.Duration `env:"IMPORT_VIEW_IDLE_TIMEOUT" envDefault:"15m"`
	MaxViews        int           `env:"IMPORT_MAX_VIEWS" envDefault:"256"`
	SchemaCacheTTL  time.Duration `env:"IMPORT_SCHEMA_CACHE_TTL" envDefault:"5m"`
}

// UploadConfig holds file registrar limits.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize   int64         `env:"UPLOAD_MAX_FILE_SIZE" envDefault:"104857600"`
	MaxConcurrent int           `env:"UPLOAD_MAX_CONCURRENT" envDefault:"5"`
	MaxWaitTime   time.Duration `env:"UPLOAD_MAX_WAIT_TIME" envDefault:"30s"`
	Folder        string        `env:"UPLOAD_FOLDER" envDefault:"Home"`
}

// DatabaseConfig holds connection settings for the optional run history.
type DatabaseConfig struct {
	// URL is empty when run history is disabled.
	URL      string `env:"DATABASE_URL"`
	MaxConns int    `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns int    `env:"DB_MIN_CONNS" envDefault:"1"`
}

// Enabled reports whether a database was configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// HistoryConfig controls run history retention.
type HistoryConfig struct {
	RetentionDays int           `env:"HISTORY_RETENTION_DAYS" envDefault:"90"`
	PurgeInterval time.Duration `env:"HISTORY_PURGE_INTERVAL" envDefault:"24h"`
}

// RateLimitConfig holds per-IP console limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"300"`

	// UploadLimit is requests per minute for the create-import endpoint.
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" envDefault:"10"`
}

// SecurityConfig holds console access settings.
type SecurityConfig struct {
	RequireAPIKey  bool     `env:"SECURITY_REQUIRE_API_KEY" envDefault:"false"`
	APIKeys        []string `env:"SECURITY_API_KEYS"`
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
