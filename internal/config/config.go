// Package config provides centralized configuration management for the ETL.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database  DatabaseConfig
	Ingest    IngestConfig
	Transform TransformConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// DatabaseConfig holds database connection settings.
//
// Either URL is set, or the discrete DB_* parts are combined by DSN.
type DatabaseConfig struct {
	// URL is a full PostgreSQL connection string. Takes precedence over the parts below.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	Host     string `env:"DB_HOST" default:"localhost"`
	Port     int    `env:"DB_PORT" default:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	SSLMode  string `env:"DB_SSLMODE" default:"disable"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectTimeout bounds pool creation and the initial ping (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// IngestConfig holds settings for reading source files into raw_patient.
type IngestConfig struct {
	// InputDir is where ingest looks up the file named on the command line.
	InputDir string `env:"INGEST_INPUT_DIR" default:"source_files"`

	// Strict enables extension and minimum-row checks on the source file.
	Strict bool `env:"INGEST_STRICT" default:"false"`

	// Extension is the file extension required in strict mode, including the dot.
	Extension string `env:"INGEST_EXTENSION" default:".csv"`

	// MinDataRows is the number of data rows (header excluded) strict mode
	// requires. The default of 2 rejects single-row files.
	MinDataRows int `env:"INGEST_MIN_DATA_ROWS" default:"2"`

	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"104857600"`

	// Encoding of CSV files: utf-8, latin1, iso-8859-15 or windows-1252.
	// Invalid UTF-8 fails the ingest unless another encoding is set.
	Encoding string `env:"INGEST_ENCODING" default:"utf-8"`

	// NormalizeStates maps US state names to 2-letter codes before sanitizing.
	NormalizeStates bool `env:"INGEST_NORMALIZE_STATES" default:"false"`

	// WriteMode is "copy" (COPY protocol) or "insert" (multi-row INSERT).
	WriteMode string `env:"INGEST_WRITE_MODE" default:"copy"`

	// InsertChunk is the number of rows per INSERT statement in insert mode.
	// Bounded by the 65535 bind parameters postgres accepts per statement.
	InsertChunk int `env:"INGEST_INSERT_CHUNK" default:"500"`
}

// TransformConfig holds settings for the raw → canonical projection.
type TransformConfig struct {
	// BatchSize is the number of canonical records written per transaction (default: 1000)
	BatchSize int `env:"TRANSFORM_BATCH_SIZE" default:"1000"`
}

// ServerConfig holds HTTP server settings for the serve command.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for in-flight runs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxConcurrentRuns caps HTTP-triggered runs; each run holds one connection (default: 2)
	MaxConcurrentRuns int `env:"SERVER_MAX_CONCURRENT_RUNS" default:"2"`

	// RunWaitTimeout is how long a request waits for a free run slot (default: 30s)
	RunWaitTimeout time.Duration `env:"SERVER_RUN_WAIT_TIMEOUT" default:"30s"`

	// APIKeys is a comma-separated list of accepted X-API-Key values.
	// Empty disables authentication.
	APIKeys string `env:"SERVER_API_KEYS"`

	// TrustedProxies is a comma-separated list of CIDRs or IPs whose
	// X-Real-IP / X-Forwarded-For headers are honored.
	TrustedProxies string `env:"SERVER_TRUSTED_PROXIES"`
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
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// APIKeyList returns the configured API keys.
func (c *ServerConfig) APIKeyList() []string {
	return splitList(c.APIKeys)
}

// TrustedProxyList returns the configured trusted proxy CIDRs.
func (c *ServerConfig) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DSN returns the connection string for the pool.
// URL wins when set; otherwise a postgres:// URL is assembled from the parts.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// DatabaseName returns the configured database name, parsed from URL when needed.
func (c *DatabaseConfig) DatabaseName() string {
	if c.URL == "" {
		return c.Name
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	if len(u.Path) > 1 {
		return u.Path[1:]
	}
	return ""
}
