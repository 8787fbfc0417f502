package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/PatientETL/internal/core"
)

// LookupFunc resolves a single environment key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads configuration from the process environment.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads configuration through lookup instead of the process
// environment, then validates it.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from tagged keys.
func loadStruct(v reflect.Value, lookup LookupFunc) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, lookup); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		envAlt := field.Tag.Get("envAlt")
		required := field.Tag.Get("required") == "true"

		value := lookupValue(lookup, envName)
		if value == "" && envAlt != "" {
			value = lookupValue(lookup, envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

func lookupValue(lookup LookupFunc, key string) string {
	v, ok := lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database
	if c.Database.URL == "" && c.Database.Name == "" {
		errs = append(errs, "DATABASE_URL or DB_NAME is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT (%d) must be 1-65535", c.Database.Port))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.ConnectTimeout <= 0 {
		errs = append(errs, "DB_CONNECT_TIMEOUT must be positive")
	}

	// Ingest
	if c.Ingest.InputDir == "" {
		errs = append(errs, "INGEST_INPUT_DIR must not be empty")
	}
	if c.Ingest.Extension != "" && !strings.HasPrefix(c.Ingest.Extension, ".") {
		errs = append(errs, fmt.Sprintf("INGEST_EXTENSION (%q) must start with a dot", c.Ingest.Extension))
	}
	if c.Ingest.MinDataRows < 0 {
		errs = append(errs, "INGEST_MIN_DATA_ROWS must be non-negative")
	}
	if c.Ingest.MaxFileSize <= 0 {
		errs = append(errs, "INGEST_MAX_FILE_SIZE must be positive")
	}
	switch strings.ToLower(c.Ingest.WriteMode) {
	case "copy", "insert":
	default:
		errs = append(errs, fmt.Sprintf("INGEST_WRITE_MODE (%q) must be one of: copy, insert", c.Ingest.WriteMode))
	}
	if c.Ingest.InsertChunk <= 0 {
		errs = append(errs, "INGEST_INSERT_CHUNK must be positive")
	}
	if c.Ingest.InsertChunk > core.MaxRawInsertChunk {
		errs = append(errs, fmt.Sprintf("INGEST_INSERT_CHUNK (%d) must be <= %d (postgres bind parameter limit)",
			c.Ingest.InsertChunk, core.MaxRawInsertChunk))
	}
	if _, err := core.LookupEncoding(c.Ingest.Encoding); err != nil {
		errs = append(errs, fmt.Sprintf("INGEST_ENCODING: %v", err))
	}

	// Transform
	if c.Transform.BatchSize <= 0 {
		errs = append(errs, "TRANSFORM_BATCH_SIZE must be positive")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		errs = append(errs, "SERVER_MAX_CONCURRENT_RUNS must be positive")
	}
	if c.Server.MaxConcurrentRuns > c.Database.MaxConns {
		errs = append(errs, fmt.Sprintf("SERVER_MAX_CONCURRENT_RUNS (%d) must be <= DB_MAX_CONNS (%d)",
			c.Server.MaxConcurrentRuns, c.Database.MaxConns))
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	if c.Database.URL != "" {
		b.WriteString("Database: {URL: [MASKED], ")
	} else {
		fmt.Fprintf(&b, "Database: {Host: %q, Port: %d, Name: %q, User: %q, Password: [MASKED], ",
			c.Database.Host, c.Database.Port, c.Database.Name, c.Database.User)
	}
	fmt.Fprintf(&b, "MaxConns: %d}, ", c.Database.MaxConns)
	fmt.Fprintf(&b, "Ingest: {InputDir: %q, Strict: %v, MinDataRows: %d, WriteMode: %q}, ",
		c.Ingest.InputDir, c.Ingest.Strict, c.Ingest.MinDataRows, c.Ingest.WriteMode)
	fmt.Fprintf(&b, "Transform: {BatchSize: %d}, ", c.Transform.BatchSize)
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d, APIKeys: %d configured}, ", c.Server.Host, c.Server.Port, len(c.Server.APIKeyList()))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
