package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/INLOpen/tablewrite/core"
	"gopkg.in/yaml.v3"
)

// LockConfig holds the settings handed to the external lock provider when
// optimistic concurrency control is active.
type LockConfig struct {
	AcquireTimeout string `yaml:"acquire_timeout"`
	Provider       string `yaml:"provider"` // Name of the lock provider implementation, resolved by the host
}

// WriteConfig holds write-path configurations.
type WriteConfig struct {
	// "single_writer" or "optimistic_concurrency_control". Nil when the key
	// is absent or null; an explicit "" is kept so it can be rejected.
	ConcurrencyMode *string    `yaml:"concurrency_mode"`
	Lock            LockConfig `yaml:"lock"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Write   WriteConfig   `yaml:"write"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// Mode resolves the configured write concurrency mode. Only an absent value
// resolves to the default mode; any supplied value, including "", must be a
// recognized identity.
func (w WriteConfig) Mode() (core.WriteConcurrencyMode, error) {
	if w.ConcurrencyMode == nil {
		return core.DefaultWriteConcurrencyMode(), nil
	}
	return core.ParseWriteConcurrencyMode(*w.ConcurrencyMode)
}

// SetConcurrencyMode records raw as an explicitly configured mode.
func (w *WriteConfig) SetConcurrencyMode(raw string) {
	w.ConcurrencyMode = &raw
}

// LockAcquireTimeout returns the lock acquire timeout, falling back to
// DefaultLockAcquireTimeout when unset or malformed.
func (w WriteConfig) LockAcquireTimeout(logger *slog.Logger) time.Duration {
	return ParseDuration(w.Lock.AcquireTimeout, DefaultLockAcquireTimeout, logger)
}

// DefaultLockAcquireTimeout bounds lock acquisition when no timeout is configured.
const DefaultLockAcquireTimeout = 60 * time.Second

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Validate checks every setting whose misconfiguration must abort startup.
// The returned error wraps a *core.ConfigurationError.
func (c *Config) Validate() error {
	if _, err := c.Write.Mode(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &core.ConfigurationError{Key: "logging.level", Value: c.Logging.Level, Err: errInvalidValue}
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "none":
	case "file":
		if c.Logging.File == "" {
			return &core.ConfigurationError{Key: "logging.file", Value: c.Logging.File, Err: errors.New("log output is 'file' but no file path is specified")}
		}
	default:
		return &core.ConfigurationError{Key: "logging.output", Value: c.Logging.Output, Err: errInvalidValue}
	}
	if c.Tracing.Enabled {
		switch strings.ToLower(c.Tracing.Protocol) {
		case "grpc", "http":
		default:
			return &core.ConfigurationError{Key: "tracing.protocol", Value: c.Tracing.Protocol, Err: errInvalidValue}
		}
	}
	return nil
}

var errInvalidValue = errors.New("invalid value")

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Write: WriteConfig{
			Lock: LockConfig{
				AcquireTimeout: "60s",
				Provider:       "",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "tablewrite.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
