package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/tablewrite/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
write:
  concurrency_mode: optimistic_concurrency_control
  lock:
    acquire_timeout: "15s"
logging:
  level: debug
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check overridden values
	require.NotNil(t, cfg.Write.ConcurrencyMode)
	assert.Equal(t, "optimistic_concurrency_control", *cfg.Write.ConcurrencyMode)
	assert.Equal(t, "15s", cfg.Write.Lock.AcquireTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Check a default value that was not overridden
	assert.Equal(t, "stdout", cfg.Logging.Output)

	mode, err := cfg.Write.Mode()
	require.NoError(t, err)
	assert.Equal(t, core.OptimisticConcurrencyControl, mode)
	assert.Equal(t, "optimistic_concurrency_control", mode.String())
	assert.True(t, mode.SupportsOptimisticConcurrencyControl())
}

func TestLoad_NoConcurrencyMode(t *testing.T) {
	yamlContent := `
logging:
  level: warn
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)

	mode, err := cfg.Write.Mode()
	require.NoError(t, err)
	assert.Equal(t, core.SingleWriter, mode)
	assert.False(t, mode.SupportsOptimisticConcurrencyControl())
}

func TestLoad_NullConcurrencyMode(t *testing.T) {
	for _, body := range []string{
		"write:\n  concurrency_mode:\n",
		"write:\n  concurrency_mode: ~\n",
		"write:\n  concurrency_mode: null\n",
	} {
		cfg, err := Load(strings.NewReader(body))
		require.NoError(t, err, body)
		assert.Nil(t, cfg.Write.ConcurrencyMode, body)

		mode, err := cfg.Write.Mode()
		require.NoError(t, err)
		assert.Equal(t, core.SingleWriter, mode)
	}
}

func TestLoad_ExplicitEmptyConcurrencyMode(t *testing.T) {
	for _, body := range []string{
		"write:\n  concurrency_mode: \"\"\n",
		"write:\n  concurrency_mode: ''\n",
	} {
		cfg, err := Load(strings.NewReader(body))
		require.Error(t, err, body)
		assert.Nil(t, cfg)
		assert.True(t, core.IsConfigurationError(err))
		assert.True(t, errors.Is(err, core.ErrInvalidConcurrencyMode))

		var cfgErr *core.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, core.WriteConcurrencyModeKey, cfgErr.Key)
		assert.Equal(t, "", cfgErr.Value)
	}
}

func TestLoad_UppercaseConcurrencyMode(t *testing.T) {
	upper, err := Load(strings.NewReader("write:\n  concurrency_mode: OPTIMISTIC_CONCURRENCY_CONTROL\n"))
	require.NoError(t, err)
	lower, err := Load(strings.NewReader("write:\n  concurrency_mode: optimistic_concurrency_control\n"))
	require.NoError(t, err)

	upperMode, err := upper.Write.Mode()
	require.NoError(t, err)
	lowerMode, err := lower.Write.Mode()
	require.NoError(t, err)
	assert.Equal(t, lowerMode, upperMode)
}

func TestLoad_InvalidConcurrencyMode(t *testing.T) {
	cfg, err := Load(strings.NewReader("write:\n  concurrency_mode: multi_writer\n"))
	require.Error(t, err)
	assert.Nil(t, cfg, "no configuration may be returned for an unknown mode")
	assert.True(t, core.IsConfigurationError(err))
	assert.True(t, errors.Is(err, core.ErrInvalidConcurrencyMode))

	var cfgErr *core.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, core.WriteConcurrencyModeKey, cfgErr.Key)
	assert.Equal(t, "multi_writer", cfgErr.Value)
}

func TestLoad_EmptyReader(t *testing.T) {
	// Test with nil reader
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Nil(t, cfg.Write.ConcurrencyMode)

	// Test with empty string reader
	cfg, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	mode, err := cfg.Write.Mode()
	require.NoError(t, err)
	assert.Equal(t, core.SingleWriter, mode)
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
write:
  concurrency_mode: single_writer
  this: is: invalid: yaml
`
	_, err := Load(strings.NewReader(yamlContent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantKey string
	}{
		{"Defaults", func(c *Config) {}, ""},
		{"BadLevel", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"BadOutput", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"FileWithoutPath", func(c *Config) { c.Logging.Output = "file"; c.Logging.File = "" }, "logging.file"},
		{"BadTracingProtocol", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Protocol = "udp" }, "tracing.protocol"},
		{"DisabledTracingIgnoresProtocol", func(c *Config) { c.Tracing.Protocol = "udp" }, ""},
		{"BadMode", func(c *Config) { c.Write.SetConcurrencyMode("bogus_mode") }, core.WriteConcurrencyModeKey},
		{"EmptyMode", func(c *Config) { c.Write.SetConcurrencyMode("") }, core.WriteConcurrencyModeKey},
		{"ExplicitMode", func(c *Config) { c.Write.SetConcurrencyMode("Single_Writer") }, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantKey == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *core.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tc.wantKey, cfgErr.Key)
		})
	}
}

// TestLoadConfig_FileIntegration ensures LoadConfig works correctly with the filesystem.
func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		yamlContent := `
write:
  concurrency_mode: Optimistic_Concurrency_Control
`
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "config.yaml")
		err := os.WriteFile(configPath, []byte(yamlContent), 0644)
		require.NoError(t, err)

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		mode, err := cfg.Write.Mode()
		require.NoError(t, err)
		assert.Equal(t, core.OptimisticConcurrencyControl, mode)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "non_existent_config.yaml")

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		// Should return default value
		assert.Nil(t, cfg.Write.ConcurrencyMode)
		mode, err := cfg.Write.Mode()
		require.NoError(t, err)
		assert.Equal(t, core.SingleWriter, mode)
	})

	t.Run("FileWithInvalidMode", func(t *testing.T) {
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("write:\n  concurrency_mode: lock_free\n"), 0644))

		cfg, err := LoadConfig(configPath)
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.True(t, core.IsConfigurationError(err))
	})
}

func TestParseDuration(t *testing.T) {
	// Use a logger that discards output for this test
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidMilliseconds", "500ms", 500 * time.Millisecond},
		{"ValidMinutes", "2m", 2 * time.Minute},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"JustNumber", "10", defaultDuration},
		{"NilLogger", "5x", defaultDuration}, // Should not panic with nil logger
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			result := ParseDuration(tc.input, defaultDuration, testLogger)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestWriteConfig_LockAcquireTimeout(t *testing.T) {
	w := WriteConfig{Lock: LockConfig{AcquireTimeout: "250ms"}}
	assert.Equal(t, 250*time.Millisecond, w.LockAcquireTimeout(nil))

	w.Lock.AcquireTimeout = "soon"
	assert.Equal(t, DefaultLockAcquireTimeout, w.LockAcquireTimeout(nil))
}

func TestDescribe(t *testing.T) {
	docs := Describe()
	require.NotEmpty(t, docs)

	mode := docs[0]
	assert.Equal(t, core.WriteConcurrencyModeKey, mode.Key)
	assert.Equal(t, "single_writer", mode.Default)
	require.Len(t, mode.Values, 2)
	assert.Equal(t, "single_writer", mode.Values[0].Value)
	assert.True(t, mode.Values[0].Default)
	assert.Equal(t, "optimistic_concurrency_control", mode.Values[1].Value)
	assert.False(t, mode.Values[1].Default)

	out, err := MarshalDescribe()
	require.NoError(t, err)

	var decoded []OptionDoc
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, docs, decoded)
}
