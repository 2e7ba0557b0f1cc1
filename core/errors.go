package core

import (
	"errors"
	"fmt"
)

// WriteConcurrencyModeKey is the configuration key holding the write
// concurrency mode.
const WriteConcurrencyModeKey = "write.concurrency_mode"

// ErrInvalidConcurrencyMode is wrapped by the ConfigurationError returned
// when a concurrency mode value is not recognized.
var ErrInvalidConcurrencyMode = errors.New("invalid concurrency mode value")

// ConfigurationError reports a setting that cannot be used. It is fatal:
// whatever was being initialized must be aborted, never defaulted.
type ConfigurationError struct {
	Key   string // e.g., "write.concurrency_mode"
	Value string // The rejected value, as supplied
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s %q: %v", e.Key, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError checks if an error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var configurationError *ConfigurationError
	// Use errors.As to check if the error (or any error in its chain) is a ConfigurationError.
	return errors.As(err, &configurationError)
}
