package config

import (
	"fmt"

	"github.com/INLOpen/tablewrite/core"
	"gopkg.in/yaml.v3"
)

// ValueDoc documents one accepted value of an option.
type ValueDoc struct {
	Value       string `yaml:"value"`
	Description string `yaml:"description"`
	Default     bool   `yaml:"default,omitempty"`
}

// OptionDoc documents a configuration option for help text and schema export.
type OptionDoc struct {
	Key         string     `yaml:"key"`
	Default     string     `yaml:"default"`
	Description string     `yaml:"description"`
	Values      []ValueDoc `yaml:"values,omitempty"`
}

// Describe returns the documentation of the write-path options.
func Describe() []OptionDoc {
	modes := core.WriteConcurrencyModes()
	values := make([]ValueDoc, 0, len(modes))
	for _, m := range modes {
		values = append(values, ValueDoc{
			Value:       m.String(),
			Description: m.Description(),
			Default:     m.IsDefault(),
		})
	}
	return []OptionDoc{
		{
			Key:         core.WriteConcurrencyModeKey,
			Default:     core.DefaultWriteConcurrencyMode().String(),
			Description: "Concurrency modes for write operations.",
			Values:      values,
		},
		{
			Key:         "write.lock.acquire_timeout",
			Default:     DefaultLockAcquireTimeout.String(),
			Description: "Maximum time to wait for the table lock when optimistic concurrency control is enabled.",
		},
	}
}

// MarshalDescribe renders Describe as YAML.
func MarshalDescribe() ([]byte, error) {
	out, err := yaml.Marshal(Describe())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal option docs: %w", err)
	}
	return out, nil
}
