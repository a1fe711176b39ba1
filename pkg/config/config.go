// Package config contains the replication lag thresholds read by the gate
// and the sources they are loaded from.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of thresholds, keyed by target name.
// A target that is missing or null is not gated.
type Config struct {
	Targets map[string]*Threshold `yaml:"targets"`
}

// Threshold is the lag budget of a single target.
type Threshold struct {
	MaxReplicationLagAllowedMs int64 `yaml:"max_replication_lag_allowed_ms"`
	PollIntervalMs             int64 `yaml:"poll_interval_ms"`
}

// ConfigurationError is returned when a threshold cannot be used.
type ConfigurationError struct {
	Target string
	Field  string
	Value  int64
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid replication lag config for %s: %s must not be negative (got %d)", e.Target, e.Field, e.Value)
}

// Threshold returns the threshold for target, or nil if it is not gated.
// It is safe to call on a nil Config.
func (c *Config) Threshold(target string) *Threshold {
	if c == nil {
		return nil
	}
	return c.Targets[target]
}

// Durations converts the threshold to durations.
func (t *Threshold) Durations(target string) (maxLag, pollInterval time.Duration, err error) {
	if t.MaxReplicationLagAllowedMs < 0 {
		return 0, 0, &ConfigurationError{Target: target, Field: "max_replication_lag_allowed_ms", Value: t.MaxReplicationLagAllowedMs}
	}
	if t.PollIntervalMs < 0 {
		return 0, 0, &ConfigurationError{Target: target, Field: "poll_interval_ms", Value: t.PollIntervalMs}
	}
	return time.Duration(t.MaxReplicationLagAllowedMs) * time.Millisecond,
		time.Duration(t.PollIntervalMs) * time.Millisecond, nil
}

// Validate checks every configured threshold, in target name order.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if t := c.Targets[name]; t != nil {
			if _, _, err := t.Durations(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parse decodes a YAML document. It does not validate thresholds, so that
// a bad value reaches the gate and is reported to its callers.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}
