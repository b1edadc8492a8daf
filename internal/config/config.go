// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VirtualConfig controls the optional ANSI/TUI backend (spec.md §6.4).
type VirtualConfig struct {
	Enabled bool  `yaml:"enabled,omitempty"`
	Seed    int64 `yaml:"seed,omitempty"`
}

// QueueConfig tunes scheduler/front-end knobs that the spec leaves as
// "recommended" values rather than hard constants (spec.md §4.1, §5).
type QueueConfig struct {
	OutboundBufferSize     int           `yaml:"outboundBufferSize,omitempty"`
	RFIDWriteDefaultTimeout time.Duration `yaml:"rfidWriteDefaultTimeout,omitempty"`
	ActuatorCallTimeout     time.Duration `yaml:"actuatorCallTimeout,omitempty"`
}

// Config is the root daemon configuration (spec.md §6.5).
type Config struct {
	Port          int               `yaml:"port,omitempty"`
	LogLevel      string            `yaml:"logLevel,omitempty"`
	ResourceRoots []string          `yaml:"resourceRoots,omitempty"`
	Locale        string            `yaml:"locale,omitempty"`
	RFIDServices  map[string]string `yaml:"rfidServices,omitempty"`
	Virtual       VirtualConfig     `yaml:"virtual,omitempty"`
	Queue         QueueConfig       `yaml:"queue,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:     10543,
		LogLevel: "info",
		Locale:   "en-GB",
		Queue: QueueConfig{
			OutboundBufferSize:      1000,
			RFIDWriteDefaultTimeout: 20 * time.Second,
			ActuatorCallTimeout:     500 * time.Millisecond,
		},
	}
}

// Load reads and validates a YAML configuration file at path. Missing
// optional fields fall back to Default()'s values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Queue.OutboundBufferSize <= 0 {
		cfg.Queue.OutboundBufferSize = 1000
	}
	if cfg.Queue.RFIDWriteDefaultTimeout <= 0 {
		cfg.Queue.RFIDWriteDefaultTimeout = 20 * time.Second
	}
	if cfg.Queue.ActuatorCallTimeout <= 0 {
		cfg.Queue.ActuatorCallTimeout = 500 * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails the daemon's startup (not a per-connection response) on
// an invalid configuration, per spec.md §6.5.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65534 {
		return fmt.Errorf("config: port %d out of range (must allow port+1 for the virtual backend)", c.Port)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func parseLevel(level string) (string, error) {
	switch level {
	case "", "debug", "info", "warn", "error", "fatal", "panic", "trace":
		return level, nil
	default:
		return "", fmt.Errorf("invalid logLevel %q", level)
	}
}
