// Package config loads node configuration from YAML and the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/williw/nodecore/pkg/callback"
)

// Environment variables read by the shared library, which has no flags.
const (
	EnvConfig   = "WILLIW_CONFIG"
	EnvLogLevel = "WILLIW_LOG_LEVEL"
)

// Config is the root configuration for a williw node.
type Config struct {
	Log      LogConfig      `yaml:"log,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	Policy   string         `yaml:"policy,omitempty"` // Path to participation policy YAML file
	Agent    AgentConfig    `yaml:"agent,omitempty"`
	Callback CallbackConfig `yaml:"callback,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error. Default: info
	Format string `yaml:"format,omitempty"` // text, json. Default: text
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Address string `yaml:"address,omitempty"` // Empty disables the endpoint

	// Token, when set, is required as a bearer token on every scrape.
	Token string `yaml:"token,omitempty"`
}

// AgentConfig configures the participation loop.
type AgentConfig struct {
	// MinInterval and MaxInterval bound the recommended tick interval.
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
	MaxInterval time.Duration `yaml:"max_interval,omitempty"`

	// RefreshAttempts is how many times a failed device refresh is tried per tick.
	RefreshAttempts int           `yaml:"refresh_attempts,omitempty"`
	RetryDelay      time.Duration `yaml:"retry_delay,omitempty"`

	// ThrottleFactor stretches the tick interval while the policy throttles.
	ThrottleFactor float64 `yaml:"throttle_factor,omitempty"`
}

// CallbackConfig configures the device callback contract.
type CallbackConfig struct {
	NetworkTypeCapacity int `yaml:"network_type_capacity,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, validates and defaults configuration YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// FromEnv loads the file named by WILLIW_CONFIG, or the defaults when it is
// unset, then applies WILLIW_LOG_LEVEL.
func FromEnv() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvConfig); path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		if _, err := parseLevel(level); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		cfg.Log.Level = level
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		if _, err := parseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format)
	}

	if c.Agent.MinInterval < 0 || c.Agent.MaxInterval < 0 || c.Agent.RetryDelay < 0 {
		return fmt.Errorf("agent: intervals must be >= 0")
	}
	if c.Agent.MinInterval > 0 && c.Agent.MaxInterval > 0 && c.Agent.MinInterval > c.Agent.MaxInterval {
		return fmt.Errorf("agent: min_interval cannot exceed max_interval")
	}
	if c.Agent.RefreshAttempts < 0 {
		return fmt.Errorf("agent: refresh_attempts must be >= 0")
	}
	if c.Agent.ThrottleFactor != 0 && c.Agent.ThrottleFactor < 1 {
		return fmt.Errorf("agent: throttle_factor must be >= 1")
	}

	if c.Callback.NetworkTypeCapacity < 0 {
		return fmt.Errorf("callback: network_type_capacity must be >= 0")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Agent.MinInterval == 0 {
		c.Agent.MinInterval = time.Second
	}
	if c.Agent.MaxInterval == 0 {
		c.Agent.MaxInterval = 5 * time.Minute
	}
	if c.Agent.RefreshAttempts == 0 {
		c.Agent.RefreshAttempts = 3
	}
	if c.Agent.RetryDelay == 0 {
		c.Agent.RetryDelay = 250 * time.Millisecond
	}
	if c.Agent.ThrottleFactor == 0 {
		c.Agent.ThrottleFactor = 2
	}
	if c.Callback.NetworkTypeCapacity == 0 {
		c.Callback.NetworkTypeCapacity = callback.DefaultNetworkTypeCapacity
	}
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

// NewLogger builds a logger writing to w in the configured format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
