// ABOUTME: Configuration loading and parsing for quarry services.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete quarry configuration. Both binaries share
// one schema; each reads only the sections it cares about.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Tasks     TasksConfig     `yaml:"tasks"`
	AgentCard AgentCardConfig `yaml:"agentcard"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration for serving on a
// tailnet instead of a plain TCP listener.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token issuer and verifier configuration.
type AuthConfig struct {
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
	// AllowEphemeral permits generating a throwaway key pair when no key
	// file exists. Tokens signed this way fail verification anywhere else;
	// startup logs this loudly. Off by default.
	AllowEphemeral bool `yaml:"allow_ephemeral"`

	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
}

// RateLimitConfig holds per-tenant rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerMinute is the bucket refill rate; Burst the bucket capacity.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
	// RedisAddr switches to the Redis fixed-window backend when set,
	// for deployments running more than one replica.
	RedisAddr string `yaml:"redis_addr"`
}

// TasksConfig holds task execution engine configuration.
type TasksConfig struct {
	Workers int `yaml:"workers"`

	CapabilityTimeout    time.Duration `yaml:"-"`
	ReconcileInterval    time.Duration `yaml:"-"`
	OrphanTimeout        time.Duration `yaml:"-"`
	CapabilityTimeoutRaw string        `yaml:"capability_timeout"`
	ReconcileIntervalRaw string        `yaml:"reconcile_interval"`
	OrphanTimeoutRaw     string        `yaml:"orphan_timeout"`
}

// AgentCardConfig points at an optional TOML agent card descriptor.
type AgentCardConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied when fields are absent.
const (
	DefaultRequestsPerMinute = 100
	DefaultTokenTTL          = 24 * time.Hour
	DefaultWorkers           = 4
	DefaultCapabilityTimeout = 30 * time.Second
	DefaultReconcileInterval = 15 * time.Second
	DefaultOrphanTimeout     = 2 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerMinute
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Tasks.Workers == 0 {
		c.Tasks.Workers = DefaultWorkers
	}
	if c.Tasks.CapabilityTimeout == 0 {
		c.Tasks.CapabilityTimeout = DefaultCapabilityTimeout
	}
	if c.Tasks.ReconcileInterval == 0 {
		c.Tasks.ReconcileInterval = DefaultReconcileInterval
	}
	if c.Tasks.OrphanTimeout == 0 {
		c.Tasks.OrphanTimeout = DefaultOrphanTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A server address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("ratelimit.requests_per_minute must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"tasks.capability_timeout", cfg.Tasks.CapabilityTimeoutRaw, &cfg.Tasks.CapabilityTimeout},
		{"tasks.reconcile_interval", cfg.Tasks.ReconcileIntervalRaw, &cfg.Tasks.ReconcileInterval},
		{"tasks.orphan_timeout", cfg.Tasks.OrphanTimeoutRaw, &cfg.Tasks.OrphanTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
