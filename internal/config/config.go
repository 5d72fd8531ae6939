// ABOUTME: Configuration loading and parsing for coven-bridge
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-bridge configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Service  ServiceConfig  `yaml:"service" toml:"service"`
	Bridge   BridgeConfig   `yaml:"bridge" toml:"bridge"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Limits   LimitsConfig   `yaml:"limits" toml:"limits"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// ServiceConfig describes how to reach the background service
type ServiceConfig struct {
	// Addr is the gRPC address of the background service
	Addr string `yaml:"addr" toml:"addr"`

	InitTimeout time.Duration `yaml:"-" toml:"-"`
	CallTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML unmarshaling
	InitTimeoutRaw string `yaml:"init_timeout" toml:"init_timeout"`
	CallTimeoutRaw string `yaml:"call_timeout" toml:"call_timeout"`
}

// BridgeConfig controls streaming call buffering
type BridgeConfig struct {
	// BufferUpdates keeps updates produced before a consumer subscribes.
	// Nil means the default (true).
	BufferUpdates      *bool `yaml:"buffer_updates" toml:"buffer_updates"`
	MaxBufferedUpdates int   `yaml:"max_buffered_updates" toml:"max_buffered_updates"`

	ReplayTTL    time.Duration `yaml:"-" toml:"-"`
	ReplayTTLRaw string        `yaml:"replay_ttl" toml:"replay_ttl"`
}

// Buffering reports whether pre-subscribe updates are kept.
func (b BridgeConfig) Buffering() bool {
	return b.BufferUpdates == nil || *b.BufferUpdates
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LimitsConfig holds per-method rate limits for generic calls
type LimitsConfig struct {
	CallsPerSecond float64 `yaml:"calls_per_second" toml:"calls_per_second"`
	Burst          int     `yaml:"burst" toml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults applied by Load when a value is not set.
const (
	DefaultInitTimeout        = 30 * time.Second
	DefaultCallTimeout        = 60 * time.Second
	DefaultMaxBufferedUpdates = 1024
	DefaultReplayTTL          = 5 * time.Minute
	DefaultMetricsPath        = "/metrics"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location.
// Priority: COVEN_BRIDGE_CONFIG, $XDG_CONFIG_HOME/coven/bridge.yaml, ~/.config/coven/bridge.yaml
func DefaultPath() string {
	if p := os.Getenv("COVEN_BRIDGE_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "bridge.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "bridge.yaml"
	}
	return filepath.Join(home, ".config", "coven", "bridge.yaml")
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

func applyDefaults(cfg *Config) {
	if cfg.Service.InitTimeoutRaw == "" {
		cfg.Service.InitTimeout = DefaultInitTimeout
	}
	if cfg.Service.CallTimeoutRaw == "" {
		cfg.Service.CallTimeout = DefaultCallTimeout
	}
	if cfg.Bridge.MaxBufferedUpdates == 0 {
		cfg.Bridge.MaxBufferedUpdates = DefaultMaxBufferedUpdates
	}
	if cfg.Bridge.ReplayTTLRaw == "" {
		cfg.Bridge.ReplayTTL = DefaultReplayTTL
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Database.Path = expandHome(cfg.Database.Path)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr is required")
	}
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Service.Addr == "" {
		return fmt.Errorf("service.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Bridge.MaxBufferedUpdates < 0 {
		return fmt.Errorf("bridge.max_buffered_updates must not be negative")
	}
	if c.Limits.CallsPerSecond < 0 || c.Limits.Burst < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.Limits.CallsPerSecond > 0 && c.Limits.Burst == 0 {
		return fmt.Errorf("limits.burst is required when limits.calls_per_second is set")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
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
		{"service.init_timeout", cfg.Service.InitTimeoutRaw, &cfg.Service.InitTimeout},
		{"service.call_timeout", cfg.Service.CallTimeoutRaw, &cfg.Service.CallTimeout},
		{"bridge.replay_ttl", cfg.Bridge.ReplayTTLRaw, &cfg.Bridge.ReplayTTL},
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

// Starter is the configuration written by "coven-bridge init".
const Starter = `# coven-bridge configuration
server:
  grpc_addr: "127.0.0.1:50061"   # caller-facing API
  http_addr: "127.0.0.1:8081"    # health, metrics, call ledger

service:
  addr: "127.0.0.1:50062"        # background service
  init_timeout: "30s"
  call_timeout: "60s"

bridge:
  buffer_updates: true
  max_buffered_updates: 1024
  replay_ttl: "5m"

database:
  path: "~/.local/share/coven/bridge.db"

auth:
  jwt_secret: "${COVEN_BRIDGE_JWT_SECRET}"

limits:
  calls_per_second: 0
  burst: 0

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`
