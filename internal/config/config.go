// ABOUTME: Configuration loading and parsing for the chathub server
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength mirrors the HS256 secret requirement of the auth package
const MinJWTSecretLength = 32

// Config represents the complete chathub configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Hub       HubConfig       `yaml:"hub" toml:"hub"`
	Presence  PresenceConfig  `yaml:"presence" toml:"presence"`
	Events    EventsConfig    `yaml:"events" toml:"events"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve :443 with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// HubConfig holds realtime connection tuning
type HubConfig struct {
	MaxMessageBytes  int64 `yaml:"max_message_bytes" toml:"max_message_bytes"`
	SendBuffer       int   `yaml:"send_buffer" toml:"send_buffer"`
	DedupeMaxEntries int   `yaml:"dedupe_max_entries" toml:"dedupe_max_entries"`

	WriteTimeout time.Duration `yaml:"-" toml:"-"`
	PongTimeout  time.Duration `yaml:"-" toml:"-"`
	PingInterval time.Duration `yaml:"-" toml:"-"`
	DedupeTTL    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
	PongTimeoutRaw  string `yaml:"pong_timeout" toml:"pong_timeout"`
	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
	DedupeTTLRaw    string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// PresenceConfig holds presence mirroring configuration
type PresenceConfig struct {
	Redis RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig configures the Redis presence mirror
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Key      string `yaml:"key" toml:"key"`
}

// EventsConfig holds outbound event configuration
type EventsConfig struct {
	NATS NATSConfig `yaml:"nats" toml:"nats"`
}

// NATSConfig configures the NATS message event publisher
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	SubjectPrefix string `yaml:"subject_prefix" toml:"subject_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Hub defaults
const (
	DefaultMaxMessageBytes  = 64 * 1024
	DefaultSendBuffer       = 64
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPongTimeout      = 60 * time.Second
	DefaultDedupeTTL        = 5 * time.Minute
	DefaultDedupeMaxEntries = 100_000
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

	return Parse(string(data), filepath.Ext(path))
}

// Parse decodes configuration text. ext selects the format the way Load
// does (".toml" or anything else for YAML).
func Parse(data, ext string) (*Config, error) {
	expanded := expandEnvVars(data)

	var cfg Config
	if strings.EqualFold(ext, ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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

// applyDefaults fills unset tuning values.
func (c *Config) applyDefaults() {
	h := &c.Hub
	if h.MaxMessageBytes == 0 {
		h.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if h.SendBuffer == 0 {
		h.SendBuffer = DefaultSendBuffer
	}
	if h.WriteTimeout == 0 {
		h.WriteTimeout = DefaultWriteTimeout
	}
	if h.PongTimeout == 0 {
		h.PongTimeout = DefaultPongTimeout
	}
	if h.PingInterval == 0 {
		h.PingInterval = h.PongTimeout * 9 / 10
	}
	if h.DedupeTTL == 0 {
		h.DedupeTTL = DefaultDedupeTTL
	}
	if h.DedupeMaxEntries == 0 {
		h.DedupeMaxEntries = DefaultDedupeMaxEntries
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	if c.Hub.MaxMessageBytes < 0 {
		return fmt.Errorf("hub.max_message_bytes must not be negative")
	}
	if c.Hub.SendBuffer < 0 {
		return fmt.Errorf("hub.send_buffer must not be negative")
	}
	if c.Hub.PingInterval >= c.Hub.PongTimeout {
		return fmt.Errorf("hub.ping_interval (%s) must be shorter than hub.pong_timeout (%s)",
			c.Hub.PingInterval, c.Hub.PongTimeout)
	}

	if c.Presence.Redis.Enabled && c.Presence.Redis.Addr == "" {
		return fmt.Errorf("presence.redis.addr is required when redis is enabled")
	}
	if c.Events.NATS.Enabled && c.Events.NATS.URL == "" {
		return fmt.Errorf("events.nats.url is required when nats is enabled")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// ParseLevel converts a logging.level value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", level)
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"write_timeout", cfg.Hub.WriteTimeoutRaw, &cfg.Hub.WriteTimeout},
		{"pong_timeout", cfg.Hub.PongTimeoutRaw, &cfg.Hub.PongTimeout},
		{"ping_interval", cfg.Hub.PingIntervalRaw, &cfg.Hub.PingInterval},
		{"dedupe_ttl", cfg.Hub.DedupeTTLRaw, &cfg.Hub.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
