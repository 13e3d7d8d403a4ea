// ABOUTME: Configuration loading and parsing for creatio-gateway
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/creatio-gateway/internal/auth"
)

// EnvConfigPath names the environment variable that overrides the config location.
const EnvConfigPath = "CREATIO_GATEWAY_CONFIG"

// Defaults applied when a field is left empty.
const (
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultRequestTimeout    = 60 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultSweepInterval     = time.Minute
	DefaultSessionTTL        = 2 * time.Hour
	DefaultMaxSessions       = 1000
)

// Config represents the complete creatio-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Creatio   CreatioConfig   `yaml:"creatio" toml:"creatio"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	Dashboard DashboardConfig `yaml:"dashboard" toml:"dashboard"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the listen address used when tailscale is off.
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
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // implies HTTPS
}

// CreatioConfig holds the connect-form defaults and upstream timing.
// The password is never sent to browsers.
type CreatioConfig struct {
	BaseURL  string `yaml:"base_url" toml:"base_url"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// SessionsConfig controls MCP stream lifetimes.
type SessionsConfig struct {
	KeepaliveInterval time.Duration `yaml:"-" toml:"-"`
	SweepInterval     time.Duration `yaml:"-" toml:"-"`
	IdleTimeout       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	KeepaliveIntervalRaw string `yaml:"keepalive_interval" toml:"keepalive_interval"`
	SweepIntervalRaw     string `yaml:"sweep_interval" toml:"sweep_interval"`
	IdleTimeoutRaw       string `yaml:"idle_timeout" toml:"idle_timeout"`
}

// DashboardConfig controls browser session storage.
type DashboardConfig struct {
	SessionTTL    time.Duration `yaml:"-" toml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl" toml:"session_ttl"`
	MaxSessions   int           `yaml:"max_sessions" toml:"max_sessions"`
}

// AuthConfig holds authentication configuration. An empty secret leaves
// the endpoints open.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied. It is what
// `serve` runs with when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config is loaded first; variables already set win.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, anything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	return Parse(expandEnvVars(string(data)), formatFor(path))
}

// Format selects the decoder for Parse.
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes already-expanded configuration text, applies defaults,
// parses durations and validates the result.
func Parse(data string, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

var envVar = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVar.FindStringSubmatch(match)[1])
	})
}

// DefaultPath returns the config location: $CREATIO_GATEWAY_CONFIG, then
// $XDG_CONFIG_HOME/creatio-gateway/config.yaml, then ~/.config/creatio-gateway/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "creatio-gateway", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "creatio-gateway", "config.yaml")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Creatio.RequestTimeoutRaw == "" {
		cfg.Creatio.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Sessions.KeepaliveIntervalRaw == "" {
		cfg.Sessions.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.Sessions.SweepIntervalRaw == "" {
		cfg.Sessions.SweepInterval = DefaultSweepInterval
	}
	if cfg.Dashboard.SessionTTLRaw == "" {
		cfg.Dashboard.SessionTTL = DefaultSessionTTL
	}
	if cfg.Dashboard.MaxSessions == 0 {
		cfg.Dashboard.MaxSessions = DefaultMaxSessions
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Creatio.BaseURL != "" {
		u, err := url.Parse(c.Creatio.BaseURL)
		if err != nil {
			return fmt.Errorf("creatio.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("creatio.base_url must use http or https scheme")
		}
	}

	if c.Creatio.RequestTimeout < 0 {
		return fmt.Errorf("creatio.request_timeout must not be negative")
	}
	if c.Sessions.KeepaliveInterval <= 0 {
		return fmt.Errorf("sessions.keepalive_interval must be positive")
	}
	if c.Sessions.SweepInterval < 0 || c.Sessions.IdleTimeout < 0 {
		return fmt.Errorf("sessions.sweep_interval and sessions.idle_timeout must not be negative")
	}
	if c.Dashboard.SessionTTL <= 0 {
		return fmt.Errorf("dashboard.session_ttl must be positive")
	}
	if c.Dashboard.MaxSessions < 0 {
		return fmt.Errorf("dashboard.max_sessions must not be negative")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
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
		{"creatio.request_timeout", cfg.Creatio.RequestTimeoutRaw, &cfg.Creatio.RequestTimeout},
		{"sessions.keepalive_interval", cfg.Sessions.KeepaliveIntervalRaw, &cfg.Sessions.KeepaliveInterval},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"sessions.idle_timeout", cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout},
		{"dashboard.session_ttl", cfg.Dashboard.SessionTTLRaw, &cfg.Dashboard.SessionTTL},
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
