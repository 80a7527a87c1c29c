// Package config handles configuration for the scoped secrets daemon.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/joelhooks/scoped-secrets/internal/crypto"
)

const (
	// DefaultDir is the default directory for daemon data.
	DefaultDir = ".agent-secrets"
	// DefaultSocket is the default socket filename.
	DefaultSocket = "agent-secrets.sock"
	// DefaultIdentityFile is the default age identity filename.
	DefaultIdentityFile = "identity.age"
	// DefaultGlobalFile is the default encrypted global settings filename.
	DefaultGlobalFile = "global.age"
	// DefaultDatabaseFile is the default SQLite database filename.
	DefaultDatabaseFile = "secrets.db"
	// DefaultConfigFile is the default config filename.
	DefaultConfigFile = "config.yaml"
	// LegacyConfigFile is read when DefaultConfigFile is absent.
	LegacyConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "AGENT_SECRETS"
)

// Tunnel backends.
const (
	TunnelLocal     = "local"
	TunnelTailscale = "tailscale"
)

// Config holds the daemon configuration.
type Config struct {
	// Directory is the base directory for all daemon files.
	Directory string `json:"directory" yaml:"directory" split_words:"true"`

	// SocketPath is the full path to the Unix socket.
	SocketPath string `json:"socket_path" yaml:"socket_path" split_words:"true"`

	// DatabasePath holds world metadata, user records and world roles.
	DatabasePath string `json:"database_path" yaml:"database_path" split_words:"true"`

	// GlobalStorePath is the age-encrypted file backing the global scope.
	GlobalStorePath string `json:"global_store_path" yaml:"global_store_path" split_words:"true"`

	// IdentityPath is the full path to the age identity file.
	IdentityPath string `json:"identity_path" yaml:"identity_path" split_words:"true"`

	// AgentID identifies this agent. It feeds key derivation, so changing
	// it makes previously encrypted values unreadable.
	AgentID string `json:"agent_id" yaml:"agent_id" split_words:"true"`

	// Encryption configures payload encryption.
	Encryption EncryptionConfig `json:"encryption" yaml:"encryption" split_words:"true"`

	// Tunnel configures how form sessions are exposed.
	Tunnel TunnelConfig `json:"tunnel" yaml:"tunnel" split_words:"true"`

	// Forms configures the form session manager.
	Forms FormsConfig `json:"forms" yaml:"forms" split_words:"true"`

	// RoleCacheTTL bounds how long a world role lookup is reused. Zero
	// disables caching.
	RoleCacheTTL time.Duration `json:"role_cache_ttl" yaml:"role_cache_ttl" split_words:"true"`

	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" split_words:"true"`

	LogLevel  string `json:"log_level" yaml:"log_level" split_words:"true"`
	LogFormat string `json:"log_format" yaml:"log_format" split_words:"true"`
}

// EncryptionConfig configures CryptoBox.
type EncryptionConfig struct {
	// Salt is mixed into key derivation. Without it encryption is disabled
	// unless AllowDefaultSalt is set.
	Salt             string `json:"salt,omitempty" yaml:"salt,omitempty" split_words:"true"`
	AllowDefaultSalt bool   `json:"allow_default_salt" yaml:"allow_default_salt" split_words:"true"`
	Algorithm        string `json:"algorithm" yaml:"algorithm" split_words:"true"`
}

// TunnelConfig configures the tunnel backend.
type TunnelConfig struct {
	Backend string `json:"backend" yaml:"backend" split_words:"true"`
	// Token authenticates the tailscale node.
	Token    string `json:"token,omitempty" yaml:"token,omitempty" split_words:"true"`
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty" split_words:"true"`
	// PublicURL overrides the URL the local backend hands out.
	PublicURL string `json:"public_url,omitempty" yaml:"public_url,omitempty" split_words:"true"`
	StateDir  string `json:"state_dir,omitempty" yaml:"state_dir,omitempty" split_words:"true"`
}

// FormsConfig configures the form session manager.
type FormsConfig struct {
	BindHost      string        `json:"bind_host" yaml:"bind_host" split_words:"true"`
	PortBase      int           `json:"port_base" yaml:"port_base" split_words:"true"`
	PortSize      int           `json:"port_size" yaml:"port_size" split_words:"true"`
	DefaultTTL    time.Duration `json:"default_ttl" yaml:"default_ttl" split_words:"true"`
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval" split_words:"true"`
	// RateLimit is submissions per second per session; zero disables.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" split_words:"true"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst" split_words:"true"`
}

func defaults() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	agentID, err := os.Hostname()
	if err != nil || agentID == "" {
		agentID = "agent"
	}

	return &Config{
		Directory: filepath.Join(homeDir, DefaultDir),
		AgentID:   agentID,
		Encryption: EncryptionConfig{
			Algorithm: crypto.AlgorithmAESGCM,
		},
		Tunnel: TunnelConfig{
			Backend:  TunnelLocal,
			Hostname: "agent-secrets",
		},
		Forms: FormsConfig{
			BindHost:      "127.0.0.1",
			PortBase:      8400,
			PortSize:      100,
			DefaultTTL:    30 * time.Minute,
			SweepInterval: 30 * time.Second,
			RateLimit:     1,
			RateBurst:     5,
		},
		RoleCacheTTL: 30 * time.Second,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// resolvePaths fills unset file paths from Directory.
func (c *Config) resolvePaths() {
	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(c.Directory, DefaultSocket)
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.Directory, DefaultDatabaseFile)
	}
	if c.GlobalStorePath == "" {
		c.GlobalStorePath = filepath.Join(c.Directory, DefaultGlobalFile)
	}
	if c.IdentityPath == "" {
		c.IdentityPath = filepath.Join(c.Directory, DefaultIdentityFile)
	}
	if c.Tunnel.StateDir == "" {
		c.Tunnel.StateDir = filepath.Join(c.Directory, "tsnet")
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	cfg := defaults()
	cfg.resolvePaths()
	return cfg
}

// Load reads the config file from the default directory, then applies
// AGENT_SECRETS_* environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	cfg := defaults()
	if dir := os.Getenv(EnvPrefix + "_DIRECTORY"); dir != "" {
		cfg.Directory = dir
	}

	for _, name := range []string{DefaultConfigFile, LegacyConfigFile} {
		err := decodeFile(filepath.Join(cfg.Directory, name), cfg)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	return finish(cfg)
}

// LoadFrom reads configuration from a specific path, then applies
// environment overrides.
func LoadFrom(path string) (*Config, error) {
	cfg := defaults()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.resolvePaths()
	return cfg, nil
}

// decodeFile merges the file at path into cfg. Files ending in .json are
// decoded as JSON, anything else as YAML.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration to disk as YAML.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.Directory, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configPath := filepath.Join(c.Directory, DefaultConfigFile)
	return os.WriteFile(configPath, data, 0600)
}

// EnsureDirectories creates all required directories with secure permissions.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Directory, filepath.Dir(c.DatabasePath), filepath.Dir(c.GlobalStorePath)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// Salt returns the key derivation salt and whether encryption is enabled.
func (c *Config) Salt() (string, bool) {
	if c.Encryption.Salt != "" {
		return c.Encryption.Salt, true
	}
	if c.Encryption.AllowDefaultSalt {
		return crypto.DefaultSalt, true
	}
	return "", false
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return &ConfigError{Field: "directory", Message: "cannot be empty"}
	}
	if c.AgentID == "" {
		return &ConfigError{Field: "agent_id", Message: "cannot be empty"}
	}

	switch c.Encryption.Algorithm {
	case crypto.AlgorithmAESGCM, crypto.AlgorithmXChaCha:
	default:
		return &ConfigError{Field: "encryption.algorithm", Message: fmt.Sprintf("unknown algorithm %q", c.Encryption.Algorithm)}
	}

	switch c.Tunnel.Backend {
	case TunnelLocal:
	case TunnelTailscale:
		if c.Tunnel.Hostname == "" {
			return &ConfigError{Field: "tunnel.hostname", Message: "required for the tailscale backend"}
		}
	default:
		return &ConfigError{Field: "tunnel.backend", Message: fmt.Sprintf("must be %q or %q", TunnelLocal, TunnelTailscale)}
	}

	f := c.Forms
	if f.PortBase < 0 || f.PortBase > 65535 {
		return &ConfigError{Field: "forms.port_base", Message: "must be between 0 and 65535"}
	}
	if f.PortBase > 0 && (f.PortSize <= 0 || f.PortBase+f.PortSize > 65536) {
		return &ConfigError{Field: "forms.port_size", Message: "must be positive and keep the range below 65536"}
	}
	if f.DefaultTTL <= 0 {
		return &ConfigError{Field: "forms.default_ttl", Message: "must be positive"}
	}
	if f.SweepInterval <= 0 {
		return &ConfigError{Field: "forms.sweep_interval", Message: "must be positive"}
	}
	if f.RateLimit < 0 {
		return &ConfigError{Field: "forms.rate_limit", Message: "cannot be negative"}
	}
	if c.RoleCacheTTL < 0 {
		return &ConfigError{Field: "role_cache_ttl", Message: "cannot be negative"}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "log_level", Message: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return &ConfigError{Field: "log_format", Message: `must be "text" or "json"`}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + " " + e.Message
}
