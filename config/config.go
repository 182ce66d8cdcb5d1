// Package config provides configuration loading and management for Fabrica.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Fabrica configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	NATS    NATSConfig    `yaml:"nats"`
	Refdocs RefdocsConfig `yaml:"refdocs"`
	Client  ClientConfig  `yaml:"client"`
}

// ServerConfig configures the HTTP streaming server
type ServerConfig struct {
	// Addr is the listen address (default: ":8787")
	Addr string `yaml:"addr"`
	// HeartbeatInterval is how often keepalive comments are written to open streams
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// APIKeys maps bearer tokens to principal names. Empty map rejects all callers.
	APIKeys map[string]string `yaml:"api_keys"`
	// MaxBriefLength caps accepted brief text length in bytes
	MaxBriefLength int `yaml:"max_brief_length"`
}

// ModelConfig configures the LLM model settings
type ModelConfig struct {
	// Default is the default model to use (e.g., "qwen2.5-coder:32b")
	Default string `yaml:"default"`
	// Endpoint is the OpenAI-compatible API endpoint (default: http://localhost:11434/v1)
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the optional frame audit mirror
type NATSConfig struct {
	// URL is the NATS server URL (empty = audit mirroring disabled)
	URL string `yaml:"url"`
	// SubjectPrefix is the subject prefix for mirrored frames
	SubjectPrefix string `yaml:"subject_prefix"`
}

// RefdocsConfig configures reference material included as planning context
type RefdocsConfig struct {
	// Dir is a directory of markdown/text documents included as planning context
	// (empty = disabled)
	Dir string `yaml:"dir"`
	// Watch enables fsnotify-based reloading of the directory
	Watch bool `yaml:"watch"`
	// DebounceDelay is how long to wait for more changes before reloading
	DebounceDelay time.Duration `yaml:"debounce_delay"`
	// URLs are web pages fetched and converted to markdown for planning context
	URLs []string `yaml:"urls"`
	// AllowPrivateURLs permits fetching from private/loopback addresses,
	// e.g. an internal docs host
	AllowPrivateURLs bool `yaml:"allow_private_urls"`
}

// ClientConfig configures stream client defaults used by the watch command
type ClientConfig struct {
	// MaxReconnectAttempts is the automatic reconnect ceiling
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	// ReconnectBase is the first reconnect delay; each attempt doubles it
	ReconnectBase time.Duration `yaml:"reconnect_base"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8787",
			HeartbeatInterval: 15 * time.Second,
			APIKeys:           nil,
			MaxBriefLength:    16 * 1024,
		},
		Model: ModelConfig{
			Default:     "qwen2.5-coder:32b",
			Endpoint:    "http://localhost:11434/v1",
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: "fabrica.session",
		},
		Refdocs: RefdocsConfig{
			Dir:           "",
			Watch:         true,
			DebounceDelay: 500 * time.Millisecond,
		},
		Client: ClientConfig{
			MaxReconnectAttempts: 4,
			ReconnectBase:        time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("server.heartbeat_interval must be positive")
	}
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("client.max_reconnect_attempts must not be negative")
	}
	if c.Client.ReconnectBase <= 0 {
		return fmt.Errorf("client.reconnect_base must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.HeartbeatInterval != 0 {
		c.Server.HeartbeatInterval = other.Server.HeartbeatInterval
	}
	if len(other.Server.APIKeys) > 0 {
		c.Server.APIKeys = other.Server.APIKeys
	}
	if other.Server.MaxBriefLength != 0 {
		c.Server.MaxBriefLength = other.Server.MaxBriefLength
	}

	// Model
	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	// Refdocs
	if other.Refdocs.Dir != "" {
		c.Refdocs.Dir = other.Refdocs.Dir
	}
	if other.Refdocs.DebounceDelay != 0 {
		c.Refdocs.DebounceDelay = other.Refdocs.DebounceDelay
	}
	if len(other.Refdocs.URLs) > 0 {
		c.Refdocs.URLs = other.Refdocs.URLs
	}

	// Client
	if other.Client.MaxReconnectAttempts != 0 {
		c.Client.MaxReconnectAttempts = other.Client.MaxReconnectAttempts
	}
	if other.Client.ReconnectBase != 0 {
		c.Client.ReconnectBase = other.Client.ReconnectBase
	}
}
