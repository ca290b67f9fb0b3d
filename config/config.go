package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete vibechat configuration, shared by the client and the server.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// ClientConfig holds the TUI client settings.
type ClientConfig struct {
	APIURL          string      `yaml:"api_url"`
	PushURL         string      `yaml:"push_url"`
	AnchorThreshold int         `yaml:"anchor_threshold"` // lines from bottom before the transcript stops following
	Timezone        string      `yaml:"timezone"`
	Media           MediaConfig `yaml:"media"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// MediaConfig bounds outbound image attachments.
type MediaConfig struct {
	MaxInputBytes      int64 `yaml:"max_input_bytes"`
	CompressAboveBytes int64 `yaml:"compress_above_bytes"`
	MaxEdge            int   `yaml:"max_edge"`
	Quality            int   `yaml:"quality"`
}

// ServerConfig holds the reference backend settings.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	DatabasePath string `yaml:"database_path"`
	JWTSecret    string `yaml:"jwt_secret"`
	PublicURL    string `yaml:"public_url"`

	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			APIURL:            "http://localhost:8999/api",
			PushURL:           "ws://localhost:8999/ws",
			AnchorThreshold:   3,
			RequestTimeoutRaw: "15s",
			RequestTimeout:    15 * time.Second,
			Media: MediaConfig{
				MaxInputBytes:      10 << 20,
				CompressAboveBytes: 1 << 20,
				MaxEdge:            1920,
				Quality:            80,
			},
		},
		Server: ServerConfig{
			Addr:          ":8999",
			DatabasePath:  "vibechat.db",
			SessionTTLRaw: "168h",
			SessionTTL:    7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "vibechat.log",
		},
	}
}

// Load reads the configuration at path on top of Default. A missing file yields the defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all configuration fields are usable.
func (c *Config) Validate() error {
	if c.Client.APIURL == "" {
		return fmt.Errorf("client.api_url is required")
	}
	if c.Client.PushURL == "" {
		return fmt.Errorf("client.push_url is required")
	}
	if c.Client.AnchorThreshold < 0 {
		return fmt.Errorf("client.anchor_threshold must not be negative")
	}
	if c.Client.Timezone != "" {
		if _, err := time.LoadLocation(c.Client.Timezone); err != nil {
			return fmt.Errorf("client.timezone: %w", err)
		}
	}

	m := c.Client.Media
	if m.MaxInputBytes <= 0 || m.CompressAboveBytes <= 0 {
		return fmt.Errorf("client.media byte limits must be positive")
	}
	if m.CompressAboveBytes > m.MaxInputBytes {
		return fmt.Errorf("client.media.compress_above_bytes exceeds max_input_bytes")
	}
	if m.MaxEdge <= 0 {
		return fmt.Errorf("client.media.max_edge must be positive")
	}
	if m.Quality < 1 || m.Quality > 100 {
		return fmt.Errorf("client.media.quality must be between 1 and 100")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// ValidateServer checks the fields the backend needs to serve.
func (c *Config) ValidateServer() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.DatabasePath == "" {
		return fmt.Errorf("server.database_path is required")
	}
	if len(c.Server.JWTSecret) < 32 {
		return fmt.Errorf("server.jwt_secret must be at least 32 bytes")
	}
	return nil
}

// Location returns the time zone used to group messages by day.
func (c *ClientConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Client.RequestTimeoutRaw != "" {
		cfg.Client.RequestTimeout, err = time.ParseDuration(cfg.Client.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Client.RequestTimeoutRaw, err)
		}
	}

	if cfg.Server.SessionTTLRaw != "" {
		cfg.Server.SessionTTL, err = time.ParseDuration(cfg.Server.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.Server.SessionTTLRaw, err)
		}
	}

	return nil
}
