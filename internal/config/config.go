// Package config provides configuration management for the RGS client.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file, and RGS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/alexbotov/rgsclient/pkg/rgs"
)

var (
	ErrMissingURL        = errors.New("rgs url is required")
	ErrInvalidURL        = errors.New("rgs url must be absolute http(s)")
	ErrMissingSession    = errors.New("rgs session id is required")
	ErrInvalidTimeout    = errors.New("rgs timeout must be positive")
	ErrInvalidMultiplier = errors.New("api multiplier must be positive")
	ErrInvalidTokenTTL   = errors.New("bridge token ttl must be positive")
)

// Config holds all configuration for the client
type Config struct {
	RGS    RGSConfig    `yaml:"rgs"`
	Bridge BridgeConfig `yaml:"bridge"`
	Audit  AuditConfig  `yaml:"audit"`
	Log    LogConfig    `yaml:"log"`
}

// RGSConfig holds the session identity and transport settings
type RGSConfig struct {
	URL           string        `yaml:"url" env:"RGS_URL"`
	SessionID     string        `yaml:"session_id" env:"RGS_SESSION_ID"`
	Language      string        `yaml:"language" env:"RGS_LANGUAGE"`
	Currency      string        `yaml:"currency" env:"RGS_CURRENCY"`
	Timeout       time.Duration `yaml:"timeout" env:"RGS_TIMEOUT"`
	APIMultiplier int64         `yaml:"api_multiplier" env:"RGS_API_MULTIPLIER"`
}

// BridgeConfig holds the local HTTP bridge configuration.
// An empty JWTSecret disables bridge authentication.
type BridgeConfig struct {
	Addr         string        `yaml:"addr" env:"RGS_BRIDGE_ADDR"`
	JWTSecret    string        `yaml:"jwt_secret" env:"RGS_BRIDGE_JWT_SECRET"`
	PasswordHash string        `yaml:"password_hash" env:"RGS_BRIDGE_PASSWORD_HASH"`
	TokenTTL     time.Duration `yaml:"token_ttl" env:"RGS_BRIDGE_TOKEN_TTL"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuditConfig holds the round journal database configuration.
// An empty DSN disables the journal.
type AuditConfig struct {
	Driver string `yaml:"driver" env:"RGS_AUDIT_DRIVER"`
	DSN    string `yaml:"dsn" env:"RGS_AUDIT_DSN"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" env:"RGS_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"RGS_LOG_PRETTY"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		RGS: RGSConfig{
			Language:      rgs.DefaultLanguage,
			Timeout:       rgs.DefaultTimeout,
			APIMultiplier: rgs.DefaultAPIMultiplier,
		},
		Bridge: BridgeConfig{
			Addr:         ":8090",
			TokenTTL:     24 * time.Hour,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Driver: "postgres",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load builds the configuration. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings every RGS-facing command needs
func (c *Config) Validate() error {
	if c.RGS.URL == "" {
		return ErrMissingURL
	}
	u, err := url.Parse(c.RGS.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, c.RGS.URL)
	}
	if c.RGS.SessionID == "" {
		return ErrMissingSession
	}
	if c.RGS.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.RGS.APIMultiplier <= 0 {
		return ErrInvalidMultiplier
	}
	if c.Bridge.TokenTTL <= 0 {
		return ErrInvalidTokenTTL
	}
	return nil
}

// ClientConfig returns the transport configuration
func (c *Config) ClientConfig() *rgs.ClientConfig {
	return &rgs.ClientConfig{
		BaseURL:   c.RGS.URL,
		SessionID: c.RGS.SessionID,
		Language:  c.RGS.Language,
		Currency:  c.RGS.Currency,
		Timeout:   c.RGS.Timeout,
	}
}

// AuthEnabled reports whether the bridge requires a token
func (c *BridgeConfig) AuthEnabled() bool {
	return c.JWTSecret != ""
}
