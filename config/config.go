// Package config loads the service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :9000)
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// RedisURL selects the Redis store and event stream when set
	RedisURL string `mapstructure:"REDIS_URL"`
	// DatabaseURL selects the Postgres store when set; it takes precedence over Redis for storage
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// ChallengeDomain is the domain named in every challenge message
	ChallengeDomain string `mapstructure:"CHALLENGE_DOMAIN"`
	// ChallengeTTL is how long a challenge may be answered (e.g. "5m")
	ChallengeTTL string `mapstructure:"CHALLENGE_TTL"`
	// ChallengeSigningKey is a PEM encoded P-256 private key or a path to one. A fresh key is
	// generated at startup when empty, which invalidates outstanding challenges on restart.
	ChallengeSigningKey string `mapstructure:"CHALLENGE_SIGNING_KEY"`

	// StoreTimeout bounds each store round trip (e.g. "2s")
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`

	// AuthRateLimit is the number of requests per AuthRateWindow allowed on /auth endpoints
	AuthRateLimit int `mapstructure:"AUTH_RATE_LIMIT"`
	// AuthRateWindow is the fixed window for AuthRateLimit (e.g. "1m")
	AuthRateWindow string `mapstructure:"AUTH_RATE_WINDOW"`

	BlacklistFailOpen bool `mapstructure:"BLACKLIST_FAIL_OPEN"`
	RateLimitFailOpen bool `mapstructure:"RATE_LIMIT_FAIL_OPEN"`

	// AutoBlacklistScore is the summed event severity per IP within AutoBlacklistWindow at which
	// the IP is blacklisted; 0 disables automatic blacklisting
	AutoBlacklistScore int `mapstructure:"AUTO_BLACKLIST_SCORE"`
	// AutoBlacklistWindow is the window the per-IP score is summed over (e.g. "1h")
	AutoBlacklistWindow string `mapstructure:"AUTO_BLACKLIST_WINDOW"`
	// AutoBlacklistTTL is how long an automatic blacklist entry lasts (e.g. "24h")
	AutoBlacklistTTL string `mapstructure:"AUTO_BLACKLIST_TTL"`

	EventsEnabled bool   `mapstructure:"EVENTS_ENABLED"`
	EventsTopic   string `mapstructure:"EVENTS_TOPIC"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":9000")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("CHALLENGE_DOMAIN", "localhost")
	v.SetDefault("CHALLENGE_TTL", "5m")
	v.SetDefault("CHALLENGE_SIGNING_KEY", "")
	v.SetDefault("STORE_TIMEOUT", "2s")
	v.SetDefault("AUTH_RATE_LIMIT", 20)
	v.SetDefault("AUTH_RATE_WINDOW", "1m")
	v.SetDefault("BLACKLIST_FAIL_OPEN", false)
	v.SetDefault("RATE_LIMIT_FAIL_OPEN", false)
	v.SetDefault("AUTO_BLACKLIST_SCORE", 80)
	v.SetDefault("AUTO_BLACKLIST_WINDOW", "1h")
	v.SetDefault("AUTO_BLACKLIST_TTL", "24h")
	v.SetDefault("EVENTS_ENABLED", true)
	v.SetDefault("EVENTS_TOPIC", "warden.suspicious_activity")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.ChallengeDomain == "" {
		return nil, errors.New("config: CHALLENGE_DOMAIN must be set")
	}
	if cfg.AuthRateLimit <= 0 {
		return nil, errors.New("config: AUTH_RATE_LIMIT must be positive")
	}
	if cfg.AutoBlacklistScore < 0 {
		return nil, errors.New("config: AUTO_BLACKLIST_SCORE must not be negative")
	}

	return &cfg, nil
}

// ChallengeTTLDuration parses ChallengeTTL. Returns 5m if unset or invalid.
func (c *Config) ChallengeTTLDuration() time.Duration {
	return parseDuration(c.ChallengeTTL, 5*time.Minute)
}

// StoreTimeoutDuration parses StoreTimeout. Returns 2s if unset or invalid.
func (c *Config) StoreTimeoutDuration() time.Duration {
	return parseDuration(c.StoreTimeout, 2*time.Second)
}

// AuthRateWindowDuration parses AuthRateWindow. Returns 1m if unset or invalid.
func (c *Config) AuthRateWindowDuration() time.Duration {
	return parseDuration(c.AuthRateWindow, time.Minute)
}

// AutoBlacklistWindowDuration parses AutoBlacklistWindow. Returns 1h if unset or invalid.
func (c *Config) AutoBlacklistWindowDuration() time.Duration {
	return parseDuration(c.AutoBlacklistWindow, time.Hour)
}

// AutoBlacklistTTLDuration parses AutoBlacklistTTL. "0" means permanent; returns 24h if unset or invalid.
func (c *Config) AutoBlacklistTTLDuration() time.Duration {
	if strings.TrimSpace(c.AutoBlacklistTTL) == "0" {
		return 0
	}
	return parseDuration(c.AutoBlacklistTTL, 24*time.Hour)
}

// SigningKey loads the challenge signing key from ChallengeSigningKey, which
// holds either PEM text or a path to a PEM file. It returns nil, nil when no
// key is configured.
func (c *Config) SigningKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(c.ChallengeSigningKey)
	if raw == "" {
		return nil, nil
	}

	pem := []byte(raw)
	if !strings.HasPrefix(raw, "-----BEGIN") {
		data, err := os.ReadFile(raw)
		if err != nil {
			return nil, fmt.Errorf("config: read CHALLENGE_SIGNING_KEY: %w", err)
		}
		pem = data
	}

	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("config: parse CHALLENGE_SIGNING_KEY: %w", err)
	}
	return key, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
