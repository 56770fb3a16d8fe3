// Package config loads the gateway configuration from a YAML file with
// environment variable overrides, falling back to built-in defaults when the
// file is absent.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig controls the SQLite mirror of keys, accounts and logs.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PoolConfig controls account selection and health bookkeeping.
type PoolConfig struct {
	// Strategy is "round_robin" (default) or "hybrid".
	Strategy        string  `yaml:"strategy"`
	CooldownSeconds int     `yaml:"cooldown_seconds"`
	SuccessDelta    float64 `yaml:"success_delta"`
	RateLimitDelta  float64 `yaml:"rate_limit_delta"`
	FailureDelta    float64 `yaml:"failure_delta"`
	RecoveryPerMin  float64 `yaml:"recovery_per_minute"`
	MinHealth       float64 `yaml:"min_health"`
	BucketSize      float64 `yaml:"bucket_size"`
	RefillPerMin    float64 `yaml:"refill_per_minute"`
}

// UpstreamConfig controls the backend transport.
type UpstreamConfig struct {
	BaseURLs       []string `yaml:"base_urls"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	// MaxAttempts bounds how many distinct accounts one request may burn
	// through before giving up.
	MaxAttempts int `yaml:"max_attempts"`
}

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig      `yaml:"server"`
	Database      DatabaseConfig    `yaml:"database"`
	AdminPassword string            `yaml:"admin_password"`
	Pool          PoolConfig        `yaml:"pool"`
	Upstream      UpstreamConfig    `yaml:"upstream"`
	ModelAliases  map[string]string `yaml:"model_aliases"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8080},
		Database: DatabaseConfig{Path: "poolgate.db"},
		Pool: PoolConfig{
			Strategy:        "round_robin",
			CooldownSeconds: 60,
			SuccessDelta:    1,
			RateLimitDelta:  20,
			FailureDelta:    10,
			RecoveryPerMin:  2,
			MinHealth:       30,
			BucketSize:      60,
			RefillPerMin:    6,
		},
		Upstream: UpstreamConfig{
			TimeoutSeconds: 300, // long timeout for streaming
			MaxAttempts:    3,
		},
	}
}

// Load reads the YAML config at path, applies defaults for unset fields and
// environment overrides on top. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv layers environment variables over the file values.
func (c *Config) applyEnv() {
	if host := os.Getenv("HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if path := os.Getenv("POOLGATE_DB"); path != "" {
		c.Database.Path = path
	}
	if pw := os.Getenv("POOLGATE_ADMIN_PASSWORD"); pw != "" {
		c.AdminPassword = pw
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Pool.Strategy == "" {
		c.Pool.Strategy = def.Pool.Strategy
	}
	if c.Pool.CooldownSeconds == 0 {
		c.Pool.CooldownSeconds = def.Pool.CooldownSeconds
	}
	if c.Pool.SuccessDelta == 0 {
		c.Pool.SuccessDelta = def.Pool.SuccessDelta
	}
	if c.Pool.RateLimitDelta == 0 {
		c.Pool.RateLimitDelta = def.Pool.RateLimitDelta
	}
	if c.Pool.FailureDelta == 0 {
		c.Pool.FailureDelta = def.Pool.FailureDelta
	}
	if c.Pool.RecoveryPerMin == 0 {
		c.Pool.RecoveryPerMin = def.Pool.RecoveryPerMin
	}
	if c.Pool.MinHealth == 0 {
		c.Pool.MinHealth = def.Pool.MinHealth
	}
	if c.Pool.BucketSize == 0 {
		c.Pool.BucketSize = def.Pool.BucketSize
	}
	if c.Pool.RefillPerMin == 0 {
		c.Pool.RefillPerMin = def.Pool.RefillPerMin
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = def.Upstream.TimeoutSeconds
	}
	if c.Upstream.MaxAttempts == 0 {
		c.Upstream.MaxAttempts = def.Upstream.MaxAttempts
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
