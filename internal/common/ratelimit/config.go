package ratelimit

import (
	"fmt"
	"time"
)

// BackendType defines the rate limiter backend
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendRedis BackendType = "redis"
)

// Config represents rate limiter configuration
type Config struct {
	RequestsPerSecond int  `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int  `json:"burst_size" yaml:"burst_size"`
	Enabled           bool `json:"enabled" yaml:"enabled"`

	Type BackendType `json:"type" yaml:"type"`

	// Redis backend settings
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`

	// Cleanup settings for the local backend
	MaxKeys       int           `json:"max_keys,omitempty" yaml:"max_keys,omitempty"`
	CleanupPeriod time.Duration `json:"cleanup_period,omitempty" yaml:"cleanup_period,omitempty"`
}

// Validate fills in defaults and rejects unknown backends
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.BurstSize <= 0 {
		c.BurstSize = c.RequestsPerSecond
	}

	if c.Type == "" {
		c.Type = BackendLocal
	}

	switch c.Type {
	case BackendLocal:
		if c.MaxKeys <= 0 {
			c.MaxKeys = 10000
		}
		if c.CleanupPeriod <= 0 {
			c.CleanupPeriod = 5 * time.Minute
		}
	case BackendRedis:
		if c.KeyPrefix == "" {
			c.KeyPrefix = "laminate:ratelimit:"
		}
	default:
		return fmt.Errorf("unsupported rate limiter backend type: %s", c.Type)
	}

	return nil
}

// DefaultConfig returns a default rate limiter configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		BurstSize:         20,
		Enabled:           true,
		Type:              BackendLocal,
		KeyPrefix:         "laminate:ratelimit:",
		MaxKeys:           10000,
		CleanupPeriod:     5 * time.Minute,
	}
}
