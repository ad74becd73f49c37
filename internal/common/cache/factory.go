package cache

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"laminate/internal/circuitbreaker"
	"laminate/internal/common/logging"
)

// Type represents the cache backend type
type Type string

const (
	TypeNone    Type = "none"
	TypeLocal   Type = "local"
	TypeRedis   Type = "redis"
	TypeTwoTier Type = "two_tier"
)

// Config holds cache configuration
type Config struct {
	Type            Type          `json:"type"`
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval,omitempty"`
	KeyPrefix       string        `json:"key_prefix,omitempty"`
	RedisClient     *redis.Client `json:"-"`
	// Breaker guards the Redis tier; nil uses circuitbreaker.DefaultConfig
	Breaker *circuitbreaker.Config `json:"-"`
	Logger  logging.Logger         `json:"-"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Type:            TypeLocal,
		TTL:             time.Hour,
		CleanupInterval: 10 * time.Minute,
		KeyPrefix:       "laminate:script:",
	}
}

// New creates a cache instance based on configuration
func New(config Config) (Cache, error) {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}

	switch config.Type {
	case TypeNone, "":
		return NopCache{}, nil

	case TypeLocal:
		return NewLocalCache(config.TTL, config.CleanupInterval), nil

	case TypeRedis:
		if config.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for redis cache")
		}
		return newRedisTier(config), nil

	case TypeTwoTier:
		if config.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for two-tier cache")
		}
		return NewTwoTierCache(config.TTL, config.CleanupInterval, newRedisTier(config)), nil

	default:
		return nil, fmt.Errorf("unknown cache type: %s", config.Type)
	}
}

func newRedisTier(config Config) *RedisCache {
	breakerConfig := circuitbreaker.DefaultConfig()
	if config.Breaker != nil {
		breakerConfig = *config.Breaker
	}
	breaker := circuitbreaker.New("script-cache", breakerConfig, config.Logger)
	return NewRedisCache(config.RedisClient, config.KeyPrefix).WithBreaker(breaker)
}

// MustNew creates a cache instance or panics
func MustNew(config Config) Cache {
	cache, err := New(config)
	if err != nil {
		panic(err)
	}
	return cache
}
