package ratelimit

import (
	"context"
	"fmt"
	"time"

	"laminate/internal/common/logging"
)

// distributedLimiter counts requests per key in a one second Redis window
type distributedLimiter struct {
	config      Config
	redisClient RedisInterface
	logger      logging.Logger
}

// NewDistributedLimiter creates a Redis-backed limiter
func NewDistributedLimiter(config Config, redisClient RedisInterface) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required for distributed rate limiter")
	}

	return &distributedLimiter{
		config:      config,
		redisClient: redisClient,
		logger:      logging.ForComponent("ratelimit"),
	}, nil
}

func (rl *distributedLimiter) TryAcquire(ctx context.Context) bool {
	return rl.TryAcquireForKey(ctx, "global")
}

// TryAcquireForKey admits the request when Redis cannot be reached, so an
// outage degrades to no limiting instead of no service
func (rl *distributedLimiter) TryAcquireForKey(ctx context.Context, key string) bool {
	if !rl.config.Enabled {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	allowed, _, err := rl.redisClient.CheckRateLimit(ctx, rl.config.KeyPrefix+key, rl.config.RequestsPerSecond, time.Second)
	if err != nil {
		rl.logger.Warn("Rate limit check failed, allowing request",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return true
	}

	return allowed
}

func (rl *distributedLimiter) WaitForKey(ctx context.Context, key string) error {
	if !rl.config.Enabled {
		return nil
	}

	waitTime := time.Second / time.Duration(rl.config.RequestsPerSecond)
	if waitTime < 10*time.Millisecond {
		waitTime = 10 * time.Millisecond
	}

	for {
		if rl.TryAcquireForKey(ctx, key) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

func (rl *distributedLimiter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":                "redis",
		"enabled":             rl.config.Enabled,
		"requests_per_second": rl.config.RequestsPerSecond,
		"burst_size":          rl.config.BurstSize,
		"key_prefix":          rl.config.KeyPrefix,
	}
}

func (rl *distributedLimiter) Health() error {
	return rl.redisClient.Health()
}
