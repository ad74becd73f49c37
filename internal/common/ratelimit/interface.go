// Package ratelimit limits render API requests per client.
//
// The local backend keeps one token bucket (golang.org/x/time/rate) per
// key in memory. The distributed backend counts requests in a Redis sorted
// set, so every instance of the service shares the same budget.
//
//	limiter, err := ratelimit.New(ratelimit.Config{RequestsPerSecond: 10, BurstSize: 20, Enabled: true})
//	router.Use(ratelimit.HTTPMiddleware(limiter, ratelimit.ClientKey))
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request may proceed
type Limiter interface {
	// TryAcquire takes a token from the shared bucket without blocking
	TryAcquire(ctx context.Context) bool
	// TryAcquireForKey takes a token from key's bucket without blocking
	TryAcquireForKey(ctx context.Context, key string) bool
	// WaitForKey blocks until key's bucket has a token or ctx is done
	WaitForKey(ctx context.Context, key string) error

	Stats() map[string]interface{}
	Health() error
}

// RedisInterface defines the minimal Redis interface needed for rate limiting
type RedisInterface interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
	Health() error
}
