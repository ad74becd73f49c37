package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localLimiter implements rate limiting using golang.org/x/time/rate
type localLimiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*limiterEntry

	// Global limiter for non-keyed operations
	globalLimiter *rate.Limiter

	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter creates an in-memory limiter
func NewLocalLimiter(config Config) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &localLimiter{
		config:        config,
		limiters:      make(map[string]*limiterEntry),
		globalLimiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstSize),
		lastCleanup:   time.Now(),
	}, nil
}

func (rl *localLimiter) TryAcquire(context.Context) bool {
	if !rl.config.Enabled {
		return true
	}
	return rl.globalLimiter.Allow()
}

func (rl *localLimiter) TryAcquireForKey(_ context.Context, key string) bool {
	if !rl.config.Enabled {
		return true
	}
	return rl.limiterFor(key).Allow()
}

func (rl *localLimiter) WaitForKey(ctx context.Context, key string) error {
	if !rl.config.Enabled {
		return nil
	}
	return rl.limiterFor(key).Wait(ctx)
}

// limiterFor gets or creates the bucket for key
func (rl *localLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.config.CleanupPeriod {
		rl.cleanup()
	}

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[key] = entry

		if len(rl.limiters) > rl.config.MaxKeys {
			rl.cleanup()
		}
	}
	entry.lastUsed = time.Now()

	return entry.limiter
}

// cleanup removes buckets that have not been used for a cleanup period
func (rl *localLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.config.CleanupPeriod)

	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}

	rl.lastCleanup = time.Now()
}

func (rl *localLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"type":                "local",
		"enabled":             rl.config.Enabled,
		"requests_per_second": rl.config.RequestsPerSecond,
		"burst_size":          rl.config.BurstSize,
		"active_keys":         len(rl.limiters),
		"max_keys":            rl.config.MaxKeys,
		"last_cleanup":        rl.lastCleanup.Format(time.RFC3339),
	}
}

// Health always succeeds for the in-memory backend
func (rl *localLimiter) Health() error {
	return nil
}
