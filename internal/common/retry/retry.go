// Package retry runs an operation again with exponential backoff until it
// succeeds, fails permanently or runs out of attempts.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config controls the backoff
type Config struct {
	// MaxAttempts counts the first attempt
	MaxAttempts  int
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth
	MaxDelay      time.Duration
	BackoffFactor float64
	// JitterFactor adds up to this fraction of the delay at random
	JitterFactor float64
	// Retryable reports whether err is worth another attempt; nil retries everything
	Retryable func(err error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig suits connecting to a service that may still be starting
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// Do calls fn until it returns nil. The last error is wrapped when the
// attempts run out; a non-retryable error is returned as is.
func Do(ctx context.Context, config Config, fn func(ctx context.Context) error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if config.Retryable != nil && !config.Retryable(lastErr) {
			return lastErr
		}
		if attempt == config.MaxAttempts {
			break
		}

		wait := delay
		if config.JitterFactor > 0 && wait > 0 {
			wait += time.Duration(rand.Int63n(int64(float64(wait)*config.JitterFactor) + 1))
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, wait, lastErr)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", config.MaxAttempts, lastErr)
}
