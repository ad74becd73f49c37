package app

import (
	"laminate/internal/common/logging"
	"laminate/internal/common/ratelimit"
)

// initializeRateLimiter creates the per-client API limiter
func (app *App) initializeRateLimiter() error {
	if !app.Config.RateLimitEnabled {
		app.Logger.Info("Rate Limiting: Disabled")
		return nil
	}

	rps, burst := app.Config.RateLimitNumbers()
	rateLimitConfig := ratelimit.Config{
		RequestsPerSecond: rps,
		BurstSize:         burst,
		Enabled:           true,
		Type:              ratelimit.BackendType(app.Config.RateLimitBackend),
	}

	var limiter ratelimit.Limiter
	var err error
	if rateLimitConfig.Type == ratelimit.BackendRedis && app.RedisClient != nil {
		limiter, err = ratelimit.New(rateLimitConfig, app.RedisClient)
	} else {
		rateLimitConfig.Type = ratelimit.BackendLocal
		limiter, err = ratelimit.New(rateLimitConfig)
	}
	if err != nil {
		return err
	}

	app.Limiter = limiter
	app.Logger.Info("Rate Limiting: Enabled",
		logging.Field{Key: "backend", Value: string(rateLimitConfig.Type)},
		logging.Field{Key: "rps", Value: rps},
		logging.Field{Key: "burst", Value: burst},
	)
	return nil
}
