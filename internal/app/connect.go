package app

import (
	"context"
	"time"

	"laminate/internal/common/logging"
	"laminate/internal/common/retry"
)

// connectRetry governs startup connections to Redis and PostgreSQL
var connectRetry = retry.DefaultConfig()

// connect retries fn while the named service comes up
func (app *App) connect(service string, fn func() error) error {
	config := connectRetry
	config.OnRetry = func(attempt int, delay time.Duration, err error) {
		app.Logger.Warn(service+": connection failed, retrying",
			logging.Field{Key: "attempt", Value: attempt},
			logging.Field{Key: "delay", Value: delay.String()},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
	return retry.Do(context.Background(), config, func(context.Context) error {
		return fn()
	})
}
