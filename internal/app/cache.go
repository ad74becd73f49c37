package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"laminate/internal/common/cache"
	"laminate/internal/common/logging"
	"laminate/internal/laminate/loader"
)

// initializeCache builds the compiled script cache. CACHE_TYPE=none leaves
// every Template with only its own memo.
func (app *App) initializeCache() error {
	if app.Config.CacheType == string(cache.TypeNone) {
		return nil
	}

	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = cache.Type(app.Config.CacheType)
	cacheConfig.TTL = app.Config.CacheLifetime()
	cacheConfig.Logger = app.Logger
	if app.RedisClient != nil {
		cacheConfig.RedisClient = app.RedisClient.Redis()
	}

	c, err := cache.New(cacheConfig)
	if err != nil {
		return fmt.Errorf("failed to create script cache: %w", err)
	}
	app.Scripts = loader.NewScriptCache(c, cacheConfig.TTL)
	app.Logger.Info("Script cache: Enabled",
		logging.Field{Key: "type", Value: app.Config.CacheType},
		logging.Field{Key: "ttl", Value: cacheConfig.TTL.String()},
	)
	return nil
}

// scheduleFlush empties the script cache on CACHE_FLUSH_SCHEDULE
func (app *App) scheduleFlush(onFlush func()) error {
	if app.Config.CacheFlushSchedule == "" || app.Scripts == nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(app.Config.CacheFlushSchedule, func() {
		if err := app.Scripts.Flush(context.Background()); err != nil {
			app.Logger.Error("Scheduled cache flush failed", err)
			return
		}
		if onFlush != nil {
			onFlush()
		}
		app.Logger.Info("Script cache flushed")
	})
	if err != nil {
		return fmt.Errorf("invalid CACHE_FLUSH_SCHEDULE: %w", err)
	}

	c.Start()
	app.cron = c
	app.Logger.Info("Scheduled cache flush", logging.Field{Key: "schedule", Value: app.Config.CacheFlushSchedule})
	return nil
}
