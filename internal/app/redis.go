package app

import (
	"laminate/internal/common/logging"
	"laminate/internal/redis"
)

func (app *App) initializeRedis() error {
	redisConfig := &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDBNumber(),
		PoolSize: app.Config.RedisPoolSizeNumber(),
	}

	var redisClient *redis.Client
	err := app.connect("Redis", func() error {
		var err error
		redisClient, err = redis.NewClient(redisConfig)
		return err
	})
	if err != nil {
		return err
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	return nil
}
