package app

import (
	"slices"

	"traffic-router/internal/common/logging"
	"traffic-router/internal/config"
	"traffic-router/internal/events"
	"traffic-router/internal/redis"
)

// initializeRedis connects when REDIS_ADDRESS is set. A failed connection is
// fatal only when a component needs Redis: the config key or the redis sink.
func (app *App) initializeRedis() error {
	cfg := app.Config
	if cfg.RedisAddress == "" {
		app.Logger.Info("Redis: Not configured (config push and redis sink disabled)")
		return nil
	}

	client, err := redis.NewClient(&redis.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       config.Int(cfg.RedisDB, 0),
		PoolSize: config.Int(cfg.RedisPoolSize, 10),
	})
	if err != nil {
		if cfg.RedisConfigKey != "" || slices.Contains(cfg.Sinks(), events.SinkRedis) {
			return err
		}
		app.Logger.Warn("Redis initialization failed, continuing without Redis", logging.Err(err))
		return nil
	}

	app.RedisClient = client
	app.Logger.Info("Redis: Connected", logging.String("address", cfg.RedisAddress))
	return nil
}
