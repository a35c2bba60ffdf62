package config

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"traffic-router/internal/common/errors"
	"traffic-router/internal/common/logging"
	"traffic-router/internal/redis"
)

// RedisSourceConfig configures a RedisSource
type RedisSourceConfig struct {
	// Key holds the routing document
	Key string
	// Channel carries pushed documents. Empty disables push reloads.
	Channel string
	// Schedule re-reads Key on a cron schedule. Empty disables resyncs.
	Schedule string
}

// RedisSource loads the routing document from a Redis key, applies documents
// pushed on a channel and periodically re-reads the key to catch pushes it
// missed while disconnected.
type RedisSource struct {
	client   *redis.Client
	store    *Store
	cfg      RedisSourceConfig
	logger   logging.Logger
	ready    chan struct{}
	readyOne sync.Once
}

// NewRedisSource creates a source applying documents to store
func NewRedisSource(client *redis.Client, store *Store, cfg RedisSourceConfig) (*RedisSource, error) {
	if client == nil {
		return nil, errors.ConfigError("redis config source requires a redis client")
	}
	if cfg.Key == "" {
		return nil, errors.ConfigError("redis config source requires a key")
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			cfgErr := errors.ConfigErrorf("invalid resync schedule %q", cfg.Schedule)
			cfgErr.Cause = err
			return nil, cfgErr
		}
	}
	return &RedisSource{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logging.Component("config-redis").WithFields(logging.String("key", cfg.Key)),
		ready:  make(chan struct{}),
	}, nil
}

// Sync reads the key and applies it. A missing key is not an error.
func (s *RedisSource) Sync(ctx context.Context) error {
	data, err := s.client.Get(ctx, s.cfg.Key)
	if stderrors.Is(err, redis.ErrKeyNotFound) {
		s.logger.Debug("Routing document key not set")
		return nil
	}
	if err != nil {
		return errors.ConnectionError("failed to read routing document from redis", err)
	}
	_, err = s.store.ApplyBytes([]byte(data), "redis:"+s.cfg.Key)
	return err
}

// Push stores data under the key and announces it on the channel, so every
// router sharing the key applies it. It does not validate data; callers
// apply it locally first.
func (s *RedisSource) Push(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.cfg.Key, data, 0); err != nil {
		return errors.ConnectionError("failed to store routing document in redis", err)
	}
	if s.cfg.Channel == "" {
		return nil
	}
	if err := s.client.Publish(ctx, s.cfg.Channel, data); err != nil {
		return errors.ConnectionError("failed to publish routing document", err)
	}
	return nil
}

// Ready is closed once Run is subscribed to the channel
func (s *RedisSource) Ready() <-chan struct{} {
	return s.ready
}

// Run applies pushes and scheduled resyncs until ctx is done
func (s *RedisSource) Run(ctx context.Context) error {
	if s.cfg.Schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.cfg.Schedule, func() {
			if err := s.Sync(ctx); err != nil {
				s.logger.Warn("Scheduled routing document resync failed", logging.Err(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule resync: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	if s.cfg.Channel == "" {
		s.readyOne.Do(func() { close(s.ready) })
		<-ctx.Done()
		return nil
	}

	pubsub := s.client.Subscribe(ctx, s.cfg.Channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.ConnectionError("failed to subscribe to config channel", err).WithContext("channel", s.cfg.Channel)
	}
	s.readyOne.Do(func() { close(s.ready) })
	s.logger.Info("Listening for routing document pushes", logging.String("channel", s.cfg.Channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if _, err := s.store.ApplyBytes([]byte(msg.Payload), "redis-push:"+s.cfg.Channel); err != nil {
				s.logger.Warn("Pushed routing document rejected", logging.Err(err))
			}
		}
	}
}
