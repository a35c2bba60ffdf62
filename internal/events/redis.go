package events

import (
	"context"
	"strconv"

	"traffic-router/internal/common/errors"
	"traffic-router/internal/redis"
)

// RedisSink publishes events on a pub/sub channel and, when Stream is set,
// appends them to a Redis stream
type RedisSink struct {
	client       *redis.Client
	channel      string
	stream       string
	streamMaxLen int64
}

// RedisSinkConfig configures a RedisSink
type RedisSinkConfig struct {
	Channel      string
	Stream       string
	StreamMaxLen int64
}

// NewRedisSink creates a sink on an existing client. The client is shared
// and not closed by the sink.
func NewRedisSink(client *redis.Client, cfg RedisSinkConfig) (*RedisSink, error) {
	if client == nil {
		return nil, errors.ConfigError("redis sink requires a redis client")
	}
	if cfg.Channel == "" && cfg.Stream == "" {
		return nil, errors.ConfigError("redis sink requires a channel or a stream")
	}
	return &RedisSink{
		client:       client,
		channel:      cfg.Channel,
		stream:       cfg.Stream,
		streamMaxLen: cfg.StreamMaxLen,
	}, nil
}

func (s *RedisSink) Name() string { return SinkRedis }

func (s *RedisSink) Send(ctx context.Context, e Event) error {
	body, err := e.Encode()
	if err != nil {
		return err
	}

	if s.channel != "" {
		if err := s.client.Publish(ctx, s.channel, body); err != nil {
			return errors.ConnectionError("failed to publish outcome event to Redis", err)
		}
	}

	if s.stream != "" {
		_, err := s.client.AppendStream(ctx, s.stream, s.streamMaxLen, map[string]interface{}{
			"version":    e.Version,
			"endpoint":   e.Endpoint,
			"success":    strconv.FormatBool(e.Success),
			"latency_ns": e.Latency.Nanoseconds(),
			"body":       string(body),
		})
		if err != nil {
			return errors.ConnectionError("failed to append outcome event to Redis stream", err)
		}
	}
	return nil
}

func (s *RedisSink) Close() error { return nil }
