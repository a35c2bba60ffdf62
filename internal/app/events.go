package app

import (
	"context"
	"fmt"

	"traffic-router/internal/common/logging"
	"traffic-router/internal/config"
	"traffic-router/internal/events"
)

// redisStreamMaxLen caps the outcome stream when EVENTS_REDIS_STREAM is set
const redisStreamMaxLen = 100000

func (app *App) initializeEvents(ctx context.Context) error {
	sinks, err := app.buildSinks(ctx)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		app.Logger.Info("Outcome events: no sinks configured")
		return nil
	}

	app.Emitter = events.NewEmitter(app.Bus, config.Int(app.Config.EventsBuffer, 1024), sinks)
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	app.Logger.Info("Outcome events: enabled", logging.Strings("sinks", names))
	return nil
}

// buildSinks creates every sink named in EVENTS_SINKS. On error the sinks
// created so far are closed.
func (app *App) buildSinks(ctx context.Context) (sinks []events.Sink, err error) {
	cfg := app.Config
	defer func() {
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			sinks = nil
		}
	}()

	for _, name := range cfg.Sinks() {
		var sink events.Sink
		switch name {
		case events.SinkRedis:
			sink, err = events.NewRedisSink(app.RedisClient, events.RedisSinkConfig{
				Channel:      cfg.EventsRedisChannel,
				Stream:       cfg.EventsRedisStream,
				StreamMaxLen: redisStreamMaxLen,
			})
		case events.SinkRabbitMQ:
			sink, err = events.NewRabbitMQSink(events.RabbitMQConfig{
				URL:      cfg.RabbitMQURL,
				Exchange: cfg.RabbitMQExchange,
			})
		case events.SinkKafka:
			sink, err = events.NewKafkaSink(events.KafkaConfig{
				Brokers: cfg.KafkaBrokerList(),
				Topic:   cfg.KafkaTopic,
			})
		case events.SinkSNS:
			sink, err = events.NewSNSSink(ctx, events.SNSConfig{
				Region:          cfg.AWSRegion,
				TopicARN:        cfg.SNSTopicARN,
				AccessKeyID:     cfg.AWSAccessKeyID,
				SecretAccessKey: cfg.AWSSecretAccessKey,
			})
		case events.SinkPubSub:
			sink, err = events.NewPubSubSink(ctx, events.PubSubConfig{
				ProjectID:       cfg.GCPProjectID,
				TopicID:         cfg.PubSubTopic,
				CredentialsFile: cfg.GCPCredentialsFile,
			})
		default:
			err = fmt.Errorf("unknown event sink %q", name)
		}
		if err != nil {
			return sinks, fmt.Errorf("event sink %s: %w", name, err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}
