package events

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/streadway/amqp"

	"traffic-router/internal/common/errors"
)

// amqpChannel is the part of *amqp.Channel the sink uses
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQConfig configures a RabbitMQSink
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// Validate checks the configuration and fills defaults
func (c *RabbitMQConfig) Validate() error {
	if c.URL == "" {
		return errors.ConfigError("rabbitmq sink requires RABBITMQ_URL")
	}
	if c.Exchange == "" {
		c.Exchange = "traffic-router.outcomes"
	}
	return nil
}

// RabbitMQSink publishes events to a durable topic exchange. The routing key
// is "outcome.<version>.<success|failure>".
type RabbitMQSink struct {
	mu       sync.Mutex
	conn     io.Closer
	ch       amqpChannel
	exchange string
}

// NewRabbitMQSink dials the broker and declares the exchange
func NewRabbitMQSink(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.ConnectionError("failed to connect to RabbitMQ", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.ConnectionError("failed to open RabbitMQ channel", err)
	}

	sink, err := newRabbitMQSink(conn, ch, cfg.Exchange)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return sink, nil
}

func newRabbitMQSink(conn io.Closer, ch amqpChannel, exchange string) (*RabbitMQSink, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.ConnectionError(fmt.Sprintf("failed to declare exchange %s", exchange), err)
	}
	return &RabbitMQSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *RabbitMQSink) Name() string { return SinkRabbitMQ }

func (s *RabbitMQSink) Send(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := e.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.ch.Publish(s.exchange, e.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s-%d", e.RequestID, e.Attempt),
		Timestamp:    e.Timestamp,
		Headers: amqp.Table{
			"version":  e.Version,
			"endpoint": e.Endpoint,
		},
		Body: body,
	})
	if err != nil {
		return errors.ConnectionError("failed to publish outcome event to RabbitMQ", err)
	}
	return nil
}

func (s *RabbitMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chErr := s.ch.Close()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return err
		}
	}
	return chErr
}
