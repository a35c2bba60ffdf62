package events

import (
	"context"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"traffic-router/internal/common/errors"
)

// kafkaProducer is the part of *kafka.Producer the sink uses
type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaConfig configures a KafkaSink
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Validate checks the configuration and fills defaults
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.ConfigError("kafka sink requires KAFKA_BROKERS")
	}
	if c.Topic == "" {
		c.Topic = "traffic-router.outcomes"
	}
	if c.ClientID == "" {
		c.ClientID = "traffic-router"
	}
	return nil
}

// KafkaSink produces events keyed by version, so the outcomes of one version
// stay ordered within a partition
type KafkaSink struct {
	producer kafkaProducer
	topic    string
}

// NewKafkaSink creates the producer
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"client.id":         cfg.ClientID,
		"acks":              "all",
		"linger.ms":         10,
	})
	if err != nil {
		return nil, errors.ConnectionError("failed to create Kafka producer", err)
	}
	return &KafkaSink{producer: producer, topic: cfg.Topic}, nil
}

func (s *KafkaSink) Name() string { return SinkKafka }

func (s *KafkaSink) Send(ctx context.Context, e Event) error {
	body, err := e.Encode()
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.Version),
		Value:          body,
		Timestamp:      e.Timestamp,
		Headers: []kafka.Header{
			{Key: "request_id", Value: []byte(e.RequestID)},
			{Key: "outcome", Value: []byte(e.Outcome())},
		},
	}, delivery)
	if err != nil {
		return errors.ConnectionError("failed to produce outcome event", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return errors.InternalError("unexpected Kafka delivery report", nil).WithContext("event", ev.String())
		}
		if m.TopicPartition.Error != nil {
			return errors.ConnectionError("outcome event delivery failed", m.TopicPartition.Error)
		}
		return nil
	}
}

func (s *KafkaSink) Close() error {
	s.producer.Flush(5000)
	s.producer.Close()
	return nil
}
