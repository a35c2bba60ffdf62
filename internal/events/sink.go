package events

import (
	"context"
	"fmt"
	"strings"
)

// Sink delivers events to an external system
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
	Close() error
}

// Sink names accepted in EVENTS_SINKS
const (
	SinkRedis    = "redis"
	SinkRabbitMQ = "rabbitmq"
	SinkKafka    = "kafka"
	SinkSNS      = "sns"
	SinkPubSub   = "pubsub"
)

// ParseSinkNames splits a comma-separated sink list, rejecting unknown names
func ParseSinkNames(list string) ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	for _, raw := range strings.Split(list, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		switch name {
		case SinkRedis, SinkRabbitMQ, SinkKafka, SinkSNS, SinkPubSub:
		default:
			return nil, fmt.Errorf("unknown event sink %q", name)
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}
