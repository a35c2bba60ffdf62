// Package events carries per-attempt dispatch outcomes out of the request
// path. The dispatcher publishes to an in-process Bus; an Emitter forwards
// bus events to external sinks (Redis, RabbitMQ, Kafka, SNS, Pub/Sub).
package events

import (
	"encoding/json"
	"time"
)

// Event is the outcome of one forwarding attempt
type Event struct {
	RequestID  string        `json:"request_id"`
	Version    string        `json:"version"`
	Endpoint   string        `json:"endpoint"`
	Address    string        `json:"address"`
	Attempt    int           `json:"attempt"`
	Rule       string        `json:"rule,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Encode renders the event as JSON
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Outcome is "success" or "failure"
func (e Event) Outcome() string {
	if e.Success {
		return "success"
	}
	return "failure"
}

// RoutingKey is used by sinks that route by key, e.g. "outcome.v2.failure"
func (e Event) RoutingKey() string {
	return "outcome." + e.Version + "." + e.Outcome()
}

// Publisher accepts events without blocking
type Publisher interface {
	Publish(e Event)
}
