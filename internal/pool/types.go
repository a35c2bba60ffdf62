// Package pool owns the health state of every registered backend endpoint.
//
// A single Tracker runs the probe loops, feeds outcomes to each endpoint's
// circuit breaker and publishes an immutable Snapshot of the pool after every
// change. Other components see it through two narrow interfaces:
// ResultIngester to report outcomes and SnapshotReader to read the pool.
package pool

import (
	"errors"
	"time"

	"traffic-router/internal/circuitbreaker"
)

var (
	// ErrEndpointNotFound is returned for operations on an unknown endpoint ID
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrDuplicateEndpoint is returned when an endpoint ID is registered twice
	ErrDuplicateEndpoint = errors.New("endpoint already registered")
)

// HealthState is the probe-derived health of an endpoint
type HealthState string

const (
	// Healthy endpoints have no outstanding failures
	Healthy HealthState = "healthy"
	// Unhealthy endpoints have failed recently but still serve traffic
	Unhealthy HealthState = "unhealthy"
	// Ejected endpoints are removed from service by their circuit breaker
	Ejected HealthState = "ejected"
)

// Origin records who registered an endpoint
type Origin string

const (
	// OriginConfig endpoints come from the routing document and are reconciled on reload
	OriginConfig Origin = "config"
	// OriginAPI endpoints are registered through the admin API
	OriginAPI Origin = "api"
)

// Endpoint is a point-in-time view of one backend endpoint
type Endpoint struct {
	ID                  string                `json:"id"`
	Version             string                `json:"version"`
	Address             string                `json:"address"`
	Origin              Origin                `json:"origin"`
	Health              HealthState           `json:"health"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	EjectedUntil        time.Time             `json:"ejected_until,omitempty"`
	Breaker             circuitbreaker.State  `json:"breaker"`
	Policy              circuitbreaker.Policy `json:"policy"`
	LastProbe           time.Time             `json:"last_probe,omitempty"`
	RegisteredAt        time.Time             `json:"registered_at"`
}

// Serving reports whether the endpoint may receive traffic
func (e Endpoint) Serving() bool {
	return e.Breaker.Serving()
}

// Source identifies where an outcome was observed
type Source string

const (
	SourceProbe   Source = "probe"
	SourceRequest Source = "request"
)

// Result is one observed outcome for an endpoint
type Result struct {
	EndpointID string
	Success    bool
	Source     Source
	Latency    time.Duration
	StatusCode int
	Err        error
	// Abandoned marks an attempt that ended without an outcome, such as one
	// cancelled by the inbound client. It releases a lease without counting.
	Abandoned bool
}

// Registration pairs an endpoint with the breaker policy it is bound to
type Registration struct {
	Endpoint Endpoint
	Policy   circuitbreaker.Policy
}

// ResultIngester accepts outcomes from probes and forwarded requests
type ResultIngester interface {
	Ingest(r Result)
	// Acquire admits one request attempt against endpoint id. The returned
	// function must be called exactly once with the attempt's outcome.
	Acquire(id string) (func(Result), error)
}

// SnapshotReader exposes the published pool
type SnapshotReader interface {
	Snapshot() *Snapshot
}

// ProbeSettings controls the probe loop. They are re-read before every cycle.
type ProbeSettings struct {
	Interval time.Duration
	Timeout  time.Duration
	Path     string
	// EvictAfter deregisters an endpoint after this many consecutive probe
	// failures. Zero disables eviction.
	EvictAfter int
}

// DefaultProbeSettings returns the settings used when none are configured
func DefaultProbeSettings() ProbeSettings {
	return ProbeSettings{
		Interval: 10 * time.Second,
		Timeout:  2 * time.Second,
		Path:     "/health",
	}
}
