// Package circuitbreaker implements per-endpoint outlier ejection on top of
// Sony's gobreaker, bounded pool-wide by a Guard.
package circuitbreaker

import (
	"encoding/json"
	"fmt"
	"time"

	"traffic-router/internal/common/errors"
)

// FailFastPercent disables the ejection guard for a policy
const FailFastPercent = 100

// Policy configures the breaker of every endpoint of a version. A policy is
// bound to a breaker when the endpoint registers and never changes after.
type Policy struct {
	// Threshold is the number of consecutive failures that ejects an endpoint
	Threshold int `json:"threshold" yaml:"threshold"`
	// EjectionDuration is how long an ejected endpoint stays OPEN before HALF_OPEN
	EjectionDuration time.Duration `json:"ejection_duration" yaml:"ejection_duration"`
	// MaxEjectionPercent bounds the share of a version's endpoints ejected at once
	MaxEjectionPercent int `json:"max_ejection_percent" yaml:"max_ejection_percent"`
}

// DefaultPolicy returns the policy used when a version configures none
func DefaultPolicy() Policy {
	return Policy{
		Threshold:          5,
		EjectionDuration:   30 * time.Second,
		MaxEjectionPercent: 50,
	}
}

// FailFast reports whether ejections under p bypass the guard
func (p Policy) FailFast() bool {
	return p.MaxEjectionPercent >= FailFastPercent
}

// Validate checks the policy and returns a ConfigError on violation
func (p Policy) Validate() error {
	if p.Threshold <= 0 {
		return errors.ConfigErrorf("circuit breaker threshold must be positive, got %d", p.Threshold)
	}
	if p.EjectionDuration <= 0 {
		return errors.ConfigErrorf("circuit breaker ejection duration must be positive, got %v", p.EjectionDuration)
	}
	if p.MaxEjectionPercent < 0 || p.MaxEjectionPercent > 100 {
		return errors.ConfigErrorf("max ejection percent must be within [0, 100], got %d", p.MaxEjectionPercent)
	}
	return nil
}

// MarshalJSON renders the ejection duration in time.Duration notation
func (p Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Threshold          int    `json:"threshold"`
		EjectionDuration   string `json:"ejection_duration"`
		MaxEjectionPercent int    `json:"max_ejection_percent"`
	}{p.Threshold, p.EjectionDuration.String(), p.MaxEjectionPercent})
}

func (p Policy) String() string {
	return fmt.Sprintf("threshold=%d ejection=%s max_ejection=%d%%", p.Threshold, p.EjectionDuration, p.MaxEjectionPercent)
}

// State represents the current state of an endpoint's circuit breaker
type State int

const (
	// StateClosed means the endpoint is serving
	StateClosed State = iota
	// StateOpen means the endpoint is ejected
	StateOpen
	// StateHalfOpen means the endpoint is on probation and admits one request
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Serving reports whether an endpoint in this state may receive traffic
func (s State) Serving() bool {
	return s == StateClosed || s == StateHalfOpen
}

// Ejected reports whether the state counts against the ejection budget
func (s State) Ejected() bool {
	return s == StateOpen || s == StateHalfOpen
}
