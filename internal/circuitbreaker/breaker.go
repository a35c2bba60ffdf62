package circuitbreaker

import (
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"traffic-router/internal/common/logging"
)

var (
	// ErrOpen is returned by Allow while the endpoint is ejected
	ErrOpen = gobreaker.ErrOpenState
	// ErrProbationBusy is returned by Allow while a HALF_OPEN endpoint already
	// has its one request in flight
	ErrProbationBusy = gobreaker.ErrTooManyRequests
)

// Transition describes a breaker state change
type Transition struct {
	Endpoint string
	Version  string
	From     State
	To       State
	At       time.Time
}

// Counts mirrors the breaker's request counters
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// Breaker is the circuit breaker of a single endpoint
type Breaker struct {
	id      string
	version string
	policy  Policy
	guard   *Guard
	logger  logging.Logger

	cb           *gobreaker.TwoStepCircuitBreaker
	ejectedUntil atomic.Int64
	listener     func(Transition)
}

// Option configures a Breaker
type Option func(*Breaker)

// WithLogger sets the breaker's logger
func WithLogger(logger logging.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithListener registers fn to be told about state changes. fn runs while
// the breaker's lock is held and must not call back into the breaker.
func WithListener(fn func(Transition)) Option {
	return func(b *Breaker) {
		b.listener = fn
	}
}

// New creates the breaker of endpoint id and registers it with guard.
// A nil guard puts no bound on ejections.
func New(id, version string, policy Policy, guard *Guard, opts ...Option) (*Breaker, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	b := &Breaker{
		id:      id,
		version: version,
		policy:  policy,
		guard:   guard,
		logger:  logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithFields(
		logging.String("endpoint", id),
		logging.String("version", version),
	)

	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Timeout:     policy.EjectionDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures < uint32(policy.Threshold) {
				return false
			}
			return b.reserve()
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.onStateChange(fromGoBreaker(from), fromGoBreaker(to))
		},
	})

	if guard != nil {
		guard.Register(version, id)
	}
	return b, nil
}

func (b *Breaker) reserve() bool {
	if b.guard == nil {
		return true
	}
	return b.guard.Reserve(b.version, b.id, b.policy)
}

func (b *Breaker) onStateChange(from, to State) {
	now := time.Now()
	switch to {
	case StateOpen:
		b.ejectedUntil.Store(now.Add(b.policy.EjectionDuration).UnixNano())
		b.logger.Warn("Endpoint ejected",
			logging.String("from", from.String()),
			logging.Duration("ejection_duration", b.policy.EjectionDuration),
		)
	case StateHalfOpen:
		b.logger.Info("Endpoint on probation")
	case StateClosed:
		b.ejectedUntil.Store(0)
		if b.guard != nil {
			b.guard.Release(b.version, b.id)
		}
		b.logger.Info("Endpoint restored", logging.String("from", from.String()))
	}

	if b.listener != nil {
		b.listener(Transition{Endpoint: b.id, Version: b.version, From: from, To: to, At: now})
	}
}

// Allow admits one outcome. The caller reports it through the returned
// function. It fails with ErrOpen while ejected and ErrProbationBusy while
// the probation request is in flight.
func (b *Breaker) Allow() (func(success bool), error) {
	return b.cb.Allow()
}

// Record feeds a single outcome to the breaker and returns the resulting
// state. Outcomes the breaker does not admit are dropped.
func (b *Breaker) Record(success bool) State {
	done, err := b.cb.Allow()
	if err == nil {
		done(success)
	}
	return b.State()
}

// State returns the current state. An OPEN breaker whose ejection has
// expired moves to HALF_OPEN here.
func (b *Breaker) State() State {
	return fromGoBreaker(b.cb.State())
}

// Counts returns the breaker's counters for the current generation
func (b *Breaker) Counts() Counts {
	c := b.cb.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// EjectedUntil returns when the current ejection expires, or the zero time
// when the endpoint is not OPEN
func (b *Breaker) EjectedUntil() time.Time {
	if b.State() != StateOpen {
		return time.Time{}
	}
	nanos := b.ejectedUntil.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Policy returns the policy bound at registration
func (b *Breaker) Policy() Policy {
	return b.policy
}

// ID returns the endpoint ID the breaker guards
func (b *Breaker) ID() string {
	return b.id
}

// Detach removes the endpoint from the guard's accounting
func (b *Breaker) Detach() {
	if b.guard != nil {
		b.guard.Deregister(b.version, b.id)
	}
}

func fromGoBreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
