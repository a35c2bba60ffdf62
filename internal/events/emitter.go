package events

import (
	"context"
	"sync"
	"time"

	"traffic-router/internal/common/logging"
	"traffic-router/internal/common/utils"
)

// SinkStats counts deliveries per sink
type SinkStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// Emitter forwards bus events to sinks on its own goroutine, so a slow or
// failing sink only ever costs dropped events, never dispatch latency.
type Emitter struct {
	sub         *Subscription
	sinks       []Sink
	retry       utils.RetryConfig
	sendTimeout time.Duration
	logger      logging.Logger

	mu    sync.Mutex
	stats map[string]*SinkStats
}

// EmitterOption configures an Emitter
type EmitterOption func(*Emitter)

// WithRetry sets the per-event retry policy
func WithRetry(cfg utils.RetryConfig) EmitterOption {
	return func(e *Emitter) { e.retry = cfg }
}

// WithSendTimeout bounds each delivery attempt
func WithSendTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.sendTimeout = d }
}

// WithEmitterLogger sets the emitter's logger
func WithEmitterLogger(l logging.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = l }
}

// NewEmitter subscribes to bus with the given buffer. Events published after
// this call are delivered once Run is called.
func NewEmitter(bus *Bus, buffer int, sinks []Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sub:   bus.Subscribe(buffer),
		sinks: sinks,
		retry: utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      500 * time.Millisecond,
			BackoffFactor: 2,
			JitterFactor:  0.1,
		},
		sendTimeout: 5 * time.Second,
		stats:       make(map[string]*SinkStats, len(sinks)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Component("events")
	}
	for _, s := range sinks {
		e.stats[s.Name()] = &SinkStats{}
	}
	return e
}

// Run delivers events until ctx is done or the bus is closed, then closes
// every sink
func (e *Emitter) Run(ctx context.Context) error {
	defer e.closeSinks()
	defer e.sub.Close()

	e.logger.Info("Event emitter started", logging.Int("sinks", len(e.sinks)))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Event emitter stopped")
			return nil
		case ev, ok := <-e.sub.C:
			if !ok {
				return nil
			}
			e.deliver(ctx, ev)
		}
	}
}

func (e *Emitter) deliver(ctx context.Context, ev Event) {
	for _, sink := range e.sinks {
		err := utils.RetryWithBackoff(ctx, e.retry, func() error {
			sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
			defer cancel()
			return sink.Send(sendCtx, ev)
		})

		e.mu.Lock()
		st := e.stats[sink.Name()]
		if err != nil {
			st.Failed++
		} else {
			st.Sent++
		}
		e.mu.Unlock()

		if err != nil {
			e.logger.Warn("Failed to deliver outcome event",
				logging.String("sink", sink.Name()),
				logging.String("request_id", ev.RequestID),
				logging.Err(err),
			)
		}
	}
}

func (e *Emitter) closeSinks() {
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil {
			e.logger.Warn("Failed to close event sink", logging.String("sink", sink.Name()), logging.Err(err))
		}
	}
}

// Stats returns delivery counts per sink
func (e *Emitter) Stats() map[string]SinkStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]SinkStats, len(e.stats))
	for name, st := range e.stats {
		out[name] = *st
	}
	return out
}
