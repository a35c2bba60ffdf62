package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"traffic-router/internal/circuitbreaker"
	"traffic-router/internal/common/errors"
	"traffic-router/internal/common/logging"
	"traffic-router/internal/common/utils"
)

// entry is the tracker's mutable record of one endpoint. Its fields are
// guarded by mu; the breaker is internally synchronized and is never called
// while mu is held.
type entry struct {
	mu        sync.Mutex
	endpoint  Endpoint
	breaker   *circuitbreaker.Breaker
	probation atomic.Bool
	expiry    *time.Timer
	cancel    context.CancelFunc
}

func (e *entry) view() Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endpoint
}

// Tracker owns endpoint health and circuit breaking. It implements
// ResultIngester and SnapshotReader.
//
// Lock order: publishMu, then mu, then an entry's mu. Breakers are only
// called with none of them held.
type Tracker struct {
	snapshot  atomic.Pointer[Snapshot]
	publishMu sync.Mutex

	mu        sync.RWMutex
	entries   map[string]*entry
	byVersion map[string][]*entry

	guard    *circuitbreaker.Guard
	prober   Prober
	settings func() ProbeSettings
	logger   logging.Logger

	runMu   sync.Mutex
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithProber replaces the HTTP prober
func WithProber(p Prober) TrackerOption {
	return func(t *Tracker) { t.prober = p }
}

// WithProbeSettings sets the function the probe loops read their settings
// from before every cycle
func WithProbeSettings(fn func() ProbeSettings) TrackerOption {
	return func(t *Tracker) { t.settings = fn }
}

// WithGuard shares an ejection guard with the tracker
func WithGuard(g *circuitbreaker.Guard) TrackerOption {
	return func(t *Tracker) { t.guard = g }
}

// WithTrackerLogger sets the tracker's logger
func WithTrackerLogger(l logging.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates an empty tracker
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		entries:   make(map[string]*entry),
		byVersion: make(map[string][]*entry),
		settings:  DefaultProbeSettings,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.Component("pool")
	}
	if t.guard == nil {
		t.guard = circuitbreaker.NewGuard(t.logger)
	}
	if t.prober == nil {
		t.prober = NewHTTPProber(nil)
	}
	t.snapshot.Store(emptySnapshot())
	return t
}

// Snapshot returns the current published pool
func (t *Tracker) Snapshot() *Snapshot {
	return t.snapshot.Load()
}

// Serving is shorthand for Snapshot().Serving(version)
func (t *Tracker) Serving(version string) []Endpoint {
	return t.Snapshot().Serving(version)
}

// GuardStats returns the ejection guard's per-version counts
func (t *Tracker) GuardStats() map[string]circuitbreaker.GuardStats {
	return t.guard.Stats()
}

// Register adds an endpoint bound to policy and returns its view. An empty
// ID is generated. When the tracker is running a probe loop starts at once.
func (t *Tracker) Register(ep Endpoint, policy circuitbreaker.Policy) (Endpoint, error) {
	ep.Version = strings.TrimSpace(ep.Version)
	ep.Address = strings.TrimSpace(ep.Address)
	if ep.Version == "" {
		return Endpoint{}, errors.ValidationError("endpoint version is required")
	}
	if ep.Address == "" {
		return Endpoint{}, errors.ValidationError("endpoint address is required")
	}
	if ep.ID == "" {
		ep.ID = utils.GenerateEndpointID(ep.Version)
	}
	if ep.Origin == "" {
		ep.Origin = OriginAPI
	}
	ep.Health = Healthy
	ep.Breaker = circuitbreaker.StateClosed
	ep.Policy = policy
	ep.ConsecutiveFailures = 0
	ep.EjectedUntil = time.Time{}
	ep.RegisteredAt = time.Now()

	t.mu.Lock()
	if _, exists := t.entries[ep.ID]; exists {
		t.mu.Unlock()
		return Endpoint{}, fmt.Errorf("%w: %s", ErrDuplicateEndpoint, ep.ID)
	}
	breaker, err := circuitbreaker.New(ep.ID, ep.Version, policy, t.guard, circuitbreaker.WithLogger(t.logger))
	if err != nil {
		t.mu.Unlock()
		return Endpoint{}, err
	}
	e := &entry{endpoint: ep, breaker: breaker}
	t.entries[ep.ID] = e
	t.byVersion[ep.Version] = append(t.byVersion[ep.Version], e)
	t.mu.Unlock()

	t.publish(ep.Version)
	t.startProbe(e)

	t.logger.Info("Endpoint registered",
		logging.String("endpoint", ep.ID),
		logging.String("version", ep.Version),
		logging.String("address", ep.Address),
		logging.String("origin", string(ep.Origin)),
		logging.String("policy", policy.String()),
	)
	return ep, nil
}

// Deregister removes an endpoint and stops its probe loop
func (t *Tracker) Deregister(id string) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	delete(t.entries, id)
	version := e.endpoint.Version
	peers := t.byVersion[version]
	for i, p := range peers {
		if p == e {
			peers = append(peers[:i:i], peers[i+1:]...)
			break
		}
	}
	if len(peers) == 0 {
		delete(t.byVersion, version)
	} else {
		t.byVersion[version] = peers
	}
	t.mu.Unlock()

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	if e.expiry != nil {
		e.expiry.Stop()
	}
	e.mu.Unlock()
	e.breaker.Detach()

	t.publish(version)
	t.logger.Info("Endpoint deregistered", logging.String("endpoint", id), logging.String("version", version))
	return nil
}

// Reconcile makes the config-origin endpoints match regs. Endpoints are
// matched by ID when one is given, otherwise by version and address. An
// ID-matched endpoint whose version or address changed is replaced.
// Endpoints registered through the API are never touched.
func (t *Tracker) Reconcile(regs []Registration) (added, removed int, err error) {
	key := func(ep Endpoint) string {
		if ep.ID != "" {
			return "id:" + ep.ID
		}
		return "addr:" + ep.Version + "|" + ep.Address
	}

	desired := make(map[string]Registration, len(regs))
	for _, r := range regs {
		desired[key(r.Endpoint)] = r
	}

	t.mu.RLock()
	current := make(map[string]Endpoint)
	for _, e := range t.entries {
		ep := e.view()
		if ep.Origin != OriginConfig {
			continue
		}
		if _, ok := desired["id:"+ep.ID]; ok {
			current["id:"+ep.ID] = ep
			continue
		}
		current["addr:"+ep.Version+"|"+ep.Address] = ep
	}
	t.mu.RUnlock()

	for k, ep := range current {
		if r, keep := desired[k]; keep {
			if strings.TrimSpace(r.Endpoint.Version) == ep.Version && strings.TrimSpace(r.Endpoint.Address) == ep.Address {
				continue
			}
			t.logger.Info("Endpoint moved",
				logging.String("endpoint", ep.ID),
				logging.String("from", ep.Version+"@"+ep.Address),
				logging.String("to", r.Endpoint.Version+"@"+r.Endpoint.Address),
			)
			delete(current, k)
		}
		if derr := t.Deregister(ep.ID); derr == nil {
			removed++
		}
	}

	var errs []string
	for k, r := range desired {
		if _, exists := current[k]; exists {
			continue
		}
		ep := r.Endpoint
		ep.Origin = OriginConfig
		if _, rerr := t.Register(ep, r.Policy); rerr != nil {
			errs = append(errs, rerr.Error())
			continue
		}
		added++
	}

	if len(errs) > 0 {
		err = errors.ConfigErrorf("endpoint reconciliation: %s", strings.Join(errs, "; "))
	}
	return added, removed, err
}

// Ingest applies one outcome to the endpoint's counters and breaker
func (t *Tracker) Ingest(r Result) {
	e := t.lookup(r.EndpointID)
	if e == nil || r.Abandoned {
		return
	}
	e.breaker.Record(r.Success)
	t.apply(e, &r)
}

// Acquire admits a request attempt against endpoint id. A HALF_OPEN endpoint
// admits one attempt at a time.
func (t *Tracker) Acquire(id string) (func(Result), error) {
	e := t.lookup(id)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}

	var held bool
	switch e.breaker.State() {
	case circuitbreaker.StateOpen:
		return nil, circuitbreaker.ErrOpen
	case circuitbreaker.StateHalfOpen:
		if !e.probation.CompareAndSwap(false, true) {
			return nil, circuitbreaker.ErrProbationBusy
		}
		held = true
	}

	var once sync.Once
	return func(r Result) {
		once.Do(func() {
			if held {
				e.probation.Store(false)
			}
			r.EndpointID = id
			t.Ingest(r)
		})
	}, nil
}

func (t *Tracker) lookup(id string) *entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[id]
}

// apply refreshes the endpoint record from its breaker and r (which may be
// nil for a pure state refresh) and publishes when the view changed.
func (t *Tracker) apply(e *entry, r *Result) {
	state := e.breaker.State()
	until := e.breaker.EjectedUntil()

	e.mu.Lock()
	before := e.endpoint
	ep := &e.endpoint

	if r != nil {
		if r.Success {
			ep.ConsecutiveFailures = 0
		} else {
			ep.ConsecutiveFailures++
		}
		if r.Source == SourceProbe {
			ep.LastProbe = time.Now()
		}
	}
	ep.Breaker = state
	ep.EjectedUntil = until
	switch {
	case state == circuitbreaker.StateOpen:
		ep.Health = Ejected
	case ep.ConsecutiveFailures > 0:
		ep.Health = Unhealthy
	default:
		ep.Health = Healthy
	}

	if state == circuitbreaker.StateOpen && !until.IsZero() && !until.Equal(before.EjectedUntil) {
		t.scheduleExpiry(e, until)
	}

	changed := before.Breaker != ep.Breaker ||
		before.Health != ep.Health ||
		before.ConsecutiveFailures != ep.ConsecutiveFailures ||
		(r != nil && r.Source == SourceProbe)
	version := ep.Version
	e.mu.Unlock()

	if before.Breaker != state {
		t.logger.Info("Endpoint state changed",
			logging.String("endpoint", before.ID),
			logging.String("version", version),
			logging.String("from", before.Breaker.String()),
			logging.String("to", state.String()),
		)
	}
	if changed {
		t.publish(version)
	}
}

// scheduleExpiry refreshes the endpoint once its ejection has expired, so it
// enters HALF_OPEN and becomes eligible for traffic. Caller holds e.mu.
func (t *Tracker) scheduleExpiry(e *entry, until time.Time) {
	if e.expiry != nil {
		e.expiry.Stop()
	}
	id := e.endpoint.ID
	e.expiry = time.AfterFunc(time.Until(until)+time.Millisecond, func() {
		if t.lookup(id) != e {
			return
		}
		t.apply(e, nil)
	})
}

// publish rebuilds version's endpoint list and swaps in a new snapshot
func (t *Tracker) publish(version string) {
	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	t.mu.RLock()
	peers := t.byVersion[version]
	endpoints := make([]Endpoint, 0, len(peers))
	for _, e := range peers {
		endpoints = append(endpoints, e.view())
	}
	t.mu.RUnlock()

	t.snapshot.Store(t.snapshot.Load().with(version, endpoints))
}

// Start runs a probe loop for every registered endpoint until Stop is
// called or ctx is done
func (t *Tracker) Start(ctx context.Context) {
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return
	}
	t.ctx, t.stop = context.WithCancel(ctx)
	t.running = true
	t.runMu.Unlock()

	t.mu.RLock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	for _, e := range entries {
		t.startProbe(e)
	}
	t.logger.Info("Pool tracker started", logging.Int("endpoints", len(entries)))
}

// Stop cancels every probe loop and waits for them to exit
func (t *Tracker) Stop() {
	t.runMu.Lock()
	if !t.running {
		t.runMu.Unlock()
		return
	}
	t.running = false
	t.stop()
	t.runMu.Unlock()

	t.wg.Wait()

	t.mu.RLock()
	for _, e := range t.entries {
		e.mu.Lock()
		e.cancel = nil
		if e.expiry != nil {
			e.expiry.Stop()
		}
		e.mu.Unlock()
	}
	t.mu.RUnlock()
	t.logger.Info("Pool tracker stopped")
}

func (t *Tracker) startProbe(e *entry) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if !t.running {
		return
	}

	ctx, cancel := context.WithCancel(t.ctx)
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		cancel()
		return
	}
	e.cancel = cancel
	e.mu.Unlock()

	t.wg.Add(1)
	go t.probeLoop(ctx, e)
}

func (t *Tracker) probeLoop(ctx context.Context, e *entry) {
	defer t.wg.Done()

	for {
		settings := t.settings()
		t.probeOnce(ctx, e, settings)

		timer := time.NewTimer(settings.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *Tracker) probeOnce(ctx context.Context, e *entry, settings ProbeSettings) {
	if ctx.Err() != nil {
		return
	}
	// Probes of an ejected endpoint are skipped until the ejection expires
	if e.breaker.State() == circuitbreaker.StateOpen {
		return
	}

	ep := e.view()
	probeCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
	start := time.Now()
	err := t.prober.Probe(probeCtx, ep, settings.Path)
	cancel()

	if ctx.Err() != nil {
		return
	}

	if err != nil {
		t.logger.Warn("Health probe failed",
			logging.String("endpoint", ep.ID),
			logging.String("address", ep.Address),
			logging.Err(err),
		)
	}
	t.Ingest(Result{
		EndpointID: ep.ID,
		Success:    err == nil,
		Source:     SourceProbe,
		Latency:    time.Since(start),
		Err:        err,
	})

	if err != nil && settings.EvictAfter > 0 {
		if failures := e.view().ConsecutiveFailures; failures >= settings.EvictAfter {
			t.logger.Warn("Evicting permanently unhealthy endpoint",
				logging.String("endpoint", ep.ID),
				logging.Int("consecutive_failures", failures),
			)
			_ = t.Deregister(ep.ID)
		}
	}
}
