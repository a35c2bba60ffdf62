package dispatch

import (
	"sync"
	"sync/atomic"

	"traffic-router/internal/config"
	"traffic-router/internal/pool"
)

// Balancer picks an endpoint among a version's serving endpoints. It keeps
// a round-robin cursor per version and an in-flight count per endpoint.
type Balancer struct {
	mu       sync.RWMutex
	cursors  map[string]*atomic.Uint64
	inflight map[string]*atomic.Int64
}

// NewBalancer creates an empty balancer
func NewBalancer() *Balancer {
	return &Balancer{
		cursors:  make(map[string]*atomic.Uint64),
		inflight: make(map[string]*atomic.Int64),
	}
}

// Pick returns an endpoint of candidates not in exclude using policy
// (round_robin or least_connections; anything else is treated as
// round_robin). It reports false when every candidate is excluded.
func (b *Balancer) Pick(policy, version string, candidates []pool.Endpoint, exclude map[string]struct{}) (pool.Endpoint, bool) {
	eligible := candidates
	if len(exclude) > 0 {
		eligible = make([]pool.Endpoint, 0, len(candidates))
		for _, ep := range candidates {
			if _, skip := exclude[ep.ID]; !skip {
				eligible = append(eligible, ep)
			}
		}
	}
	if len(eligible) == 0 {
		return pool.Endpoint{}, false
	}

	if policy == config.LBLeastConnections {
		return b.leastConnections(eligible), true
	}
	return b.roundRobin(version, eligible), true
}

func (b *Balancer) roundRobin(version string, eligible []pool.Endpoint) pool.Endpoint {
	cursor := b.cursor(version)
	n := cursor.Add(1) - 1
	return eligible[n%uint64(len(eligible))]
}

// leastConnections picks the endpoint with the fewest in-flight attempts;
// ties go to the first in snapshot order
func (b *Balancer) leastConnections(eligible []pool.Endpoint) pool.Endpoint {
	best := eligible[0]
	bestLoad := b.InFlight(best.ID)
	for _, ep := range eligible[1:] {
		if load := b.InFlight(ep.ID); load < bestLoad {
			best, bestLoad = ep, load
		}
	}
	return best
}

// Begin counts an attempt against id and returns the function ending it
func (b *Balancer) Begin(id string) func() {
	counter := b.counter(id)
	counter.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { counter.Add(-1) })
	}
}

// InFlight returns the number of attempts in flight against id
func (b *Balancer) InFlight(id string) int64 {
	b.mu.RLock()
	c, ok := b.inflight[id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// Forget drops the counters of endpoints that are no longer in the pool
func (b *Balancer) Forget(snapshot *pool.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.inflight {
		if _, ok := snapshot.Lookup(id); !ok && c.Load() == 0 {
			delete(b.inflight, id)
		}
	}
}

func (b *Balancer) cursor(version string) *atomic.Uint64 {
	b.mu.RLock()
	c, ok := b.cursors[version]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.cursors[version]; !ok {
		c = new(atomic.Uint64)
		b.cursors[version] = c
	}
	return c
}

func (b *Balancer) counter(id string) *atomic.Int64 {
	b.mu.RLock()
	c, ok := b.inflight[id]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.inflight[id]; !ok {
		c = new(atomic.Int64)
		b.inflight[id] = c
	}
	return c
}
