package circuitbreaker

import (
	"sync"

	"traffic-router/internal/common/logging"
)

// Guard enforces the max-ejection bound across the endpoints of each version.
// It tracks the registered endpoints per version and the ones currently
// counted as ejected (OPEN or HALF_OPEN).
//
// Breakers call into the guard while holding their own lock; the guard never
// calls back into a breaker.
type Guard struct {
	mu         sync.Mutex
	registered map[string]map[string]struct{}
	ejected    map[string]map[string]struct{}
	logger     logging.Logger
}

// GuardStats summarizes one version of the pool
type GuardStats struct {
	Registered int `json:"registered"`
	Ejected    int `json:"ejected"`
}

// NewGuard creates an empty guard
func NewGuard(logger logging.Logger) *Guard {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Guard{
		registered: make(map[string]map[string]struct{}),
		ejected:    make(map[string]map[string]struct{}),
		logger:     logger,
	}
}

// Register adds an endpoint to its version's pool
func (g *Guard) Register(version, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	add(g.registered, version, id)
}

// Deregister removes an endpoint and any ejection it holds
func (g *Guard) Deregister(version, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	remove(g.registered, version, id)
	remove(g.ejected, version, id)
}

// Reserve records id as ejected if doing so keeps the version within the
// policy's max-ejection bound. Fail-fast policies always succeed. A refused
// reservation is logged and the caller keeps the endpoint CLOSED.
func (g *Guard) Reserve(version, id string, policy Policy) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, already := g.ejected[version][id]; already {
		return true
	}
	if policy.FailFast() {
		add(g.ejected, version, id)
		return true
	}

	registered := len(g.registered[version])
	ejected := len(g.ejected[version])
	if (ejected+1)*100 > registered*policy.MaxEjectionPercent {
		g.logger.Warn("Ejection suppressed by max ejection percent",
			logging.String("version", version),
			logging.String("endpoint", id),
			logging.Int("registered", registered),
			logging.Int("ejected", ejected),
			logging.Int("max_ejection_percent", policy.MaxEjectionPercent),
		)
		return false
	}

	add(g.ejected, version, id)
	return true
}

// Release clears the ejection held by id
func (g *Guard) Release(version, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	remove(g.ejected, version, id)
}

// Stats returns the registered and ejected counts per version
func (g *Guard) Stats() map[string]GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]GuardStats, len(g.registered))
	for version, ids := range g.registered {
		out[version] = GuardStats{Registered: len(ids), Ejected: len(g.ejected[version])}
	}
	return out
}

func add(m map[string]map[string]struct{}, version, id string) {
	set, ok := m[version]
	if !ok {
		set = make(map[string]struct{})
		m[version] = set
	}
	set[id] = struct{}{}
}

func remove(m map[string]map[string]struct{}, version, id string) {
	set, ok := m[version]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, version)
	}
}
