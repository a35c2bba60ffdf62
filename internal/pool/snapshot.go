package pool

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// Snapshot is an immutable view of the pool. A new snapshot is published on
// every change; readers never observe a partially applied update.
type Snapshot struct {
	Generation  uint64                `json:"generation"`
	PublishedAt time.Time             `json:"published_at"`
	Versions    map[string][]Endpoint `json:"versions"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{Versions: map[string][]Endpoint{}, PublishedAt: time.Now()}
}

// Endpoints returns every registered endpoint of version
func (s *Snapshot) Endpoints(version string) []Endpoint {
	if s == nil {
		return nil
	}
	return s.Versions[version]
}

// Serving returns the endpoints of version whose breaker is CLOSED or HALF_OPEN
func (s *Snapshot) Serving(version string) []Endpoint {
	return lo.Filter(s.Endpoints(version), func(e Endpoint, _ int) bool {
		return e.Serving()
	})
}

// Lookup finds an endpoint by ID
func (s *Snapshot) Lookup(id string) (Endpoint, bool) {
	if s == nil {
		return Endpoint{}, false
	}
	for _, endpoints := range s.Versions {
		for _, e := range endpoints {
			if e.ID == id {
				return e, true
			}
		}
	}
	return Endpoint{}, false
}

// VersionNames returns the versions with at least one registered endpoint, sorted
func (s *Snapshot) VersionNames() []string {
	if s == nil {
		return nil
	}
	names := lo.Keys(s.Versions)
	sort.Strings(names)
	return names
}

// Size returns the number of registered endpoints
func (s *Snapshot) Size() int {
	if s == nil {
		return 0
	}
	return lo.SumBy(lo.Values(s.Versions), func(e []Endpoint) int { return len(e) })
}

// with returns a copy of s in which version holds endpoints. Other versions
// share their slices with s.
func (s *Snapshot) with(version string, endpoints []Endpoint) *Snapshot {
	next := &Snapshot{
		Generation:  s.Generation + 1,
		PublishedAt: time.Now(),
		Versions:    make(map[string][]Endpoint, len(s.Versions)+1),
	}
	for v, eps := range s.Versions {
		next.Versions[v] = eps
	}
	if len(endpoints) == 0 {
		delete(next.Versions, version)
	} else {
		next.Versions[version] = endpoints
	}
	return next
}
