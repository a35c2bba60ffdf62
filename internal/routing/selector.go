package routing

import (
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"
)

// DrawRange is the exclusive upper bound of a selection draw
const DrawRange = 100

// WeightedVersion is one entry of a traffic split
type WeightedVersion struct {
	Version string `json:"version" yaml:"version"`
	Weight  int    `json:"weight" yaml:"weight"`
}

// TrafficSplit distributes unmatched requests across versions by percentage.
// Weights are walked in the order listed.
type TrafficSplit struct {
	Versions       []WeightedVersion `json:"versions"`
	DefaultVersion string            `json:"default_version,omitempty"`
}

// Total returns the sum of all weights
func (s TrafficSplit) Total() int {
	total := 0
	for _, v := range s.Versions {
		total += v.Weight
	}
	return total
}

// Validate checks the split's invariants and returns a ConfigError on violation
func (s TrafficSplit) Validate() error {
	seen := make(map[string]struct{}, len(s.Versions))
	for _, v := range s.Versions {
		if strings.TrimSpace(v.Version) == "" {
			return configError(ErrInvalidRule, "traffic split entry without a version")
		}
		if _, dup := seen[v.Version]; dup {
			return configError(ErrDuplicateVersion, "version %q listed twice in traffic split", v.Version)
		}
		seen[v.Version] = struct{}{}
		if v.Weight < 0 {
			return configError(ErrNegativeWeight, "version %q has negative weight %d", v.Version, v.Weight)
		}
	}

	total := s.Total()
	if total > DrawRange {
		return configError(ErrWeightsExceed100, "traffic split weights sum to %d", total)
	}
	if total < DrawRange && strings.TrimSpace(s.DefaultVersion) == "" {
		return configError(ErrMissingDefaultVersion, "traffic split weights sum to %d and no default version is set", total)
	}
	return nil
}

// VersionOrder returns the split's versions in walk order followed by the
// default version when it is not already listed.
func (s TrafficSplit) VersionOrder() []string {
	out := make([]string, 0, len(s.Versions)+1)
	seen := make(map[string]struct{}, len(s.Versions)+1)
	for _, v := range s.Versions {
		out = append(out, v.Version)
		seen[v.Version] = struct{}{}
	}
	if s.DefaultVersion != "" {
		if _, ok := seen[s.DefaultVersion]; !ok {
			out = append(out, s.DefaultVersion)
		}
	}
	return out
}

// DrawSource produces uniform draws in [0, DrawRange)
type DrawSource interface {
	Draw() int
}

// DrawFunc adapts a function to DrawSource
type DrawFunc func() int

// Draw calls f
func (f DrawFunc) Draw() int { return f() }

// RandomSource draws from a pseudo-random generator. Safe for concurrent use.
type RandomSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource returns a randomly seeded source
func NewRandomSource() *RandomSource {
	return &RandomSource{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededSource returns a reproducible source
func NewSeededSource(seed uint64) *RandomSource {
	return &RandomSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Draw returns a value in [0, DrawRange)
func (r *RandomSource) Draw() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(DrawRange)
}

// HashDraw maps key onto [0, DrawRange) with FNV-1a, so the same key always
// lands on the same version for a given split.
func HashDraw(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % DrawRange)
}

// Selector performs cumulative-weight selection over a TrafficSplit
type Selector struct {
	split      TrafficSplit
	cumulative []int
	source     DrawSource
}

// NewSelector validates split and builds a Selector drawing from source.
// A nil source uses NewRandomSource.
func NewSelector(split TrafficSplit, source DrawSource) (*Selector, error) {
	if err := split.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		source = NewRandomSource()
	}

	cumulative := make([]int, len(split.Versions))
	running := 0
	for i, v := range split.Versions {
		running += v.Weight
		cumulative[i] = running
	}

	return &Selector{
		split:      split,
		cumulative: cumulative,
		source:     source,
	}, nil
}

// Select draws from the selector's source and returns the chosen version
func (s *Selector) Select() string {
	return s.SelectDraw(s.source.Draw())
}

// SelectDraw returns the first version whose cumulative weight exceeds draw.
// Draws beyond the total weight go to the default version. Out-of-range draws
// are folded into [0, DrawRange).
func (s *Selector) SelectDraw(draw int) string {
	draw %= DrawRange
	if draw < 0 {
		draw += DrawRange
	}

	for i, bound := range s.cumulative {
		if draw < bound {
			return s.split.Versions[i].Version
		}
	}
	return s.split.DefaultVersion
}

// Split returns the traffic split the selector was built from
func (s *Selector) Split() TrafficSplit {
	return s.split
}
