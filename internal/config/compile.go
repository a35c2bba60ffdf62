package config

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"traffic-router/internal/circuitbreaker"
	"traffic-router/internal/common/errors"
	"traffic-router/internal/pool"
	"traffic-router/internal/routing"
)

// DispatchSettings are the compiled dispatch section
type DispatchSettings struct {
	MaxAttempts    int           `json:"max_attempts"`
	AttemptTimeout time.Duration `json:"attempt_timeout"`
	Failover       bool          `json:"failover"`
	MaxBodyBytes   int64         `json:"max_body_bytes"`
	StickyHeader   string        `json:"sticky_header,omitempty"`
	StickyTTL      time.Duration `json:"sticky_ttl,omitempty"`
	HashHeader     string        `json:"hash_header,omitempty"`
}

// DefaultDispatch returns the dispatch settings used for unset fields
func DefaultDispatch() DispatchSettings {
	return DispatchSettings{
		MaxAttempts:    3,
		AttemptTimeout: 5 * time.Second,
		MaxBodyBytes:   10 << 20,
		StickyTTL:      30 * time.Minute,
	}
}

// VersionSettings are the compiled settings of one backend version
type VersionSettings struct {
	LB        string                `json:"lb"`
	Policy    circuitbreaker.Policy `json:"policy"`
	Endpoints []pool.Registration   `json:"-"`
}

// Compiled is a routing document turned into ready-to-use components
type Compiled struct {
	Matcher  *routing.Matcher
	Selector *routing.Selector
	Versions map[string]VersionSettings
	Probe    pool.ProbeSettings
	Dispatch DispatchSettings
}

// Compile validates the document's semantics and builds the matcher,
// selector and per-version settings. source feeds the selector's random
// draws; nil uses a fresh random source. All failures are ConfigErrors.
func Compile(doc *Document, source routing.DrawSource) (*Compiled, error) {
	if doc == nil {
		return nil, errors.ConfigError("routing document is missing")
	}

	matcher, err := routing.NewMatcher(doc.RoutingRules())
	if err != nil {
		return nil, err
	}

	split := routing.TrafficSplit{
		Versions:       doc.Split.Weights,
		DefaultVersion: strings.TrimSpace(doc.Split.DefaultVersion),
	}
	if ruleDefault, ok := matcher.DefaultVersion(); ok {
		switch {
		case split.DefaultVersion == "":
			split.DefaultVersion = ruleDefault
		case split.DefaultVersion != ruleDefault:
			return nil, errors.ConfigErrorf("split default version %q conflicts with default rule version %q", split.DefaultVersion, ruleDefault)
		}
	}
	selector, err := routing.NewSelector(split, source)
	if err != nil {
		return nil, err
	}

	referenced := append(matcher.Versions(), split.VersionOrder()...)
	for _, v := range lo.Uniq(referenced) {
		if _, ok := doc.Versions[v]; !ok {
			return nil, errors.ConfigErrorf("version %q is routed to but not declared under versions", v)
		}
	}

	versions, err := compileVersions(doc.Versions)
	if err != nil {
		return nil, err
	}

	probe, err := compileProbe(doc.Probe)
	if err != nil {
		return nil, err
	}

	dispatch, err := compileDispatch(doc.Dispatch)
	if err != nil {
		return nil, err
	}

	return &Compiled{
		Matcher:  matcher,
		Selector: selector,
		Versions: versions,
		Probe:    probe,
		Dispatch: dispatch,
	}, nil
}

func compileVersions(specs map[string]VersionSpec) (map[string]VersionSettings, error) {
	out := make(map[string]VersionSettings, len(specs))
	ids := make(map[string]string)
	addresses := make(map[string]string)

	for name, spec := range specs {
		if strings.TrimSpace(name) == "" {
			return nil, errors.ConfigError("version name must not be empty")
		}
		policy, err := spec.CircuitBreaker.Policy()
		if err != nil {
			return nil, errors.ConfigErrorf("version %q: %v", name, err)
		}
		lb := spec.LB
		if lb == "" {
			lb = LBRoundRobin
		}

		regs := make([]pool.Registration, 0, len(spec.Endpoints))
		for _, ep := range spec.Endpoints {
			if ep.ID != "" {
				if other, dup := ids[ep.ID]; dup {
					return nil, errors.ConfigErrorf("endpoint id %q is used by versions %q and %q", ep.ID, other, name)
				}
				ids[ep.ID] = name
			}
			key := name + "|" + ep.Address
			if _, dup := addresses[key]; dup {
				return nil, errors.ConfigErrorf("version %q lists endpoint %s twice", name, ep.Address)
			}
			addresses[key] = name

			regs = append(regs, pool.Registration{
				Endpoint: pool.Endpoint{
					ID:      ep.ID,
					Version: name,
					Address: ep.Address,
					Origin:  pool.OriginConfig,
				},
				Policy: policy,
			})
		}

		out[name] = VersionSettings{LB: lb, Policy: policy, Endpoints: regs}
	}
	return out, nil
}

func compileProbe(spec ProbeSpec) (pool.ProbeSettings, error) {
	probe := pool.DefaultProbeSettings()
	if spec.Interval != "" {
		d, err := parseDuration("probe.interval", spec.Interval)
		if err != nil {
			return probe, err
		}
		probe.Interval = d
	}
	if spec.Timeout != "" {
		d, err := parseDuration("probe.timeout", spec.Timeout)
		if err != nil {
			return probe, err
		}
		probe.Timeout = d
	}
	if spec.Path != "" {
		probe.Path = spec.Path
	}
	probe.EvictAfter = spec.EvictAfter

	if probe.Interval <= 0 {
		return probe, errors.ConfigError("probe.interval must be positive")
	}
	if probe.Timeout <= 0 || probe.Timeout > probe.Interval {
		return probe, errors.ConfigErrorf("probe.timeout must be positive and at most probe.interval (%s)", probe.Interval)
	}
	return probe, nil
}

func compileDispatch(spec DispatchSpec) (DispatchSettings, error) {
	d := DefaultDispatch()
	if spec.MaxAttempts > 0 {
		d.MaxAttempts = spec.MaxAttempts
	}
	if spec.AttemptTimeout != "" {
		v, err := parseDuration("dispatch.attempt_timeout", spec.AttemptTimeout)
		if err != nil {
			return d, err
		}
		d.AttemptTimeout = v
	}
	if spec.MaxBodyBytes > 0 {
		d.MaxBodyBytes = spec.MaxBodyBytes
	}
	if spec.StickyTTL != "" {
		v, err := parseDuration("dispatch.sticky_ttl", spec.StickyTTL)
		if err != nil {
			return d, err
		}
		d.StickyTTL = v
	}
	d.Failover = spec.Failover
	d.StickyHeader = strings.TrimSpace(spec.StickyHeader)
	d.HashHeader = strings.TrimSpace(spec.HashHeader)

	if d.AttemptTimeout <= 0 {
		return d, errors.ConfigError("dispatch.attempt_timeout must be positive")
	}
	if d.StickyHeader != "" && d.StickyTTL <= 0 {
		return d, errors.ConfigError("dispatch.sticky_ttl must be positive when sticky_header is set")
	}
	return d, nil
}

// Registrations returns every statically configured endpoint, ordered by
// version name
func (c *Compiled) Registrations() []pool.Registration {
	names := lo.Keys(c.Versions)
	sort.Strings(names)
	var out []pool.Registration
	for _, name := range names {
		out = append(out, c.Versions[name].Endpoints...)
	}
	return out
}

// VersionSettings returns the settings of version, falling back to round robin and
// the default policy for versions the document does not declare
func (c *Compiled) VersionSettings(name string) VersionSettings {
	if v, ok := c.Versions[name]; ok {
		return v
	}
	return VersionSettings{LB: LBRoundRobin, Policy: circuitbreaker.DefaultPolicy()}
}

// FailoverOrder lists the versions tried after primary when failover is on:
// the split's versions in configured order, the default version last
func (c *Compiled) FailoverOrder(primary string) []string {
	return lo.Without(c.Selector.Split().VersionOrder(), primary)
}
