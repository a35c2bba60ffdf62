package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"traffic-router/internal/circuitbreaker"
	"traffic-router/internal/common/errors"
	"traffic-router/internal/common/validation"
	"traffic-router/internal/routing"
)

// Load-balancing policies accepted in a version's lb field
const (
	LBRoundRobin       = "round_robin"
	LBLeastConnections = "least_connections"
)

// Document is the routing document as written by operators. Durations are
// Go duration strings ("30s"). Zero values take the defaults listed on
// DefaultDispatch and pool.DefaultProbeSettings.
type Document struct {
	Rules    []RuleSpec             `yaml:"rules" json:"rules" validate:"dive"`
	Split    SplitSpec              `yaml:"split" json:"split"`
	Versions map[string]VersionSpec `yaml:"versions" json:"versions" validate:"required,min=1,dive"`
	Probe    ProbeSpec              `yaml:"probe,omitempty" json:"probe,omitempty"`
	Dispatch DispatchSpec           `yaml:"dispatch,omitempty" json:"dispatch,omitempty"`
}

// RuleSpec is one routing rule. Kind selects which of Header/Value and
// Prefix are used.
type RuleSpec struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Kind    string `yaml:"kind" json:"kind" validate:"required,oneof=header path default"`
	Header  string `yaml:"header,omitempty" json:"header,omitempty" validate:"omitempty,header_name"`
	Value   string `yaml:"value,omitempty" json:"value,omitempty"`
	Prefix  string `yaml:"prefix,omitempty" json:"prefix,omitempty" validate:"omitempty,path_prefix"`
	Version string `yaml:"version" json:"version" validate:"required"`
}

// SplitSpec is the weighted traffic split. DefaultVersion may be left empty
// when a default rule names the remainder version.
type SplitSpec struct {
	Weights        []routing.WeightedVersion `yaml:"weights" json:"weights" validate:"dive"`
	DefaultVersion string                    `yaml:"default_version,omitempty" json:"default_version,omitempty"`
}

// VersionSpec configures one backend version
type VersionSpec struct {
	LB             string         `yaml:"lb,omitempty" json:"lb,omitempty" validate:"omitempty,oneof=round_robin least_connections"`
	CircuitBreaker *PolicySpec    `yaml:"circuit_breaker,omitempty" json:"circuit_breaker,omitempty"`
	Endpoints      []EndpointSpec `yaml:"endpoints" json:"endpoints" validate:"dive"`
}

// PolicySpec is a circuit breaker policy. Unset fields take DefaultPolicy's values.
type PolicySpec struct {
	Threshold          int    `yaml:"threshold,omitempty" json:"threshold,omitempty" validate:"min=0"`
	EjectionDuration   string `yaml:"ejection_duration,omitempty" json:"ejection_duration,omitempty" validate:"omitempty,duration"`
	MaxEjectionPercent *int   `yaml:"max_ejection_percent,omitempty" json:"max_ejection_percent,omitempty" validate:"omitempty,min=0,max=100"`
}

// EndpointSpec is a statically configured endpoint
type EndpointSpec struct {
	ID      string `yaml:"id,omitempty" json:"id,omitempty"`
	Address string `yaml:"address" json:"address" validate:"required,hostname_port"`
}

// ProbeSpec configures health probing
type ProbeSpec struct {
	Interval   string `yaml:"interval,omitempty" json:"interval,omitempty" validate:"omitempty,duration"`
	Timeout    string `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,duration"`
	Path       string `yaml:"path,omitempty" json:"path,omitempty" validate:"omitempty,path_prefix"`
	EvictAfter int    `yaml:"evict_after,omitempty" json:"evict_after,omitempty" validate:"min=0"`
}

// DispatchSpec configures request forwarding
type DispatchSpec struct {
	MaxAttempts    int    `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty" validate:"min=0,max=10"`
	AttemptTimeout string `yaml:"attempt_timeout,omitempty" json:"attempt_timeout,omitempty" validate:"omitempty,duration"`
	Failover       bool   `yaml:"failover,omitempty" json:"failover,omitempty"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes,omitempty" json:"max_body_bytes,omitempty" validate:"min=0"`
	StickyHeader   string `yaml:"sticky_header,omitempty" json:"sticky_header,omitempty" validate:"omitempty,header_name"`
	StickyTTL      string `yaml:"sticky_ttl,omitempty" json:"sticky_ttl,omitempty" validate:"omitempty,duration"`
	HashHeader     string `yaml:"hash_header,omitempty" json:"hash_header,omitempty" validate:"omitempty,header_name"`
}

// ParseDocument decodes a YAML (or JSON) routing document and validates its
// structure. Unknown fields are rejected. Every failure is a ConfigError.
func ParseDocument(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.ConfigError("routing document is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && !stderrors.Is(err, io.EOF) {
		cfgErr := errors.ConfigError("routing document is not valid YAML")
		cfgErr.Cause = err
		return nil, cfgErr
	}

	if err := validation.ValidateStruct(&doc); err != nil {
		cfgErr := errors.ConfigErrorf("routing document failed validation: %v", err)
		cfgErr.Cause = err
		return nil, cfgErr
	}
	for i, r := range doc.Rules {
		if err := r.checkFields(); err != nil {
			return nil, errors.ConfigErrorf("rules[%d] %q: %v", i, r.Name, err)
		}
	}
	return &doc, nil
}

// checkFields rejects fields that belong to another rule kind
func (r RuleSpec) checkFields() error {
	var foreign []string
	if r.Kind != routing.KindHeader {
		if r.Header != "" {
			foreign = append(foreign, "header")
		}
		if r.Value != "" {
			foreign = append(foreign, "value")
		}
	}
	if r.Kind != routing.KindPath && r.Prefix != "" {
		foreign = append(foreign, "prefix")
	}
	if len(foreign) > 0 {
		return fmt.Errorf("%s rule must not set %s", r.Kind, strings.Join(foreign, ", "))
	}
	return nil
}

// LoadFile reads and parses the routing document at path
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing document: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Marshal renders the document as YAML
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// RoutingRules converts the rule specs to routing rules
func (d *Document) RoutingRules() []routing.Rule {
	rules := make([]routing.Rule, 0, len(d.Rules))
	for _, r := range d.Rules {
		switch r.Kind {
		case routing.KindHeader:
			rules = append(rules, routing.HeaderRule(r.Name, r.Header, r.Value, r.Version))
		case routing.KindPath:
			rules = append(rules, routing.PathRule(r.Name, r.Prefix, r.Version))
		case routing.KindDefault:
			rules = append(rules, routing.DefaultRule(r.Name, r.Version))
		default:
			rules = append(rules, routing.Rule{Name: r.Name, Version: r.Version})
		}
	}
	return rules
}

// Policy resolves the spec against DefaultPolicy
func (p *PolicySpec) Policy() (circuitbreaker.Policy, error) {
	policy := circuitbreaker.DefaultPolicy()
	if p == nil {
		return policy, nil
	}
	if p.Threshold > 0 {
		policy.Threshold = p.Threshold
	}
	if p.EjectionDuration != "" {
		d, err := parseDuration("circuit_breaker.ejection_duration", p.EjectionDuration)
		if err != nil {
			return policy, err
		}
		policy.EjectionDuration = d
	}
	if p.MaxEjectionPercent != nil {
		policy.MaxEjectionPercent = *p.MaxEjectionPercent
	}
	return policy, policy.Validate()
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		cfgErr := errors.ConfigErrorf("%s: invalid duration %q", field, value)
		cfgErr.Cause = err
		return 0, cfgErr
	}
	return d, nil
}
