package routing

import (
	"net/http"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Match is the outcome of a successful rule evaluation
type Match struct {
	Rule    string `json:"rule"`
	Kind    string `json:"kind"`
	Version string `json:"version"`
}

type headerRule struct {
	name    string
	header  string // canonical MIME header key
	value   string
	version string
}

type pathRule struct {
	name    string
	prefix  string
	version string
}

// Matcher evaluates routing rules. It is immutable and safe for concurrent use.
type Matcher struct {
	rules          []Rule
	headers        []headerRule
	paths          []pathRule // longest prefix first
	defaultRule    string
	defaultVersion string
}

// NewMatcher validates rules and compiles them into a Matcher.
// Invalid, duplicated or conflicting rules return a ConfigError.
func NewMatcher(rules []Rule) (*Matcher, error) {
	m := &Matcher{rules: append([]Rule(nil), rules...)}

	names := make(map[string]struct{}, len(rules))
	headerKeys := make(map[string]string)
	prefixes := make(map[string]string)

	for _, rule := range rules {
		if err := validateRule(rule); err != nil {
			return nil, err
		}
		if _, dup := names[rule.Name]; dup {
			return nil, configError(ErrDuplicateRule, "rule %q is defined twice", rule.Name)
		}
		names[rule.Name] = struct{}{}

		switch p := rule.Predicate.(type) {
		case HeaderEquals:
			header := http.CanonicalHeaderKey(strings.TrimSpace(p.Name))
			value := strings.TrimSpace(p.Value)
			key := header + "\x00" + strings.ToLower(value)
			if other, dup := headerKeys[key]; dup {
				return nil, configError(ErrDuplicateRule, "rules %q and %q both match header %s=%s", other, rule.Name, header, value)
			}
			headerKeys[key] = rule.Name
			m.headers = append(m.headers, headerRule{name: rule.Name, header: header, value: value, version: rule.Version})
		case PathPrefix:
			if other, dup := prefixes[p.Prefix]; dup {
				return nil, configError(ErrDuplicateRule, "rules %q and %q both match path prefix %s", other, rule.Name, p.Prefix)
			}
			prefixes[p.Prefix] = rule.Name
			m.paths = append(m.paths, pathRule{name: rule.Name, prefix: p.Prefix, version: rule.Version})
		case Default:
			if m.defaultRule != "" {
				return nil, configError(ErrMultipleDefaults, "rules %q and %q are both default rules", m.defaultRule, rule.Name)
			}
			m.defaultRule = rule.Name
			m.defaultVersion = rule.Version
		}
	}

	// Prefixes are unique, so the order is total and independent of input order
	sort.Slice(m.paths, func(i, j int) bool {
		if len(m.paths[i].prefix) != len(m.paths[j].prefix) {
			return len(m.paths[i].prefix) > len(m.paths[j].prefix)
		}
		return m.paths[i].prefix < m.paths[j].prefix
	})

	return m, nil
}

// Match returns the first rule satisfied by req: header rules first, then
// the longest matching path prefix. It reports false when no rule matches;
// the caller then falls back to the traffic split.
func (m *Matcher) Match(req Request) (Match, bool) {
	for _, h := range m.headers {
		for _, v := range req.Header.Values(h.header) {
			if strings.EqualFold(strings.TrimSpace(v), h.value) {
				return Match{Rule: h.name, Kind: KindHeader, Version: h.version}, true
			}
		}
	}

	for _, p := range m.paths {
		if strings.HasPrefix(req.Path, p.prefix) {
			return Match{Rule: p.name, Kind: KindPath, Version: p.version}, true
		}
	}

	return Match{}, false
}

// DefaultVersion returns the version named by the default rule, if any
func (m *Matcher) DefaultVersion() (string, bool) {
	return m.defaultVersion, m.defaultRule != ""
}

// Rules returns the rules the matcher was built from, in configured order
func (m *Matcher) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// Versions returns every version a rule can route to, in configured order
func (m *Matcher) Versions() []string {
	return lo.Uniq(lo.Map(m.rules, func(r Rule, _ int) string { return r.Version }))
}
