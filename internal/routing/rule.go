package routing

import (
	"fmt"
	"net/http"
	"strings"

	apperrors "traffic-router/internal/common/errors"
)

// Predicate is the match condition of a Rule. The set of implementations is
// closed: HeaderEquals, PathPrefix and Default.
type Predicate interface {
	// Kind returns the predicate's name as used in configuration documents
	Kind() string
	predicate()
}

// HeaderEquals matches requests whose header Name carries Value
// (case-insensitive on both the name and the value).
type HeaderEquals struct {
	Name  string
	Value string
}

// PathPrefix matches requests whose path starts with Prefix
type PathPrefix struct {
	Prefix string
}

// Default names the version that receives unmatched traffic left over by a
// traffic split whose weights sum below 100.
type Default struct{}

func (HeaderEquals) Kind() string { return KindHeader }
func (PathPrefix) Kind() string   { return KindPath }
func (Default) Kind() string      { return KindDefault }

func (HeaderEquals) predicate() {}
func (PathPrefix) predicate()   {}
func (Default) predicate()      {}

// Predicate kinds as they appear in configuration
const (
	KindHeader  = "header"
	KindPath    = "path"
	KindDefault = "default"
)

// Rule routes matching requests to a backend version
type Rule struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Predicate Predicate `json:"-"`
}

// HeaderRule builds a header-equality rule
func HeaderRule(name, header, value, version string) Rule {
	return Rule{Name: name, Version: version, Predicate: HeaderEquals{Name: header, Value: value}}
}

// PathRule builds a path-prefix rule
func PathRule(name, prefix, version string) Rule {
	return Rule{Name: name, Version: version, Predicate: PathPrefix{Prefix: prefix}}
}

// DefaultRule builds the rule naming the default version
func DefaultRule(name, version string) Rule {
	return Rule{Name: name, Version: version, Predicate: Default{}}
}

// String renders the rule for logs and CLI output
func (r Rule) String() string {
	switch p := r.Predicate.(type) {
	case HeaderEquals:
		return fmt.Sprintf("%s: header %s=%s -> %s", r.Name, p.Name, p.Value, r.Version)
	case PathPrefix:
		return fmt.Sprintf("%s: path %s* -> %s", r.Name, p.Prefix, r.Version)
	case Default:
		return fmt.Sprintf("%s: default -> %s", r.Name, r.Version)
	default:
		return fmt.Sprintf("%s: unsupported -> %s", r.Name, r.Version)
	}
}

// Request is the part of an inbound request the matcher looks at
type Request struct {
	Header http.Header
	Path   string
}

// NewRequest extracts the routing view of r
func NewRequest(r *http.Request) Request {
	return Request{Header: r.Header, Path: r.URL.Path}
}

func configError(cause error, format string, args ...interface{}) error {
	err := apperrors.ConfigErrorf(format, args...)
	err.Cause = cause
	return err
}

func validateRule(r Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return configError(ErrInvalidRule, "rule name is required")
	}
	if strings.TrimSpace(r.Version) == "" {
		return configError(ErrInvalidRule, "rule %q: version is required", r.Name)
	}

	switch p := r.Predicate.(type) {
	case HeaderEquals:
		if strings.TrimSpace(p.Name) == "" {
			return configError(ErrInvalidRule, "rule %q: header name is required", r.Name)
		}
		if strings.TrimSpace(p.Value) == "" {
			return configError(ErrInvalidRule, "rule %q: header value is required", r.Name)
		}
	case PathPrefix:
		if !strings.HasPrefix(p.Prefix, "/") {
			return configError(ErrInvalidRule, "rule %q: path prefix must start with '/'", r.Name)
		}
	case Default:
	case nil:
		return configError(ErrInvalidRule, "rule %q: predicate is required", r.Name)
	default:
		return configError(ErrUnsupportedPredicate, "rule %q: unsupported predicate %T", r.Name, p)
	}
	return nil
}
