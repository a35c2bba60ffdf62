// Package routing decides which backend version serves a request.
//
// # Overview
//
// Two components live here:
//
//   - Matcher evaluates routing rules against a request's headers and path.
//   - Selector picks a version from a weighted traffic split when no rule
//     matches.
//
// Both are immutable once built. A configuration reload builds new values
// and swaps them in; nothing in this package is mutated while serving.
//
// # Rules
//
// A Rule pairs a target version with exactly one Predicate. Predicate is a
// closed set of types:
//
//   - HeaderEquals matches when a header carries a value equal to Value,
//     compared case-insensitively.
//   - PathPrefix matches when the request path starts with Prefix.
//   - Default carries the version that receives the remainder of a traffic
//     split whose weights sum below 100. It never matches a request.
//
// Header rules are evaluated first in configured order, then path rules by
// longest prefix. The first match wins.
//
// # Usage
//
//	matcher, err := routing.NewMatcher([]routing.Rule{
//		routing.HeaderRule("version-header", "version", "v2", "v2"),
//		routing.PathRule("beta", "/beta", "v2"),
//		routing.DefaultRule("fallback", "v1"),
//	})
//	if err != nil {
//		return err
//	}
//
//	selector, err := routing.NewSelector(routing.TrafficSplit{
//		Versions: []routing.WeightedVersion{{Version: "v1", Weight: 80}, {Version: "v2", Weight: 20}},
//	}, routing.NewRandomSource())
//	if err != nil {
//		return err
//	}
//
//	version := selector.Select()
//	if m, ok := matcher.Match(routing.NewRequest(r)); ok {
//		version = m.Version
//	}
package routing
