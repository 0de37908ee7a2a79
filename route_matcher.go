package wren

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// segmentKind classifies one path-pattern segment (spec §4.2).
type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segParam
	segParamOptional
	segWildcard
)

type patternSegment struct {
	kind    segmentKind
	name    string
	literal string
}

// Matcher is a compiled path pattern (spec §4.2: "compile(pattern) ->
// matcher(path) -> params | nomatch"). Grounded on air.router's trie node
// kinds (staticKind/paramKind/anyKind) and its unescape/ishex/unhex
// percent-decoding, adapted from a shared multi-route trie to a
// single-pattern matcher since the routing engine (engine.go) already owns
// the ordered iteration over routes.
type Matcher struct {
	raw          string
	segments     []patternSegment
	dynamicCount int
	wildcardAt   int // index of the wildcard segment, or -1 if none
}

// CompilePattern compiles pattern into a Matcher. Pattern syntax: literal
// segments, ":name" single-segment params, ":name*" multi-segment
// wildcards (captured as an ordered sequence of strings, joined with "/"
// in Params under the same name), and ":name?" optional params.
func CompilePattern(pattern string) (*Matcher, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, fmt.Errorf("wren: pattern must start with /: %q", pattern)
	}

	raw := strings.Trim(pattern, "/")
	var parts []string
	if raw != "" {
		parts = strings.Split(raw, "/")
	}

	m := &Matcher{raw: pattern, wildcardAt: -1}

	for i, p := range parts {
		switch {
		case strings.HasSuffix(p, "*") && strings.HasPrefix(p, ":"):
			name := strings.TrimSuffix(strings.TrimPrefix(p, ":"), "*")
			if name == "" {
				return nil, fmt.Errorf("wren: wildcard param needs a name: %q", pattern)
			}
			if i != len(parts)-1 {
				return nil, fmt.Errorf("wren: wildcard param must be last: %q", pattern)
			}
			m.segments = append(m.segments, patternSegment{kind: segWildcard, name: name})
			m.wildcardAt = i
			m.dynamicCount++
		case strings.HasSuffix(p, "?") && strings.HasPrefix(p, ":"):
			name := strings.TrimSuffix(strings.TrimPrefix(p, ":"), "?")
			if name == "" {
				return nil, fmt.Errorf("wren: optional param needs a name: %q", pattern)
			}
			m.segments = append(m.segments, patternSegment{kind: segParamOptional, name: name})
			m.dynamicCount++
		case strings.HasPrefix(p, ":"):
			name := strings.TrimPrefix(p, ":")
			if name == "" {
				return nil, fmt.Errorf("wren: param needs a name: %q", pattern)
			}
			m.segments = append(m.segments, patternSegment{kind: segParam, name: name})
			m.dynamicCount++
		default:
			m.segments = append(m.segments, patternSegment{kind: segLiteral, literal: p})
		}
	}

	return m, nil
}

// Match matches path against m, returning captured params on success.
// Matching is case-sensitive on the path (spec §4.2).
func (m *Matcher) Match(path string) (map[string]string, bool) {
	trimmed := strings.Trim(path, "/")
	var segs []string
	if trimmed != "" {
		segs = strings.Split(trimmed, "/")
	}

	params := map[string]string{}
	si := 0

	for pi := 0; pi < len(m.segments); pi++ {
		seg := m.segments[pi]

		switch seg.kind {
		case segWildcard:
			rest := segs[min(si, len(segs)):]
			values := make([]string, 0, len(rest))
			for _, r := range rest {
				values = append(values, percentDecode(r))
			}
			params[seg.name] = strings.Join(values, "/")
			si = len(segs)
			return params, true
		case segParamOptional:
			if si < len(segs) {
				params[seg.name] = percentDecode(segs[si])
				si++
			}
		case segParam:
			if si >= len(segs) {
				return nil, false
			}
			params[seg.name] = percentDecode(segs[si])
			si++
		case segLiteral:
			if si >= len(segs) || segs[si] != seg.literal {
				return nil, false
			}
			si++
		}
	}

	if si != len(segs) {
		return nil, false
	}

	return params, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// percentDecode unescapes a single captured path segment, grounded on
// air.router's unescape/ishex/unhex helpers. Params are always
// already-URI-decoded (spec §3 invariant).
func percentDecode(s string) string {
	d, err := decodeURIComponent(s)
	if err != nil {
		return s
	}
	return d
}

// HasConditionType is the predicate kind of a custom route's "has" clause
// (spec §4.2).
type HasConditionType string

const (
	HasHeader HasConditionType = "header"
	HasCookie HasConditionType = "cookie"
	HasHost   HasConditionType = "host"
	HasQuery  HasConditionType = "query"
)

// HasCondition is one predicate of a route's "has" clause. Value, when it
// contains capture groups (a Go regexp), contributes named captures to the
// merged Params on a match; an empty Value matches mere presence of Key.
type HasCondition struct {
	Type  HasConditionType
	Key   string
	Value string

	compiled *regexp.Regexp
}

// compileHas compiles the Value regexp of h, if any, so Match doesn't
// recompile it per request.
func compileHas(h HasCondition) (HasCondition, error) {
	if h.Value == "" {
		return h, nil
	}
	re, err := regexp.Compile("^" + h.Value + "$")
	if err != nil {
		return h, fmt.Errorf("wren: invalid has value pattern %q: %w", h.Value, err)
	}
	h.compiled = re
	return h, nil
}

// HasMatchContext is the subset of request state a "has" clause can
// inspect (spec §4.2: "headers, cookies, host, or query").
type HasMatchContext struct {
	Headers Headers
	Cookies map[string]string
	Host    string
	Query   Query
}

// Match evaluates h against ctx, returning any named captures to merge
// into the route's Params.
func (h HasCondition) Match(ctx HasMatchContext) (map[string]string, bool) {
	var value string
	var present bool

	switch h.Type {
	case HasHeader:
		value = ctx.Headers.Get(h.Key)
		present = ctx.Headers.Has(h.Key)
	case HasCookie:
		value, present = ctx.Cookies[h.Key]
	case HasHost:
		value = ctx.Host
		present = ctx.Host != ""
	case HasQuery:
		value = ctx.Query.Get(h.Key)
		_, present = ctx.Query[h.Key]
	default:
		return nil, false
	}

	if !present {
		return nil, false
	}

	if h.compiled == nil {
		return map[string]string{}, true
	}

	m := h.compiled.FindStringSubmatch(value)
	if m == nil {
		return nil, false
	}

	caps := map[string]string{}
	for i, name := range h.compiled.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		caps[name] = m[i]
	}

	return caps, true
}

// routeOrderKey produces the total order spec §4.2 requires for
// tie-breaking between multiple candidate dynamic routes: fewer dynamic
// segments first, then shallower catch-all, then lexicographic.
type routeOrderKey struct {
	dynamicCount int
	catchAllAt   int // len(segments) if no catch-all: sorts "deepest" last
	raw          string
}

func orderKeyOf(m *Matcher) routeOrderKey {
	catchAllAt := len(m.segments)
	if m.wildcardAt >= 0 {
		catchAllAt = m.wildcardAt
	}
	return routeOrderKey{
		dynamicCount: m.dynamicCount,
		catchAllAt:   catchAllAt,
		raw:          m.raw,
	}
}

// SortMatchersByPriority orders matchers per spec §4.2's total order.
func SortMatchersByPriority(matchers []*Matcher) {
	sort.SliceStable(matchers, func(i, j int) bool {
		a, b := orderKeyOf(matchers[i]), orderKeyOf(matchers[j])
		if a.dynamicCount != b.dynamicCount {
			return a.dynamicCount < b.dynamicCount
		}
		if a.catchAllAt != b.catchAllAt {
			// Shallower catch-all sorts first (spec §4.2).
			return a.catchAllAt < b.catchAllAt
		}
		return a.raw < b.raw
	})
}
