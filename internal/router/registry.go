// Package router implements the Route Registry and Dispatcher: routes
// are registered per (method, pattern) and matched against an incoming
// request-target, extracting path parameters and query values.
package router

import (
	"sort"
	"strings"
	"sync"

	"github.com/monstercameron/zerver/internal/pipeline"
)

// RouteSpec is what a registered route carries, per spec.md §3.
type RouteSpec struct {
	Before []pipeline.Step
	Steps  []pipeline.Step
	Budget pipeline.ResourceBudget
}

// segmentKind classifies one path segment of a registered pattern.
type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
)

type segment struct {
	kind segmentKind
	text string // literal value, or param/wildcard name
}

// route is one registered (method, pattern).
type route struct {
	method    string
	pattern   string
	segments  []segment
	spec      RouteSpec
	seq       int // declaration order, for stable tie-breaking
	literals  int // count of leading literal segments, for prefix-length ranking
	paramsLen int // count of :param/*wildcard segments
}

// Registry holds every registered route and dispatches requests to
// them, per spec.md §4.3. Grounded on gitprovider.Registry's
// Register/Resolve map idiom, generalized from a flat name->provider map
// into a segment-based table ranked per the spec's precedence rules.
type Registry struct {
	mu      sync.RWMutex
	routes  []*route // insertion order preserved for tie-break 2(c)
	nextSeq int
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds or replaces the route for (method, pattern). Duplicate
// (method, pattern) replaces the previous registration in place,
// keeping its original declaration order per spec.md §6.
func (reg *Registry) Register(method, pattern string, spec RouteSpec) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	segs := parsePattern(pattern)
	literals, params := countSegments(segs)

	for i, r := range reg.routes {
		if r.method == method && r.pattern == pattern {
			reg.routes[i] = &route{
				method: method, pattern: pattern, segments: segs, spec: spec,
				seq: r.seq, literals: literals, paramsLen: params,
			}
			return
		}
	}

	reg.routes = append(reg.routes, &route{
		method: method, pattern: pattern, segments: segs, spec: spec,
		seq: reg.nextSeq, literals: literals, paramsLen: params,
	})
	reg.nextSeq++
}

func countSegments(segs []segment) (literals, params int) {
	prefix := true
	for _, s := range segs {
		if s.kind == segLiteral {
			if prefix {
				literals++
			}
		} else {
			prefix = false
			params++
		}
	}
	return
}

// parsePattern splits a registered pattern like "/todos/:id" or
// "/files/*rest" into typed segments. Leading/trailing slashes are
// trimmed; empty patterns match "/".
func parsePattern(pattern string) []segment {
	trimmed := strings.Trim(pattern, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		switch {
		case strings.HasPrefix(p, ":"):
			segs = append(segs, segment{kind: segParam, text: p[1:]})
		case strings.HasPrefix(p, "*"):
			segs = append(segs, segment{kind: segWildcard, text: p[1:]})
		default:
			segs = append(segs, segment{kind: segLiteral, text: p})
		}
	}
	return segs
}

// Match is the result of a successful Dispatch lookup.
type Match struct {
	Spec       RouteSpec
	PathParams map[string]string
}

// Dispatch finds the best-matching route for (method, path), applying
// spec.md §4.3's precedence and the HEAD/OPTIONS fallback rules. ok is
// false when no route matches; allowed carries the Allow header value
// to use for the 405/OPTIONS cases the caller (zerver.Server) renders.
func (reg *Registry) Dispatch(method, path string) (match Match, allowed []string, ok bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	pathSegs := strings.Split(strings.Trim(path, "/"), "/")
	if strings.Trim(path, "/") == "" {
		pathSegs = nil
	}

	effectiveMethod := method
	if method == "HEAD" {
		effectiveMethod = "GET"
	}

	candidates := reg.matchingRoutes(effectiveMethod, pathSegs)
	if len(candidates) > 0 {
		best := candidates[0]
		params := extractParams(best.segments, pathSegs)
		return Match{Spec: best.spec, PathParams: params}, nil, true
	}

	return Match{}, reg.allowedMethods(pathSegs), false
}

// allowedMethods lists every method with a route matching path, for the
// Allow header on 405/OPTIONS responses. A registered GET implies HEAD,
// per spec.md §4.3 rule 7.
func (reg *Registry) allowedMethods(pathSegs []string) []string {
	seen := map[string]bool{"OPTIONS": true}
	for _, r := range reg.routes {
		if matchSegments(r.segments, pathSegs) {
			seen[r.method] = true
			if r.method == "GET" {
				seen["HEAD"] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// AllowedMethods is the exported form of allowedMethods, used by the
// Server to answer OPTIONS requests regardless of whether a route
// matched the requested method.
func (reg *Registry) AllowedMethods(path string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")
	if strings.Trim(path, "/") == "" {
		pathSegs = nil
	}
	return reg.allowedMethods(pathSegs)
}

// matchingRoutes returns every route matching (method, pathSegs),
// ordered by spec.md §4.3 rule 2: longest literal prefix, fewest
// params, then declaration order.
func (reg *Registry) matchingRoutes(method string, pathSegs []string) []*route {
	var out []*route
	for _, r := range reg.routes {
		if r.method != method {
			continue
		}
		if matchSegments(r.segments, pathSegs) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].literals != out[j].literals {
			return out[i].literals > out[j].literals
		}
		if out[i].paramsLen != out[j].paramsLen {
			return out[i].paramsLen < out[j].paramsLen
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func matchSegments(pattern []segment, path []string) bool {
	pi := 0
	for si, seg := range pattern {
		if seg.kind == segWildcard {
			return true // wildcard captures the remainder unconditionally
		}
		if pi >= len(path) {
			return false
		}
		switch seg.kind {
		case segLiteral:
			if path[pi] != seg.text {
				return false
			}
		case segParam:
			// any single segment matches
		}
		pi++
		_ = si
	}
	return pi == len(path)
}

func extractParams(pattern []segment, path []string) map[string]string {
	params := map[string]string{}
	pi := 0
	for _, seg := range pattern {
		if seg.kind == segWildcard {
			params[seg.text] = decodeSegment(strings.Join(path[pi:], "/"))
			return params
		}
		if seg.kind == segParam {
			params[seg.text] = decodeSegment(path[pi])
		}
		pi++
	}
	return params
}
