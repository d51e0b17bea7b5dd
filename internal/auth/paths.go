package auth

import (
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PathSet matches request paths against exact paths and glob patterns.
// "*" matches one path segment and "**" any number of segments; "/ws/**" also
// matches "/ws" itself.
type PathSet struct {
	exact    map[string]struct{}
	patterns []string
}

// NewPathSet compiles patterns. Invalid glob patterns are treated as exact paths.
func NewPathSet(patterns []string) *PathSet {
	ps := &PathSet{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?[{") && doublestar.ValidatePattern(p) {
			ps.patterns = append(ps.patterns, p)
			continue
		}
		ps.exact[p] = struct{}{}
	}
	return ps
}

// Match reports whether path is covered by the set.
func (ps *PathSet) Match(path string) bool {
	if ps == nil {
		return false
	}
	if _, ok := ps.exact[path]; ok {
		return true
	}
	for _, p := range ps.patterns {
		if base, ok := strings.CutSuffix(p, "/**"); ok && path == base {
			return true
		}
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}

// Skipper decides whether a request bypasses authentication.
type Skipper func(*http.Request) bool

// PublicPathSkipper skips pre-flight requests and any path in public.
func PublicPathSkipper(public *PathSet) Skipper {
	return func(r *http.Request) bool {
		if r.Method == http.MethodOptions {
			return true
		}
		return public.Match(r.URL.Path)
	}
}
