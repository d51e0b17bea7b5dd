package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/hashjosh/meshauth/internal/config"
)

// Route maps a path prefix to an upstream base URL.
type Route struct {
	Prefix   string
	Upstream *url.URL
}

// RouteTable resolves the upstream for a path. Longest prefix wins.
type RouteTable struct {
	routes []Route
}

// NewRouteTable parses and orders the configured routes.
func NewRouteTable(cfg []config.RouteConfig) (*RouteTable, error) {
	routes := make([]Route, 0, len(cfg))
	seen := make(map[string]struct{}, len(cfg))
	for _, rc := range cfg {
		prefix := "/" + strings.Trim(strings.TrimSpace(rc.Prefix), "/")
		if _, dup := seen[prefix]; dup {
			return nil, fmt.Errorf("duplicate gateway route prefix %q", prefix)
		}
		seen[prefix] = struct{}{}

		upstream, err := parseUpstream(rc.Upstream)
		if err != nil {
			return nil, fmt.Errorf("gateway route %q: %w", prefix, err)
		}
		routes = append(routes, Route{Prefix: prefix, Upstream: upstream})
	}
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})
	return &RouteTable{routes: routes}, nil
}

// Lookup returns the route with the longest prefix matching path on a segment boundary.
func (t *RouteTable) Lookup(path string) (Route, bool) {
	for _, r := range t.routes {
		if r.Prefix == "/" || path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/") {
			return r, true
		}
	}
	return Route{}, false
}

// Routes returns the table in match order.
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

func parseUpstream(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream %q must be an http(s) URL", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream %q has no host", raw)
	}
	return u, nil
}
