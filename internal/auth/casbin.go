package auth

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/util"
)

//go:embed model.conf
var casbinModelContent string

// AuthorityEnforcer evaluates route policies of the form
// (authority, path pattern, method) against a principal's authority set.
// Paths without any policy are open to every authenticated principal.
type AuthorityEnforcer struct {
	enforcer casbin.IEnforcer
	guarded  []string
}

// NewAuthorityEnforcer parses policies written as "AUTHORITY, /path/:param/*, METHOD".
// METHOD may be "*" to match any method.
func NewAuthorityEnforcer(policies []string) (*AuthorityEnforcer, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	ae := &AuthorityEnforcer{enforcer: enforcer}
	seen := make(map[string]struct{})
	for _, raw := range policies {
		parts := strings.Split(raw, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid policy %q: expected AUTHORITY, PATH, METHOD", raw)
		}
		authority := strings.TrimSpace(parts[0])
		path := strings.TrimSpace(parts[1])
		method := strings.ToUpper(strings.TrimSpace(parts[2]))
		if authority == "" || path == "" || method == "" {
			return nil, fmt.Errorf("invalid policy %q: empty field", raw)
		}
		if _, err := enforcer.AddPolicy(authority, path, method); err != nil {
			return nil, fmt.Errorf("add policy %q: %w", raw, err)
		}
		if _, ok := seen[path]; !ok {
			seen[path] = struct{}{}
			ae.guarded = append(ae.guarded, path)
		}
	}
	return ae, nil
}

// Guards reports whether any policy covers path.
func (e *AuthorityEnforcer) Guards(path string) bool {
	for _, pattern := range e.guarded {
		if util.KeyMatch2(path, pattern) {
			return true
		}
	}
	return false
}

// Allowed reports whether principal may perform method on path.
// It checks each of the principal's authorities until one is allowed.
func (e *AuthorityEnforcer) Allowed(principal Principal, path, method string) (bool, error) {
	if !e.Guards(path) {
		return true, nil
	}
	for _, authority := range principal.Authorities {
		ok, err := e.enforcer.Enforce(authority, path, method)
		if err != nil {
			return false, fmt.Errorf("enforce %s %s for %s: %w", method, path, authority, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
