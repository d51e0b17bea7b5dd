package auth

import "strings"

// TrustRegistry is the fixed set of internal-service identifiers accepted in
// the X-Internal-Service header. It is built once at start-up and never mutated,
// so it is safe for concurrent reads without locking.
type TrustRegistry struct {
	ids map[string]struct{}
}

// NewTrustRegistry builds a registry from configured identifiers.
// Surrounding whitespace is trimmed and empty entries are dropped.
func NewTrustRegistry(ids []string) *TrustRegistry {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return &TrustRegistry{ids: set}
}

// IsTrusted reports whether id is a recognised internal service. Matching is exact.
func (t *TrustRegistry) IsTrusted(id string) bool {
	if t == nil || id == "" {
		return false
	}
	_, ok := t.ids[id]
	return ok
}

// Len returns the number of trusted identifiers.
func (t *TrustRegistry) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ids)
}
