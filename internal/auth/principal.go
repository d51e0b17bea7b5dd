package auth

import "slices"

// PrincipalKind describes who is behind a request.
type PrincipalKind string

const (
	// PrincipalKindEndUser is a person authenticated by an access token.
	PrincipalKindEndUser PrincipalKind = "end_user"
	// PrincipalKindInternalService is a trusted service calling on its own behalf
	// (optionally on behalf of X-User-Id).
	PrincipalKindInternalService PrincipalKind = "internal_service"
)

// Principal is the resolved identity attached to one request.
//
// A Principal is built in one step by ResolvePrincipal or NewInternalServicePrincipal
// and never modified afterwards. Authorities is sorted and free of duplicates.
type Principal struct {
	Kind    PrincipalKind
	Subject string
	// UserID is empty for internal-service calls that did not name a user.
	UserID string
	// ServiceID is set for internal-service principals only.
	ServiceID string

	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string

	Authorities []string
}

// HasAuthority reports whether the principal holds authority (exact match).
func (p Principal) HasAuthority(authority string) bool {
	_, found := slices.BinarySearch(p.Authorities, authority)
	return found
}

// HasAnyAuthority reports whether the principal holds at least one of authorities.
func (p Principal) HasAnyAuthority(authorities ...string) bool {
	for _, a := range authorities {
		if p.HasAuthority(a) {
			return true
		}
	}
	return false
}

// IsInternalService reports whether the principal came from the trust registry.
func (p Principal) IsInternalService() bool {
	return p.Kind == PrincipalKindInternalService
}

func (p Principal) clone() Principal {
	p.Authorities = slices.Clone(p.Authorities)
	return p
}
