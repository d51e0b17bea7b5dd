package auth

import (
	"slices"

	"github.com/google/uuid"
)

// ResolvePrincipal projects a verified claim set into an end-user principal.
//
// Role names become ROLE_<NAME> and permission slugs are upper-cased; the two are
// merged into a single sorted set. It performs no I/O.
func ResolvePrincipal(claims ClaimSet) Principal {
	return Principal{
		Kind:        PrincipalKindEndUser,
		Subject:     claims.Subject,
		UserID:      claims.UserID,
		FirstName:   claims.FirstName,
		LastName:    claims.LastName,
		Email:       claims.Email,
		PhoneNumber: claims.PhoneNumber,
		Authorities: DeriveAuthorities(claims.Roles, claims.Permissions),
	}
}

// NewInternalServicePrincipal builds the principal for a trusted internal caller.
// userID is kept verbatim, and only when it parses as a UUID.
func NewInternalServicePrincipal(serviceID, userID string) Principal {
	p := Principal{
		Kind:        PrincipalKindInternalService,
		Subject:     InternalServiceSubject(serviceID),
		ServiceID:   serviceID,
		Authorities: []string{RoleInternalService},
	}
	if _, err := uuid.Parse(userID); err == nil {
		p.UserID = userID
	}
	return p
}

// DeriveAuthorities returns the deduplicated, sorted union of role and permission authorities.
func DeriveAuthorities(roles, permissions []string) []string {
	set := make(map[string]struct{}, len(roles)+len(permissions))
	for _, r := range roles {
		if a := RoleAuthority(r); a != "" {
			set[a] = struct{}{}
		}
	}
	for _, p := range permissions {
		if a := PermissionAuthority(p); a != "" {
			set[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}
