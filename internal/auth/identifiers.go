package auth

import "strings"

// Authority conventions shared by every service.
const (
	// RolePrefix marks authorities derived from role names.
	RolePrefix = "ROLE_"

	// RoleInternalService is the sole authority granted to trusted internal callers.
	RoleInternalService = RolePrefix + "INTERNAL_SERVICE"

	// InternalServiceSubjectPrefix prefixes the subject of internal-service principals.
	InternalServiceSubjectPrefix = "internal-service-"
)

// Header names of the trust-propagation protocol.
const (
	HeaderInternalService = "X-Internal-Service"
	HeaderUserID          = "X-User-Id"
	HeaderRefreshToken    = "X-Refresh-Token"
	HeaderUsername        = "X-User-Username"
	HeaderAuthorities     = "X-User-Authorities"
)

// RoleAuthority maps a role name to its authority.
// Example: RoleAuthority("admin") → "ROLE_ADMIN"
func RoleAuthority(role string) string {
	upper := strings.ToUpper(strings.TrimSpace(role))
	if upper == "" {
		return ""
	}
	return RolePrefix + upper
}

// PermissionAuthority maps a permission slug to its authority.
// Example: PermissionAuthority("can_view_claims") → "CAN_VIEW_CLAIMS"
func PermissionAuthority(slug string) string {
	return strings.ToUpper(strings.TrimSpace(slug))
}

// InternalServiceSubject builds the subject of a trusted internal caller.
// Example: InternalServiceSubject("farmer-service") → "internal-service-farmer-service"
func InternalServiceSubject(serviceID string) string {
	return InternalServiceSubjectPrefix + serviceID
}
