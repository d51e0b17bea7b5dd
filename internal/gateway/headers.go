package gateway

import (
	"net/http"
	"strings"

	"github.com/hashjosh/meshauth/internal/auth"
)

// StripIdentityHeaders removes the headers only the gateway may set.
// X-User-Id is kept for trust-exempt requests, where it names the user a
// trusted service acts for.
func StripIdentityHeaders(h http.Header, class Class) {
	h.Del(auth.HeaderUsername)
	h.Del(auth.HeaderAuthorities)
	if class != ClassTrustExempt {
		h.Del(auth.HeaderUserID)
	}
}

// SetIdentityHeaders writes the normalized identity header set for a verified token.
// The token is always forwarded as a bearer token, even if it arrived in a cookie.
func SetIdentityHeaders(h http.Header, token string, principal auth.Principal) {
	h.Set("Authorization", "Bearer "+token)
	h.Set(auth.HeaderUsername, principal.Subject)
	if principal.UserID != "" {
		h.Set(auth.HeaderUserID, principal.UserID)
	}
	h.Set(auth.HeaderAuthorities, strings.Join(principal.Authorities, ","))
}
