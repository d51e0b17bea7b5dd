package iam

import "errors"

// Authentication failures. Every one of them maps to 401 at the HTTP boundary.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrUntrustedIdentity = errors.New("untrusted internal service")
	ErrInvalidToken      = errors.New("invalid access token")
	ErrExpiredNoRefresh  = errors.New("access token expired and no refresh token presented")
	ErrRenewalRejected   = errors.New("refresh token rejected")
)

// Login failures.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("account disabled")
)

// ErrNoUserIdentity is returned when a user-bound token is requested for a
// principal that carries no user id.
var ErrNoUserIdentity = errors.New("principal has no user identity")

// RejectionMessage returns the client-facing message for an authentication failure.
func RejectionMessage(err error) string {
	switch {
	case errors.Is(err, ErrUntrustedIdentity):
		return "Unauthorized - Invalid X-Internal-Service header"
	case errors.Is(err, ErrMissingCredential):
		return "Unauthorized - Missing X-Internal-Service or Authorization header"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpiredNoRefresh):
		return "Unauthorized - Invalid or expired token"
	case errors.Is(err, ErrRenewalRejected):
		return "Unauthorized - Authentication error: Invalid refresh token"
	default:
		return "Unauthorized - Authentication error"
	}
}

// RejectionReason returns a short label for logs and metrics.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUntrustedIdentity):
		return "untrusted_identity"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrExpiredNoRefresh):
		return "expired_no_refresh"
	case errors.Is(err, ErrRenewalRejected):
		return "renewal_rejected"
	default:
		return "internal_error"
	}
}
