package iam

import (
	"context"
	"net"
	"net/http"
)

// Authenticator validates the credentials of one request.
//
// Return values:
//   - (result, nil): Authentication successful
//   - (nil, error): Rejected; the error wraps one of the sentinels in errors.go
//     or is an internal failure (fail closed)
type Authenticator interface {
	Authenticate(ctx context.Context, req AuthRequest) (*AuthResult, error)
}

// AuthRequest wraps HTTP request data for authenticator implementations.
type AuthRequest struct {
	// Headers contains HTTP headers (Authorization, X-Internal-Service, X-User-Id, X-Refresh-Token)
	Headers http.Header

	// Cookies contains parsed cookies
	Cookies []*http.Cookie

	// ClientIP and UserAgent are recorded on refresh sessions created by renewal.
	ClientIP  string
	UserAgent string
}

// NewAuthRequest captures the parts of r an Authenticator may look at.
func NewAuthRequest(r *http.Request) AuthRequest {
	return AuthRequest{
		Headers:   r.Header,
		Cookies:   r.Cookies(),
		ClientIP:  clientIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
	}
}

// Cookie returns the value of the named cookie, or "".
func (r AuthRequest) Cookie(name string) string {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
