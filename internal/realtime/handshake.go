package realtime

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	oidctoken "github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"

	"github.com/hashjosh/meshauth/internal/auth"
)

// Identity names the peer of one realtime connection.
type Identity struct {
	// Name is the token subject, or anonymous-<unix millis> for unauthenticated peers.
	Name          string
	UserID        string
	Authenticated bool
	Authorities   []string
}

// HandshakeAuthenticator resolves the identity of a websocket upgrade request.
// It never renews: a realtime token is short-lived and re-minted through the auth API.
type HandshakeAuthenticator struct {
	codec *auth.TokenCodec
	now   func() time.Time
}

// HandshakeOption customises a HandshakeAuthenticator.
type HandshakeOption func(*HandshakeAuthenticator)

// WithHandshakeClock overrides the clock used for anonymous names (tests).
func WithHandshakeClock(now func() time.Time) HandshakeOption {
	return func(h *HandshakeAuthenticator) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandshakeAuthenticator builds an authenticator over codec.
func NewHandshakeAuthenticator(codec *auth.TokenCodec, opts ...HandshakeOption) *HandshakeAuthenticator {
	h := &HandshakeAuthenticator{codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Authenticate returns the peer identity. It does not fail: a missing or
// invalid token yields an anonymous identity and the upgrade proceeds.
func (h *HandshakeAuthenticator) Authenticate(r *http.Request) Identity {
	if token := handshakeToken(r); token != "" {
		if claims, err := h.codec.Verify(token); err == nil {
			principal := auth.ResolvePrincipal(*claims)
			return Identity{
				Name:          principal.Subject,
				UserID:        principal.UserID,
				Authenticated: true,
				Authorities:   principal.Authorities,
			}
		}
	}
	return Identity{Name: fmt.Sprintf("anonymous-%d", h.now().UnixMilli())}
}

// handshakeToken reads Authorization: Bearer first, then the token query parameter
// (browsers cannot set headers on a websocket upgrade).
func handshakeToken(r *http.Request) string {
	if r.Header.Get("Authorization") != "" {
		token, err := oidctoken.GetTokenString(r.Header.Get, [][]options.TokenStringOption{{}})
		if err == nil && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
