package iam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"

	"github.com/hashjosh/meshauth/internal/auth"
)

// DefaultAccessCookie is the cookie access tokens are read from and renewed into.
const DefaultAccessCookie = "ACCESS_TOKEN"

// Renewer rotates a refresh session. Implemented by RenewalService.
type Renewer interface {
	Renew(ctx context.Context, req RenewalRequest) (*TokenPair, error)
}

// AuthResult is the outcome of a successful authentication.
type AuthResult struct {
	Principal auth.Principal

	// Renewed is set when the request was admitted by rotating its refresh
	// token; the caller must hand the new pair back to the client.
	Renewed *TokenPair
}

// RequestAuthenticator decides, once per request, who the caller is.
//
// Precedence:
//  1. X-Internal-Service (with optional X-User-Id); an untrusted value is
//     rejected without looking at any token
//  2. access token from "Authorization: Bearer", else the access cookie
//  3. on expiry only, the refresh token from X-Refresh-Token
//
// It is stateless and safe for concurrent use.
type RequestAuthenticator struct {
	codec        *auth.TokenCodec
	trust        *auth.TrustRegistry
	renewer      Renewer
	accessCookie string
}

// RequestAuthenticatorOption customises a RequestAuthenticator.
type RequestAuthenticatorOption func(*RequestAuthenticator)

// WithAccessCookie overrides the access token cookie name.
func WithAccessCookie(name string) RequestAuthenticatorOption {
	return func(a *RequestAuthenticator) {
		if name != "" {
			a.accessCookie = name
		}
	}
}

// NewRequestAuthenticator wires the protocol. renewer may be nil for services
// without a session store; expired tokens are then always rejected.
func NewRequestAuthenticator(codec *auth.TokenCodec, trust *auth.TrustRegistry, renewer Renewer, opts ...RequestAuthenticatorOption) *RequestAuthenticator {
	a := &RequestAuthenticator{
		codec:        codec,
		trust:        trust,
		renewer:      renewer,
		accessCookie: DefaultAccessCookie,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate runs the protocol against req.
func (a *RequestAuthenticator) Authenticate(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	if serviceID := strings.TrimSpace(req.Headers.Get(auth.HeaderInternalService)); serviceID != "" {
		if !a.trust.IsTrusted(serviceID) {
			return nil, ErrUntrustedIdentity
		}
		userID := strings.TrimSpace(req.Headers.Get(auth.HeaderUserID))
		return &AuthResult{Principal: auth.NewInternalServicePrincipal(serviceID, userID)}, nil
	}

	accessToken := a.accessToken(req)
	if accessToken == "" {
		return nil, ErrMissingCredential
	}

	claims, err := a.codec.Verify(accessToken)
	if err == nil {
		return &AuthResult{Principal: auth.ResolvePrincipal(*claims)}, nil
	}
	if !errors.Is(err, auth.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	refreshToken := RefreshTokenFromHeaders(req.Headers.Get)
	if refreshToken == "" {
		return nil, ErrExpiredNoRefresh
	}
	return a.renew(ctx, req, accessToken, refreshToken)
}

func (a *RequestAuthenticator) renew(ctx context.Context, req AuthRequest, accessToken, refreshToken string) (*AuthResult, error) {
	if a.renewer == nil {
		return nil, fmt.Errorf("%w: renewal not available", ErrRenewalRejected)
	}

	expired, err := a.codec.ClaimsAllowingExpired(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	pair, err := a.renewer.Renew(ctx, RenewalRequest{
		OwnerRef:       expired.OwnerRef(),
		PresentedToken: refreshToken,
		Subject:        expired.Subject,
		Claims:         *expired,
		ClientIP:       req.ClientIP,
		UserAgent:      req.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	// The principal comes from the token just issued, not the expired one.
	claims, err := a.codec.Verify(pair.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("verify renewed token: %w", err)
	}
	return &AuthResult{Principal: auth.ResolvePrincipal(*claims), Renewed: pair}, nil
}

func (a *RequestAuthenticator) accessToken(req AuthRequest) string {
	return AccessTokenFrom(req, a.accessCookie)
}

// AccessTokenFrom reads the access token from Authorization: Bearer, falling
// back to the named cookie. A non-bearer Authorization header is ignored.
func AccessTokenFrom(req AuthRequest, cookieName string) string {
	if req.Headers.Get("Authorization") != "" {
		token, err := oidctoken.GetTokenString(req.Headers.Get, [][]options.TokenStringOption{
			{}, // Default: Authorization: Bearer <token>
		})
		if err == nil {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	return strings.TrimSpace(req.Cookie(cookieName))
}

// RefreshTokenFromHeaders reads X-Refresh-Token, tolerating a "Bearer " prefix.
// Refresh tokens are never read from cookies.
func RefreshTokenFromHeaders(get func(string) string) string {
	value := strings.TrimSpace(get(auth.HeaderRefreshToken))
	if after, ok := strings.CutPrefix(value, "Bearer "); ok {
		value = strings.TrimSpace(after)
	}
	return value
}
