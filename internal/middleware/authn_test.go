package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/services/iam"
)

const testSecret = "middleware-test-secret-0123456789abcdef"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

// renewerFunc adapts a function to iam.Renewer.
type renewerFunc func(ctx context.Context, req iam.RenewalRequest) (*iam.TokenPair, error)

func (f renewerFunc) Renew(ctx context.Context, req iam.RenewalRequest) (*iam.TokenPair, error) {
	return f(ctx, req)
}

type authnHarness struct {
	clock   *clock
	codec   *auth.TokenCodec
	handler http.Handler
	seen    *auth.Principal
	renewed *iam.TokenPair
	called  bool
}

func newAuthnHarness(t *testing.T, renewer iam.Renewer) *authnHarness {
	t.Helper()
	h := &authnHarness{clock: &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}}

	codec, err := auth.NewTokenCodec(testSecret, auth.WithClock(h.clock.Now))
	require.NoError(t, err)
	h.codec = codec

	authenticator := iam.NewRequestAuthenticator(codec, auth.NewTrustRegistry([]string{"insurance-service"}), renewer)
	mw, err := NewAuthnMiddleware(AuthnDependencies{
		Authenticate: authenticator.Authenticate,
		Skipper:      auth.PublicPathSkipper(auth.NewPathSet([]string{"/api/v1/pcic/auth/login", "/public/**"})),
		Cookies:      CookieConfig{AccessName: "ACCESS_TOKEN", RefreshName: "REFRESH_TOKEN"},
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	h.handler = mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.called = true
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			h.seen = &p
		}
		h.renewed, _ = RenewedTokensFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h
}

func (h *authnHarness) serve(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	return rec
}

func (h *authnHarness) issue(t *testing.T, claims auth.ClaimSet, ttl time.Duration) string {
	t.Helper()
	token, err := h.codec.Issue(claims.Subject, claims, ttl)
	require.NoError(t, err)
	return token
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

func TestAuthn_PublicPathSkipsAuthentication(t *testing.T) {
	h := newAuthnHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pcic/auth/login", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := h.serve(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.called)
	assert.Nil(t, h.seen)
}

func TestAuthn_ValidBearerInstallsPrincipal(t *testing.T) {
	h := newAuthnHarness(t, nil)
	token := h.issue(t, auth.ClaimSet{
		Subject: "juan",
		UserID:  "7f3c1f2e-1111-4c1e-9a61-5a4b0c9d2e10",
		Roles:   []string{"farmer"},
	}, 15*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/farmer/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := h.serve(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.seen)
	assert.Equal(t, "juan", h.seen.Subject)
	assert.Equal(t, "7f3c1f2e-1111-4c1e-9a61-5a4b0c9d2e10", h.seen.UserID)
	assert.True(t, h.seen.HasAuthority("ROLE_FARMER"))
	assert.Empty(t, rec.Result().Cookies())
	assert.Nil(t, h.renewed)
}

func TestAuthn_AccessCookieIsAccepted(t *testing.T) {
	h := newAuthnHarness(t, nil)
	token := h.issue(t, auth.ClaimSet{Subject: "maria"}, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/farmer/profile", nil)
	req.AddCookie(&http.Cookie{Name: "ACCESS_TOKEN", Value: token})
	rec := h.serve(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.seen)
	assert.Equal(t, "maria", h.seen.Subject)
}

func TestAuthn_TrustedInternalService(t *testing.T) {
	h := newAuthnHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/farmer/profile", nil)
	req.Header.Set(auth.HeaderInternalService, "insurance-service")
	req.Header.Set(auth.HeaderUserID, "0199f0a4-5b2c-7d41-8e3a-2f6b7c8d9e01")
	rec := h.serve(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.seen)
	assert.True(t, h.seen.IsInternalService())
	assert.Equal(t, "0199f0a4-5b2c-7d41-8e3a-2f6b7c8d9e01", h.seen.UserID)
	assert.Equal(t, []string{auth.RoleInternalService}, h.seen.Authorities)
}

// recordSpans installs a recording tracer provider for the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := map[attribute.Key]string{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestAuthn_SpanCarriesPrincipal(t *testing.T) {
	spans := recordSpans(t)
	h := newAuthnHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/farmer/profile", nil)
	req.Header.Set(auth.HeaderInternalService, "insurance-service")
	require.Equal(t, http.StatusOK, h.serve(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/farmer/profile", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	require.Equal(t, http.StatusUnauthorized, h.serve(req).Code)

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "authn.Authenticate", ended[0].Name())
	attrs := spanAttrs(ended[0])
	assert.Equal(t, "internal_service", attrs["principal.kind"])
	assert.Equal(t, "insurance-service", attrs["principal.service_id"])

	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.NotContains(t, spanAttrs(ended[1]), attribute.Key("principal.kind"))
}

func TestAuthn_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, h *authnHarness, r *http.Request)
		message string
	}{
		{
			name:    "no credentials",
			prepare: func(*testing.T, *authnHarness, *http.Request) {},
			message: "Unauthorized - Missing X-Internal-Service or Authorization header",
		},
		{
			name: "untrusted internal service",
			prepare: func(_ *testing.T, _ *authnHarness, r *http.Request) {
				r.Header.Set(auth.HeaderInternalService, "rogue-service")
			},
			message: "Unauthorized - Invalid X-Internal-Service header",
		},
		{
			name: "malformed token",
			prepare: func(_ *testing.T, _ *authnHarness, r *http.Request) {
				r.Header.Set("Authorization", "Bearer not.a.jwt")
			},
			message: "Unauthorized - Invalid or expired token",
		},
		{
			name: "expired without refresh token",
			prepare: func(t *testing.T, h *authnHarness, r *http.Request) {
				token := h.issue(t, auth.ClaimSet{Subject: "juan"}, time.Minute)
				h.clock.now = h.clock.now.Add(2 * time.Minute)
				r.Header.Set("Authorization", "Bearer "+token)
			},
			message: "Unauthorized - Invalid or expired token",
		},
		{
			name: "expired with refresh token but no renewal service",
			prepare: func(t *testing.T, h *authnHarness, r *http.Request) {
				token := h.issue(t, auth.ClaimSet{Subject: "juan"}, time.Minute)
				h.clock.now = h.clock.now.Add(2 * time.Minute)
				r.Header.Set("Authorization", "Bearer "+token)
				r.Header.Set(auth.HeaderRefreshToken, "stale")
			},
			message: "Unauthorized - Authentication error: Invalid refresh token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuthnHarness(t, nil)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/farmer/profile", nil)
			tt.prepare(t, h, req)

			rec := h.serve(req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, h.called, "downstream handler must not run")
			assert.Equal(t, tt.message, decodeMessage(t, rec))
		})
	}
}

func TestAuthn_ExpiredTokenRenewsInBand(t *testing.T) {
	var got iam.RenewalRequest
	var h *authnHarness
	renewer := renewerFunc(func(_ context.Context, req iam.RenewalRequest) (*iam.TokenPair, error) {
		got = req
		access, err := h.codec.Issue(req.Subject, auth.ClaimSet{Subject: req.Subject, UserID: req.OwnerRef}, 15*time.Minute)
		if err != nil {
			return nil, err
		}
		return &iam.TokenPair{
			AccessToken:      access,
			AccessExpiresAt:  h.clock.now.Add(15 * time.Minute),
			RefreshToken:     "rotated-refresh",
			RefreshExpiresAt: h.clock.now.Add(7 * 24 * time.Hour),
		}, nil
	})
	h = newAuthnHarness(t, renewer)

	expired := h.issue(t, auth.ClaimSet{Subject: "juan", UserID: "owner-1"}, time.Minute)
	h.clock.now = h.clock.now.Add(10 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/farmer/profile", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	req.Header.Set(auth.HeaderRefreshToken, "Bearer presented-refresh")
	rec := h.serve(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "owner-1", got.OwnerRef)
	assert.Equal(t, "presented-refresh", got.PresentedToken)
	require.NotNil(t, h.seen)
	assert.Equal(t, "juan", h.seen.Subject)
	require.NotNil(t, h.renewed, "handlers must see the rotated pair")
	assert.Equal(t, "rotated-refresh", h.renewed.RefreshToken)

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, "ACCESS_TOKEN")
	require.Contains(t, cookies, "REFRESH_TOKEN")
	assert.Equal(t, "rotated-refresh", cookies["REFRESH_TOKEN"].Value)
	assert.NotEqual(t, expired, cookies["ACCESS_TOKEN"].Value)
	assert.True(t, cookies["ACCESS_TOKEN"].HttpOnly)
	assert.Equal(t, "/", cookies["ACCESS_TOKEN"].Path)
	assert.Equal(t, http.SameSiteLaxMode, cookies["ACCESS_TOKEN"].SameSite)
}

func TestAuthn_InternalErrorFailsClosed(t *testing.T) {
	mw, err := NewAuthnMiddleware(AuthnDependencies{
		Authenticate: func(context.Context, iam.AuthRequest) (*iam.AuthResult, error) {
			return nil, errors.New("database unavailable")
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	called := false
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized - Authentication error", decodeMessage(t, rec))
}

func TestNewAuthnMiddleware_RequiresAuthenticator(t *testing.T) {
	_, err := NewAuthnMiddleware(AuthnDependencies{})
	assert.Error(t, err)
}
