package iam

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashjosh/meshauth/internal/auth"
)

func newAuthenticator(f *fixture, trusted ...string) *RequestAuthenticator {
	return NewRequestAuthenticator(f.codec, auth.NewTrustRegistry(trusted), f.renewal)
}

func bearerRequest(token string) AuthRequest {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return AuthRequest{Headers: h, ClientIP: "10.0.0.9", UserAgent: "test"}
}

func issue(t *testing.T, f *fixture, subject string, claims auth.ClaimSet, ttl time.Duration) string {
	t.Helper()
	token, err := f.codec.Issue(subject, claims, ttl)
	require.NoError(t, err)
	return token
}

// Scenario A: a valid bearer token yields its role authorities.
func TestAuthenticate_ValidBearerToken(t *testing.T) {
	f := newFixture(t)
	a := newAuthenticator(f)

	token := issue(t, f, "u1", auth.ClaimSet{Roles: []string{"ADMIN"}}, time.Minute)

	result, err := a.Authenticate(context.Background(), bearerRequest(token))
	require.NoError(t, err)
	assert.Equal(t, "u1", result.Principal.Subject)
	assert.Equal(t, []string{"ROLE_ADMIN"}, result.Principal.Authorities)
	assert.Nil(t, result.Renewed)
}

func TestAuthenticate_AccessTokenCookie(t *testing.T) {
	f := newFixture(t)
	a := NewRequestAuthenticator(f.codec, auth.NewTrustRegistry(nil), f.renewal, WithAccessCookie("SESSION_AT"))

	token := issue(t, f, "u1", auth.ClaimSet{Permissions: []string{"read"}}, time.Minute)
	req := AuthRequest{Headers: http.Header{}, Cookies: []*http.Cookie{{Name: "SESSION_AT", Value: token}}}

	result, err := a.Authenticate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"READ"}, result.Principal.Authorities)
}

func TestAuthenticate_NonBearerAuthorizationFallsBackToCookie(t *testing.T) {
	f := newFixture(t)
	a := newAuthenticator(f)

	token := issue(t, f, "u1", auth.ClaimSet{}, time.Minute)
	h := http.Header{}
	h.Set("Authorization", "Basic dXNlcjpwYXNz")
	req := AuthRequest{Headers: h, Cookies: []*http.Cookie{{Name: DefaultAccessCookie, Value: token}}}

	result, err := a.Authenticate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "u1", result.Principal.Subject)
}

// Scenario B: an untrusted internal-service header is rejected.
func TestAuthenticate_UntrustedInternalService(t *testing.T) {
	f := newFixture(t)
	a := newAuthenticator(f, "insurance-service")

	h := http.Header{}
	h.Set(auth.HeaderInternalService, "farmer-service")

	_, err := a.Authenticate(context.Background(), AuthRequest{Headers: h})
	assert.ErrorIs(t, err, ErrUntrustedIdentity)
}

func TestAuthenticate_UntrustedInternalServiceIgnoresValidToken(t *testing.T) {
	f := newFixture(t)
	a := newAuthenticator(f, "insurance-service")

	req := bearerRequest(issue(t, f, "u1", auth.ClaimSet{Roles: []string{"ADMIN"}}, time.Minute))
	req.Headers.Set(auth.HeaderInternalService, "farmer-service")

	_, err := a.Authenticate(context.Background(), req)
	assert.ErrorIs(t, err, ErrUntrustedIdentity)
}

func TestAuthenticate_TrustedInternalService(t *testing.T) {
	f := newFixture(t)
	a := newAuthenticator(f, "insurance-service")

	t.Run("with user id", func(t *testing.T) {
		h := http.Header{}
		h.Set(auth.HeaderInternalService, "insurance-service")
		h.Set(auth.HeaderUserID, ownerID)

		result, err := a.Authenticate(context.Background(), AuthRequest{Headers: h})
		require.NoError(t, err)
		assert.Equal(t, auth.PrincipalKindInternalService, result.Principal.Kind)
		assert.Equal(t, "internal-service-insurance-service", result.Principal.Subject)
		assert.Equal(t, ownerID, result.Principal.UserID)
		assert.Equal(t, []string{auth.RoleInternalService}, result.Principal.Authorities)
	})

	t.Run("malformed user id is dropped", func(t *testing.T) {
		h := http.Header{}
		h.Set(auth.HeaderInternalService, "insurance-service")
		h.Set(auth.HeaderUserID, "not-a-uuid")

		result, err := a.Authenticate(context.Background(), AuthRequest{Headers: h})
		require.NoError(t, err)
		assert.Empty(t, result.Principal.UserID)
	})

	t.Run("token headers are not consulted", func(t *testing.T) {
		h := http.Header{}
		h.Set(auth.HeaderInternalService, "insurance-service")
		h.Set("Authorization", "Bearer garbage")

		result, err := a.Authenticate(context.Background(), AuthRequest{Headers: h})
		require.NoError(t, err)
		assert.True(t, result.Principal.IsInternalService())
	})
}

func TestAuthenticate_Rejections(t *testing.T) {
	f := newFixture(t)
	a := newAuthenticator(f)

	t.Run("no credentials", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), AuthRequest{Headers: http.Header{}})
		assert.ErrorIs(t, err, ErrMissingCredential)
	})

	t.Run("stray user id header alone", func(t *testing.T) {
		h := http.Header{}
		h.Set(auth.HeaderUserID, ownerID)
		_, err := a.Authenticate(context.Background(), AuthRequest{Headers: h})
		assert.ErrorIs(t, err, ErrMissingCredential)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), bearerRequest("not-a-token"))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		token := issue(t, f, "u1", auth.ClaimSet{}, time.Minute)
		f.clock.Advance(2 * time.Minute)

		_, err := a.Authenticate(context.Background(), bearerRequest(token))
		assert.ErrorIs(t, err, ErrExpiredNoRefresh)
	})

	t.Run("refresh token cookie is ignored", func(t *testing.T) {
		token := issue(t, f, "u1", auth.ClaimSet{}, time.Minute)
		f.clock.Advance(2 * time.Minute)

		req := bearerRequest(token)
		req.Cookies = []*http.Cookie{{Name: "REFRESH_TOKEN", Value: "whatever"}}
		_, err := a.Authenticate(context.Background(), req)
		assert.ErrorIs(t, err, ErrExpiredNoRefresh)
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		token := issue(t, f, "u1", auth.ClaimSet{UserID: ownerID}, time.Minute)
		f.clock.Advance(2 * time.Minute)

		req := bearerRequest(token)
		req.Headers.Set(auth.HeaderRefreshToken, "unknown")
		_, err := a.Authenticate(context.Background(), req)
		assert.ErrorIs(t, err, ErrRenewalRejected)
	})
}

func TestAuthenticate_NoRenewerRejectsExpired(t *testing.T) {
	f := newFixture(t)
	a := NewRequestAuthenticator(f.codec, auth.NewTrustRegistry(nil), nil)

	token := issue(t, f, "u1", auth.ClaimSet{}, time.Minute)
	f.clock.Advance(2 * time.Minute)

	req := bearerRequest(token)
	req.Headers.Set(auth.HeaderRefreshToken, "anything")
	_, err := a.Authenticate(context.Background(), req)
	assert.ErrorIs(t, err, ErrRenewalRejected)
}

// Scenario C: expired access token plus a live refresh token renews.
func TestAuthenticate_RenewsExpiredToken(t *testing.T) {
	f := newFixture(t)
	a := newAuthenticator(f)
	ctx := context.Background()

	opened := f.login(t, "juan", farmerClaims(), false)
	f.clock.Advance(testLifetimes.Access + time.Minute)

	req := bearerRequest(opened.AccessToken)
	req.Headers.Set(auth.HeaderRefreshToken, "Bearer "+opened.RefreshToken)

	result, err := a.Authenticate(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result.Renewed)
	assert.Equal(t, "juan", result.Principal.Subject)
	assert.Equal(t, ownerID, result.Principal.UserID)
	assert.Equal(t, []string{"CAN_FILE_CLAIM", "ROLE_FARMER"}, result.Principal.Authorities)

	now := f.clock.Now()
	_, err = f.sessions.GetLive(ctx, ownerID, auth.HashRefreshToken(opened.RefreshToken), now)
	assert.Error(t, err, "old session row is gone")
	_, err = f.sessions.GetLive(ctx, ownerID, auth.HashRefreshToken(result.Renewed.RefreshToken), now)
	assert.NoError(t, err, "replacement row exists")

	claims, err := f.codec.Verify(result.Renewed.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.ExpiresAt.After(now))
}

// Scenario D: concurrent renewals with the same refresh token, exactly one wins.
func TestAuthenticate_ConcurrentRenewalIsSingleUse(t *testing.T) {
	f := newFixture(t)
	a := newAuthenticator(f)

	opened := f.login(t, "juan", farmerClaims(), false)
	f.clock.Advance(testLifetimes.Access + time.Minute)

	const attempts = 2
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		renewed  int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := bearerRequest(opened.AccessToken)
			req.Headers.Set(auth.HeaderRefreshToken, opened.RefreshToken)

			result, err := a.Authenticate(context.Background(), req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && result.Renewed != nil:
				renewed++
			case errors.Is(err, ErrRenewalRejected):
				rejected++
			default:
				t.Errorf("unexpected outcome: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, renewed)
	assert.Equal(t, 1, rejected)
}

func TestRefreshTokenFromHeaders(t *testing.T) {
	h := http.Header{}
	assert.Empty(t, RefreshTokenFromHeaders(h.Get))

	h.Set(auth.HeaderRefreshToken, "abc")
	assert.Equal(t, "abc", RefreshTokenFromHeaders(h.Get))

	h.Set(auth.HeaderRefreshToken, "Bearer abc")
	assert.Equal(t, "abc", RefreshTokenFromHeaders(h.Get))
}

func TestRejectionMessage(t *testing.T) {
	assert.Equal(t, "Unauthorized - Invalid X-Internal-Service header", RejectionMessage(ErrUntrustedIdentity))
	assert.Equal(t, "Unauthorized - Invalid or expired token", RejectionMessage(ErrExpiredNoRefresh))
	assert.Equal(t, "renewal_rejected", RejectionReason(errors.Join(errors.New("x"), ErrRenewalRejected)))
	assert.Equal(t, "internal_error", RejectionReason(errors.New("boom")))
}
