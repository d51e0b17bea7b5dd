package iam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashjosh/meshauth/internal/auth"
)

const ownerID = "0199f2c4-8a1e-7c3b-9a51-2b6c1f0e4d7a"

func farmerClaims() auth.ClaimSet {
	return auth.ClaimSet{UserID: ownerID, Roles: []string{"FARMER"}, Permissions: []string{"can_file_claim"}}
}

func TestRenewalService_OpenAndRenew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened := f.login(t, "juan", farmerClaims(), false)
	assert.Equal(t, f.clock.Now().Add(testLifetimes.Access), opened.AccessExpiresAt)
	assert.Equal(t, f.clock.Now().Add(testLifetimes.Refresh), opened.RefreshExpiresAt)

	f.clock.Advance(20 * time.Minute)

	renewed, err := f.renewal.Renew(ctx, RenewalRequest{
		OwnerRef:       ownerID,
		PresentedToken: opened.RefreshToken,
		Subject:        "juan",
		Claims:         farmerClaims(),
		ClientIP:       "10.0.0.2",
		UserAgent:      "renewing-agent",
	})
	require.NoError(t, err)
	assert.NotEqual(t, opened.RefreshToken, renewed.RefreshToken)

	claims, err := f.codec.Verify(renewed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "juan", claims.Subject)
	assert.Equal(t, ownerID, claims.UserID)
	assert.Equal(t, []string{"FARMER"}, claims.Roles)

	now := f.clock.Now()
	_, err = f.sessions.GetLive(ctx, ownerID, auth.HashRefreshToken(opened.RefreshToken), now)
	assert.Error(t, err, "the presented session is consumed")

	replacement, err := f.sessions.GetLive(ctx, ownerID, auth.HashRefreshToken(renewed.RefreshToken), now)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", replacement.ClientIP)
	assert.Equal(t, "renewing-agent", replacement.UserAgent)
}

func TestRenewalService_RejectsReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened := f.login(t, "juan", farmerClaims(), false)
	req := RenewalRequest{OwnerRef: ownerID, PresentedToken: opened.RefreshToken, Subject: "juan", Claims: farmerClaims()}

	_, err := f.renewal.Renew(ctx, req)
	require.NoError(t, err)

	_, err = f.renewal.Renew(ctx, req)
	assert.ErrorIs(t, err, ErrRenewalRejected)
}

func TestRenewalService_RejectsForeignOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened := f.login(t, "juan", farmerClaims(), false)

	_, err := f.renewal.Renew(ctx, RenewalRequest{
		OwnerRef:       "0199f2c4-0000-7000-8000-000000000000",
		PresentedToken: opened.RefreshToken,
		Subject:        "maria",
	})
	assert.ErrorIs(t, err, ErrRenewalRejected)

	_, err = f.renewal.Renew(ctx, RenewalRequest{OwnerRef: ownerID, PresentedToken: opened.RefreshToken, Subject: "juan"})
	assert.NoError(t, err, "the rightful owner can still renew")
}

func TestRenewalService_RejectsExpiredSession(t *testing.T) {
	f := newFixture(t)

	opened := f.login(t, "juan", farmerClaims(), false)
	f.clock.Advance(testLifetimes.Refresh + time.Second)

	_, err := f.renewal.Renew(context.Background(), RenewalRequest{OwnerRef: ownerID, PresentedToken: opened.RefreshToken, Subject: "juan"})
	assert.ErrorIs(t, err, ErrRenewalRejected)
}

func TestRenewalService_RejectsIncompleteRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.renewal.Renew(context.Background(), RenewalRequest{OwnerRef: ownerID, Subject: "juan"})
	assert.ErrorIs(t, err, ErrRenewalRejected)
}

func TestRenewalService_PreservesRememberMe(t *testing.T) {
	f := newFixture(t)

	opened := f.login(t, "juan", farmerClaims(), true)
	assert.Equal(t, f.clock.Now().Add(testLifetimes.AccessRememberMe), opened.AccessExpiresAt)

	renewed, err := f.renewal.Renew(context.Background(), RenewalRequest{OwnerRef: ownerID, PresentedToken: opened.RefreshToken, Subject: "juan", Claims: farmerClaims()})
	require.NoError(t, err)
	assert.True(t, renewed.RememberMe)
	assert.Equal(t, f.clock.Now().Add(testLifetimes.RefreshRememberMe), renewed.RefreshExpiresAt)
}

type stubClaimsSource struct {
	claims auth.ClaimSet
	err    error
	calls  int
}

func (s *stubClaimsSource) ClaimsFor(ctx context.Context, ownerRef, subject string) (auth.ClaimSet, error) {
	s.calls++
	return s.claims, s.err
}

func TestRenewalService_ClaimsEnrichment(t *testing.T) {
	source := &stubClaimsSource{claims: auth.ClaimSet{UserID: ownerID, Roles: []string{"FARMER", "UNDERWRITER"}}}
	f := newFixture(t, WithClaimsSource(source))

	opened := f.login(t, "juan", farmerClaims(), false)
	renewed, err := f.renewal.Renew(context.Background(), RenewalRequest{OwnerRef: ownerID, PresentedToken: opened.RefreshToken, Subject: "juan", Claims: farmerClaims()})
	require.NoError(t, err)

	claims, err := f.codec.Verify(renewed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"FARMER", "UNDERWRITER"}, claims.Roles)
	assert.Equal(t, 1, source.calls)
}

func TestRenewalService_ClaimsEnrichmentFailureRejects(t *testing.T) {
	source := &stubClaimsSource{err: errors.New("identity store unavailable")}
	f := newFixture(t, WithClaimsSource(source))
	ctx := context.Background()

	opened := f.login(t, "juan", farmerClaims(), false)
	_, err := f.renewal.Renew(ctx, RenewalRequest{OwnerRef: ownerID, PresentedToken: opened.RefreshToken, Subject: "juan"})
	assert.ErrorIs(t, err, ErrRenewalRejected)
	assert.Equal(t, 1, source.calls, "enrichment is not retried")

	_, err = f.sessions.GetLive(ctx, ownerID, auth.HashRefreshToken(opened.RefreshToken), f.clock.Now())
	assert.NoError(t, err, "a rejected renewal leaves the session untouched")
}

func TestRenewalService_CloseRevokeSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.login(t, "juan", farmerClaims(), false)
	f.login(t, "juan", farmerClaims(), false)
	f.login(t, "juan", farmerClaims(), true)

	sessions, err := f.renewal.Sessions(ctx, ownerID)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)

	require.NoError(t, f.renewal.Close(ctx, ownerID, first.RefreshToken))
	require.NoError(t, f.renewal.Close(ctx, ownerID, first.RefreshToken), "closing twice is not an error")

	sessions, err = f.renewal.Sessions(ctx, ownerID)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	// Only the remember-me session outlives the regular refresh lifetime.
	f.clock.Advance(testLifetimes.Refresh + time.Minute)
	n, err := f.renewal.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.renewal.RevokeOwner(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRenewalService_OpenFallsBackToSubject(t *testing.T) {
	f := newFixture(t)

	f.login(t, "svc-user", auth.ClaimSet{}, false)

	sessions, err := f.renewal.Sessions(context.Background(), "svc-user")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "svc-user", sessions[0].UserRef)
}
