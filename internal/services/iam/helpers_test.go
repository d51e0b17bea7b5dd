package iam

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/db/dbtest"
	"github.com/hashjosh/meshauth/internal/repository"
)

const testSecret = "iam-test-secret-iam-test-secret-0123"

var testLifetimes = Lifetimes{
	Access:            15 * time.Minute,
	AccessRememberMe:  24 * time.Hour,
	Refresh:           7 * 24 * time.Hour,
	RefreshRememberMe: 30 * 24 * time.Hour,
	WebSocket:         5 * time.Minute,
}

// testClock is a settable clock shared by the codec and the renewal service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *testClock
	codec    *auth.TokenCodec
	users    *repository.BunUserRepository
	sessions *repository.BunRefreshSessionRepository
	renewal  *RenewalService
}

func newFixture(t *testing.T, opts ...RenewalOption) *fixture {
	t.Helper()

	db := dbtest.NewSQLite(t)
	clock := newTestClock()
	codec, err := auth.NewTokenCodec(testSecret, auth.WithIssuer("meshauth-test"), auth.WithClock(clock.Now))
	require.NoError(t, err)

	sessions := repository.NewBunRefreshSessionRepository(db)
	opts = append([]RenewalOption{WithRenewalClock(clock.Now)}, opts...)

	return &fixture{
		clock:    clock,
		codec:    codec,
		users:    repository.NewBunUserRepository(db),
		sessions: sessions,
		renewal:  NewRenewalService(codec, sessions, testLifetimes, opts...),
	}
}

// login opens a session for claims and returns the issued pair.
func (f *fixture) login(t *testing.T, subject string, claims auth.ClaimSet, rememberMe bool) *TokenPair {
	t.Helper()
	pair, err := f.renewal.Open(t.Context(), OpenRequest{
		Subject:    subject,
		Claims:     claims,
		RememberMe: rememberMe,
		ClientIP:   "10.0.0.1",
		UserAgent:  "test-agent",
	})
	require.NoError(t, err)
	return pair
}
