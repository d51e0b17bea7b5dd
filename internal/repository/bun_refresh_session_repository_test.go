package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashjosh/meshauth/internal/db/dbtest"
	"github.com/hashjosh/meshauth/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(owner, hash string, expiresAt time.Time) *models.RefreshSession {
	return &models.RefreshSession{
		TokenHash: hash,
		UserRef:   owner,
		ClientIP:  "10.0.0.1",
		UserAgent: "test-agent",
		ExpiresAt: expiresAt,
	}
}

func TestBunRefreshSessionRepository_CreateAndGet(t *testing.T) {
	repo := NewBunRefreshSessionRepository(dbtest.NewSQLite(t))
	ctx := context.Background()
	now := time.Now()

	session := newSession("owner-1", "hash-1", now.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, session))
	assert.NotEmpty(t, session.ID)
	assert.NotZero(t, session.CreatedAt)

	got, err := repo.GetLive(ctx, "owner-1", "hash-1", now)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, "10.0.0.1", got.ClientIP)
	assert.Equal(t, "test-agent", got.UserAgent)

	_, err = repo.GetLive(ctx, "owner-2", "hash-1", now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetLive(ctx, "owner-1", "hash-1", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBunRefreshSessionRepository_Rotate(t *testing.T) {
	repo := NewBunRefreshSessionRepository(dbtest.NewSQLite(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newSession("owner-1", "old", now.Add(time.Hour))))

	t.Run("consumes the presented session and stores the replacement", func(t *testing.T) {
		err := repo.Rotate(ctx, "owner-1", "old", now, newSession("owner-1", "new", now.Add(time.Hour)))
		require.NoError(t, err)

		_, err = repo.GetLive(ctx, "owner-1", "old", now)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetLive(ctx, "owner-1", "new", now)
		assert.NoError(t, err)
	})

	t.Run("a consumed token cannot be replayed", func(t *testing.T) {
		err := repo.Rotate(ctx, "owner-1", "old", now, newSession("owner-1", "replay", now.Add(time.Hour)))
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.GetLive(ctx, "owner-1", "replay", now)
		assert.ErrorIs(t, err, ErrNotFound, "nothing is stored on rejection")
	})

	t.Run("owner must match", func(t *testing.T) {
		err := repo.Rotate(ctx, "owner-2", "new", now, newSession("owner-2", "stolen", now.Add(time.Hour)))
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.GetLive(ctx, "owner-1", "new", now)
		assert.NoError(t, err, "the victim's session survives")
	})

	t.Run("expired but unswept sessions are absent", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newSession("owner-3", "stale", now.Add(-time.Minute))))

		err := repo.Rotate(ctx, "owner-3", "stale", now, newSession("owner-3", "fresh", now.Add(time.Hour)))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBunRefreshSessionRepository_ConcurrentRotate(t *testing.T) {
	repo := NewBunRefreshSessionRepository(dbtest.NewSQLite(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newSession("owner-1", "shared", now.Add(time.Hour))))

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replacement := newSession("owner-1", "replacement-"+string(rune('a'+i)), now.Add(time.Hour))
			err := repo.Rotate(ctx, "owner-1", "shared", now, replacement)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrNotFound):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)

	live, err := repo.ListByOwner(ctx, "owner-1", now)
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestBunRefreshSessionRepository_IndependentTokensForSameOwner(t *testing.T) {
	repo := NewBunRefreshSessionRepository(dbtest.NewSQLite(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newSession("owner-1", "laptop", now.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, newSession("owner-1", "phone", now.Add(time.Hour))))

	require.NoError(t, repo.Rotate(ctx, "owner-1", "laptop", now, newSession("owner-1", "laptop-2", now.Add(time.Hour))))
	require.NoError(t, repo.Rotate(ctx, "owner-1", "phone", now, newSession("owner-1", "phone-2", now.Add(time.Hour))))

	live, err := repo.ListByOwner(ctx, "owner-1", now)
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestBunRefreshSessionRepository_Deletes(t *testing.T) {
	repo := NewBunRefreshSessionRepository(dbtest.NewSQLite(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newSession("owner-1", "a", now.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, newSession("owner-1", "b", now.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, newSession("owner-1", "c", now.Add(-time.Hour))))
	require.NoError(t, repo.Create(ctx, newSession("owner-2", "d", now.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, newSession("owner-2", "e", now.Add(-time.Hour))))

	t.Run("list excludes expired sessions", func(t *testing.T) {
		live, err := repo.ListByOwner(ctx, "owner-1", now)
		require.NoError(t, err)
		assert.Len(t, live, 2)
	})

	t.Run("delete by token hash", func(t *testing.T) {
		require.NoError(t, repo.DeleteByTokenHash(ctx, "owner-1", "a"))
		assert.ErrorIs(t, repo.DeleteByTokenHash(ctx, "owner-1", "a"), ErrNotFound)
		assert.ErrorIs(t, repo.DeleteByTokenHash(ctx, "owner-1", "d"), ErrNotFound, "other owners' sessions are untouched")
	})

	t.Run("sweep expired", func(t *testing.T) {
		n, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("delete by owner", func(t *testing.T) {
		n, err := repo.DeleteByOwner(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		live, err := repo.ListByOwner(ctx, "owner-2", now)
		require.NoError(t, err)
		assert.Len(t, live, 1)
	})
}
