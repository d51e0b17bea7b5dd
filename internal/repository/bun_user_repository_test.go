package repository

import (
	"context"
	"testing"

	"github.com/hashjosh/meshauth/internal/db/dbtest"
	"github.com/hashjosh/meshauth/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBunUserRepository(t *testing.T) {
	repo := NewBunUserRepository(dbtest.NewSQLite(t))
	ctx := context.Background()

	user := &models.User{
		Username:     "juan",
		Email:        "juan@example.com",
		FirstName:    "Juan",
		LastName:     "Dela Cruz",
		PasswordHash: "$2a$10$hash",
		Roles:        models.StringList{"FARMER"},
		Permissions:  models.StringList{"can_file_claim", "can_view_claims"},
	}

	t.Run("create", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, user))
		assert.NotEmpty(t, user.ID)
		assert.NotZero(t, user.CreatedAt)
	})

	t.Run("get by username and id", func(t *testing.T) {
		got, err := repo.GetByUsername(ctx, "juan")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, models.StringList{"FARMER"}, got.Roles)
		assert.Equal(t, models.StringList{"can_file_claim", "can_view_claims"}, got.Permissions)
		assert.False(t, got.IsDisabled())
		assert.Nil(t, got.LastLoginAt)

		got, err = repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "juan@example.com", got.Email)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetByID(ctx, "0199f2c4-8a1e-7c3b-9a51-2b6c1f0e4d7a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		err := repo.Create(ctx, &models.User{Username: "juan", Email: "other@example.com", PasswordHash: "x"})
		assert.Error(t, err)
	})

	t.Run("last login and disable", func(t *testing.T) {
		require.NoError(t, repo.UpdateLastLogin(ctx, user.ID))
		require.NoError(t, repo.SetDisabled(ctx, user.ID, true))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.LastLoginAt)
		assert.True(t, got.IsDisabled())

		require.NoError(t, repo.SetDisabled(ctx, user.ID, false))
		got, err = repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, got.IsDisabled())

		assert.ErrorIs(t, repo.SetDisabled(ctx, "0199f2c4-8a1e-7c3b-9a51-2b6c1f0e4d7a", true), ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, &models.User{Username: "maria", Email: "maria@example.com", PasswordHash: "x"}))
		users, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 2)
	})
}
