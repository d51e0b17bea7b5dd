package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hashjosh/meshauth/internal/db/models"
)

// ErrNotFound is returned when a lookup, or a conditional delete, matches no row.
var ErrNotFound = errors.New("not found")

// UserRepository exposes persistence operations for locally provisioned identities.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
	List(ctx context.Context) ([]models.User, error)
}

// RefreshSessionRepository is the session store behind refresh-token rotation.
type RefreshSessionRepository interface {
	// Create stores a freshly issued session (login).
	Create(ctx context.Context, session *models.RefreshSession) error

	// Rotate atomically consumes the live session (ownerRef, tokenHash) and stores
	// replacement. It returns ErrNotFound, storing nothing, when no live session
	// matches; of several concurrent calls for the same token at most one succeeds.
	Rotate(ctx context.Context, ownerRef, tokenHash string, now time.Time, replacement *models.RefreshSession) error

	// GetLive returns the unexpired session (ownerRef, tokenHash).
	GetLive(ctx context.Context, ownerRef, tokenHash string, now time.Time) (*models.RefreshSession, error)

	DeleteByTokenHash(ctx context.Context, ownerRef, tokenHash string) error
	DeleteByOwner(ctx context.Context, ownerRef string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListByOwner(ctx context.Context, ownerRef string, now time.Time) ([]models.RefreshSession, error)
}
