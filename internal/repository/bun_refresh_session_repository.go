package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashjosh/meshauth/internal/db/bunx"
	"github.com/hashjosh/meshauth/internal/db/models"
	"github.com/uptrace/bun"
)

// BunRefreshSessionRepository implements RefreshSessionRepository using Bun ORM
type BunRefreshSessionRepository struct {
	db *bun.DB
}

// NewBunRefreshSessionRepository creates a new Bun-based refresh session repository
func NewBunRefreshSessionRepository(db *bun.DB) *BunRefreshSessionRepository {
	return &BunRefreshSessionRepository{db: db}
}

// Create inserts a new session
func (r *BunRefreshSessionRepository) Create(ctx context.Context, session *models.RefreshSession) error {
	prepareSession(session)
	_, err := r.db.NewInsert().
		Model(session).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create refresh session: %w", err)
	}
	return nil
}

// Rotate deletes the presented session and inserts its replacement in one transaction.
// The conditional delete is the single point of arbitration between concurrent renewals.
func (r *BunRefreshSessionRepository) Rotate(ctx context.Context, ownerRef, tokenHash string, now time.Time, replacement *models.RefreshSession) error {
	prepareSession(replacement)

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*models.RefreshSession)(nil)).
			Where("user_ref = ?", ownerRef).
			Where("token_hash = ?", tokenHash).
			Where("expires_at > ?", now.UTC()).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("consume refresh session: %w", err)
		}

		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}

		if _, err := tx.NewInsert().Model(replacement).Exec(ctx); err != nil {
			return fmt.Errorf("store replacement session: %w", err)
		}
		return nil
	})
}

// GetLive retrieves an unexpired session by owner and token hash
func (r *BunRefreshSessionRepository) GetLive(ctx context.Context, ownerRef, tokenHash string, now time.Time) (*models.RefreshSession, error) {
	session := new(models.RefreshSession)
	err := r.db.NewSelect().
		Model(session).
		Where("user_ref = ?", ownerRef).
		Where("token_hash = ?", tokenHash).
		Where("expires_at > ?", now.UTC()).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get refresh session: %w", err)
	}
	return session, nil
}

// DeleteByTokenHash deletes a single session (logout)
func (r *BunRefreshSessionRepository) DeleteByTokenHash(ctx context.Context, ownerRef, tokenHash string) error {
	res, err := r.db.NewDelete().
		Model((*models.RefreshSession)(nil)).
		Where("user_ref = ?", ownerRef).
		Where("token_hash = ?", tokenHash).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete refresh session: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByOwner revokes every session of a user
func (r *BunRefreshSessionRepository) DeleteByOwner(ctx context.Context, ownerRef string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.RefreshSession)(nil)).
		Where("user_ref = ?", ownerRef).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired deletes all sessions expired at now
// Run periodically by the sweeper
func (r *BunRefreshSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.RefreshSession)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// ListByOwner retrieves the live sessions of a user, newest first
func (r *BunRefreshSessionRepository) ListByOwner(ctx context.Context, ownerRef string, now time.Time) ([]models.RefreshSession, error) {
	var sessions []models.RefreshSession
	err := r.db.NewSelect().
		Model(&sessions).
		Where("user_ref = ?", ownerRef).
		Where("expires_at > ?", now.UTC()).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	return sessions, nil
}

func prepareSession(s *models.RefreshSession) {
	if s.ID == "" {
		s.ID = bunx.NewUUIDv7()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
}
