package iam

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/db/models"
	"github.com/hashjosh/meshauth/internal/repository"
)

// UserClaimsSource enriches renewals from the users table.
type UserClaimsSource struct {
	users repository.UserRepository
}

// NewUserClaimsSource creates a ClaimsSource backed by users.
func NewUserClaimsSource(users repository.UserRepository) *UserClaimsSource {
	return &UserClaimsSource{users: users}
}

// ClaimsFor looks the owner up by id (or by username when the owner reference
// is not a UUID) and returns its current claims. Disabled accounts are refused.
func (c *UserClaimsSource) ClaimsFor(ctx context.Context, ownerRef, subject string) (auth.ClaimSet, error) {
	var (
		user *models.User
		err  error
	)
	if _, parseErr := uuid.Parse(ownerRef); parseErr == nil {
		user, err = c.users.GetByID(ctx, ownerRef)
	} else {
		user, err = c.users.GetByUsername(ctx, subject)
	}
	if err != nil {
		return auth.ClaimSet{}, fmt.Errorf("load user: %w", err)
	}
	if user.IsDisabled() {
		return auth.ClaimSet{}, ErrAccountDisabled
	}
	return ClaimsFromUser(user), nil
}

// ClaimsFromUser builds the access token claims of a user.
func ClaimsFromUser(u *models.User) auth.ClaimSet {
	return auth.ClaimSet{
		Subject:     u.Username,
		UserID:      u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		Roles:       append([]string(nil), u.Roles...),
		Permissions: append([]string(nil), u.Permissions...),
	}
}
