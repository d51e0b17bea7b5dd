package iam

import (
	"context"
	"time"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/db/models"
)

// Service provides the identity operations of one service of the mesh.
//
// This service centralizes:
//   - Authentication (request path)
//   - Session lifecycle (login, logout, renewal, revocation)
//   - Local identity provisioning (CLI)
type Service interface {
	// =========================================================================
	// Authentication (Request Path)
	// =========================================================================

	// AuthenticateRequest runs the trust-propagation protocol for one request.
	AuthenticateRequest(ctx context.Context, req AuthRequest) (*AuthResult, error)

	// =========================================================================
	// Session Management
	// =========================================================================

	// Login verifies a username/password pair and opens a refresh session.
	// Returns ErrInvalidCredentials or ErrAccountDisabled on refusal.
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)

	// Refresh rotates the caller's session explicitly. The presented token is
	// consumed exactly as in in-band renewal; a consumed or foreign token yields
	// ErrRenewalRejected.
	Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error)

	// Logout closes the session named by refreshToken. Unknown tokens are ignored.
	Logout(ctx context.Context, principal auth.Principal, refreshToken string) error

	// ListSessions returns the caller's live sessions without token material.
	ListSessions(ctx context.Context, principal auth.Principal) ([]SessionInfo, error)

	// RevokeUserSessions deletes every session of a user and returns how many were removed.
	RevokeUserSessions(ctx context.Context, userID string) (int64, error)

	// IssueWebSocketToken mints a short-lived token for the realtime handshake.
	IssueWebSocketToken(ctx context.Context, principal auth.Principal) (string, time.Time, error)

	// SweepExpiredSessions deletes expired refresh sessions.
	SweepExpiredSessions(ctx context.Context) (int64, error)

	// RunSessionSweeper sweeps expired sessions every interval until ctx is done.
	RunSessionSweeper(ctx context.Context, interval time.Duration)

	// =========================================================================
	// Identity Management (CLI)
	// =========================================================================

	CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	DisableUser(ctx context.Context, userID string) error
}

// LoginRequest is a password login.
type LoginRequest struct {
	Username   string
	Password   string
	RememberMe bool
	ClientIP   string
	UserAgent  string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User           *models.User
	Tokens         *TokenPair
	WebSocketToken string
}

// RefreshRequest is an explicit session rotation by an authenticated caller.
type RefreshRequest struct {
	Principal    auth.Principal
	RefreshToken string
	ClientIP     string
	UserAgent    string
}

// SessionInfo describes a live refresh session.
type SessionInfo struct {
	ID         string    `json:"id"`
	ClientIP   string    `json:"clientIp"`
	UserAgent  string    `json:"userAgent"`
	RememberMe bool      `json:"rememberMe"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// CreateUserRequest provisions a local identity.
type CreateUserRequest struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
	Roles       []string
	Permissions []string
}
