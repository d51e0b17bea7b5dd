package iam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/db/models"
	"github.com/hashjosh/meshauth/internal/repository"
	"github.com/hashjosh/meshauth/internal/telemetry"
)

// iamService implements the Service interface.
type iamService struct {
	users         repository.UserRepository
	codec         *auth.TokenCodec
	renewal       *RenewalService
	authenticator *RequestAuthenticator
	lifetimes     Lifetimes
	log           zerolog.Logger
}

// IAMServiceDependencies holds the stores and primitives the service is built from.
type IAMServiceDependencies struct {
	Users    repository.UserRepository
	Sessions repository.RefreshSessionRepository
	Codec    *auth.TokenCodec
	Trust    *auth.TrustRegistry
	Metrics  *telemetry.AuthMetrics
	Logger   zerolog.Logger
}

// IAMServiceConfig holds the tunables of the service.
type IAMServiceConfig struct {
	Lifetimes    Lifetimes
	AccessCookie string

	// EnrichOnRenewal re-reads roles and permissions from the users table on every renewal.
	EnrichOnRenewal bool
}

// NewIAMService creates the IAM service.
func NewIAMService(deps IAMServiceDependencies, cfg IAMServiceConfig) (Service, error) {
	if deps.Codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	if deps.Users == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("user and session repositories are required")
	}

	renewalOpts := []RenewalOption{
		WithRenewalMetrics(deps.Metrics),
		WithRenewalLogger(deps.Logger),
	}
	if cfg.EnrichOnRenewal {
		renewalOpts = append(renewalOpts, WithClaimsSource(NewUserClaimsSource(deps.Users)))
	}
	renewal := NewRenewalService(deps.Codec, deps.Sessions, cfg.Lifetimes, renewalOpts...)

	return &iamService{
		users:         deps.Users,
		codec:         deps.Codec,
		renewal:       renewal,
		authenticator: NewRequestAuthenticator(deps.Codec, deps.Trust, renewal, WithAccessCookie(cfg.AccessCookie)),
		lifetimes:     cfg.Lifetimes,
		log:           deps.Logger,
	}, nil
}

// AuthenticateRequest delegates to the request authenticator.
func (s *iamService) AuthenticateRequest(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	return s.authenticator.Authenticate(ctx, req)
}

// Login verifies the password and opens a session.
func (s *iamService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := verifyPasswordHash(user.PasswordHash, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.IsDisabled() {
		return nil, ErrAccountDisabled
	}

	claims := ClaimsFromUser(user)
	tokens, err := s.renewal.Open(ctx, OpenRequest{
		Subject:    user.Username,
		Claims:     claims,
		RememberMe: req.RememberMe,
		ClientIP:   req.ClientIP,
		UserAgent:  req.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	wsToken, err := s.codec.Issue(user.Username, claims, s.lifetimes.WebSocket)
	if err != nil {
		return nil, fmt.Errorf("issue websocket token: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record last login")
	}

	return &LoginResult{User: user, Tokens: tokens, WebSocketToken: wsToken}, nil
}

// Refresh rotates the session named by req.RefreshToken. Claims are rebuilt
// from the user record, so role changes take effect.
func (s *iamService) Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	if req.Principal.IsInternalService() || req.Principal.UserID == "" {
		return nil, fmt.Errorf("%w: %w", ErrRenewalRejected, ErrNoUserIdentity)
	}
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token presented", ErrRenewalRejected)
	}
	user, err := s.users.GetByID(ctx, req.Principal.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrRenewalRejected)
		}
		return nil, fmt.Errorf("load user %s: %w", req.Principal.UserID, err)
	}
	if user.IsDisabled() {
		return nil, fmt.Errorf("%w: %w", ErrRenewalRejected, ErrAccountDisabled)
	}

	return s.renewal.Renew(ctx, RenewalRequest{
		OwnerRef:       ownerOf(req.Principal),
		PresentedToken: req.RefreshToken,
		Subject:        req.Principal.Subject,
		Claims:         ClaimsFromUser(user),
		ClientIP:       req.ClientIP,
		UserAgent:      req.UserAgent,
	})
}

// Logout closes one session of the caller.
func (s *iamService) Logout(ctx context.Context, principal auth.Principal, refreshToken string) error {
	return s.renewal.Close(ctx, ownerOf(principal), refreshToken)
}

// ListSessions returns the caller's live sessions.
func (s *iamService) ListSessions(ctx context.Context, principal auth.Principal) ([]SessionInfo, error) {
	sessions, err := s.renewal.Sessions(ctx, ownerOf(principal))
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			ID:         sess.ID,
			ClientIP:   sess.ClientIP,
			UserAgent:  sess.UserAgent,
			RememberMe: sess.RememberMe,
			CreatedAt:  sess.CreatedAt,
			ExpiresAt:  sess.ExpiresAt,
		})
	}
	return out, nil
}

// RevokeUserSessions deletes every session of a user.
func (s *iamService) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	return s.renewal.RevokeOwner(ctx, userID)
}

// IssueWebSocketToken mints a short-lived token carrying the caller's current roles.
// The user record is authoritative; a missing, unknown or disabled user is refused.
func (s *iamService) IssueWebSocketToken(ctx context.Context, principal auth.Principal) (string, time.Time, error) {
	if principal.IsInternalService() {
		return "", time.Time{}, fmt.Errorf("websocket tokens are issued to end users only")
	}
	if principal.UserID == "" {
		return "", time.Time{}, fmt.Errorf("issue websocket token for %q: %w", principal.Subject, ErrNoUserIdentity)
	}
	user, err := s.users.GetByID(ctx, principal.UserID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load user %s: %w", principal.UserID, err)
	}
	if user.IsDisabled() {
		return "", time.Time{}, ErrAccountDisabled
	}

	expiresAt := s.codec.Now().Add(s.lifetimes.WebSocket)
	token, err := s.codec.Issue(principal.Subject, ClaimsFromUser(user), s.lifetimes.WebSocket)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue websocket token: %w", err)
	}
	return token, expiresAt, nil
}

// SweepExpiredSessions deletes expired sessions.
func (s *iamService) SweepExpiredSessions(ctx context.Context) (int64, error) {
	return s.renewal.Sweep(ctx)
}

// RunSessionSweeper blocks; run it in its own goroutine.
func (s *iamService) RunSessionSweeper(ctx context.Context, interval time.Duration) {
	s.renewal.RunSweeper(ctx, interval)
}

// CreateUser hashes the password and stores a new identity.
func (s *iamService) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" {
		return nil, fmt.Errorf("username and email are required")
	}
	if req.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.TrimSpace(req.Email),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PhoneNumber:  req.PhoneNumber,
		PasswordHash: string(hash),
		Roles:        models.StringList(req.Roles),
		Permissions:  models.StringList(req.Permissions),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns every provisioned identity.
func (s *iamService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

// DisableUser disables a user and revokes all of its sessions.
func (s *iamService) DisableUser(ctx context.Context, userID string) error {
	if err := s.users.SetDisabled(ctx, userID, true); err != nil {
		return err
	}
	if _, err := s.renewal.RevokeOwner(ctx, userID); err != nil {
		return err
	}
	return nil
}

// ownerOf returns the reference the principal's sessions are keyed by.
func ownerOf(p auth.Principal) string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.Subject
}

// verifyPasswordHash compares a bcrypt hash with a plaintext password.
func verifyPasswordHash(hash, password string) error {
	if hash == "" {
		return fmt.Errorf("no password set")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
