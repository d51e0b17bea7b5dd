package iam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/config"
	"github.com/hashjosh/meshauth/internal/db/models"
	"github.com/hashjosh/meshauth/internal/repository"
	"github.com/hashjosh/meshauth/internal/telemetry"
)

const tracerName = "meshauth/services/iam"

// Lifetimes of issued credentials.
type Lifetimes struct {
	Access            time.Duration
	AccessRememberMe  time.Duration
	Refresh           time.Duration
	RefreshRememberMe time.Duration
	WebSocket         time.Duration
}

// LifetimesFromConfig reads token lifetimes from the auth configuration.
func LifetimesFromConfig(cfg config.AuthConfig) Lifetimes {
	return Lifetimes{
		Access:            cfg.AccessTokenTTL,
		AccessRememberMe:  cfg.AccessTokenRememberMeTTL,
		Refresh:           cfg.RefreshTokenTTL,
		RefreshRememberMe: cfg.RefreshTokenRememberMeTTL,
		WebSocket:         cfg.WebSocketTokenTTL,
	}
}

func (l Lifetimes) access(rememberMe bool) time.Duration {
	if rememberMe {
		return l.AccessRememberMe
	}
	return l.Access
}

func (l Lifetimes) refresh(rememberMe bool) time.Duration {
	if rememberMe {
		return l.RefreshRememberMe
	}
	return l.Refresh
}

// TokenPair is a freshly issued access token and its refresh token.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RememberMe       bool
}

// ClaimsSource re-reads the claims of an owner from the identity store so that
// role changes take effect on the next renewal.
type ClaimsSource interface {
	ClaimsFor(ctx context.Context, ownerRef, subject string) (auth.ClaimSet, error)
}

// RenewalRequest carries everything Renew needs from an expired request.
type RenewalRequest struct {
	OwnerRef       string
	PresentedToken string
	Subject        string
	Claims         auth.ClaimSet
	ClientIP       string
	UserAgent      string
}

// OpenRequest describes a session opened at login.
type OpenRequest struct {
	Subject    string
	Claims     auth.ClaimSet
	RememberMe bool
	ClientIP   string
	UserAgent  string
}

// RenewalService issues, rotates, and revokes refresh sessions.
// It is safe for concurrent use; concurrency control lives in the session store.
type RenewalService struct {
	codec     *auth.TokenCodec
	sessions  repository.RefreshSessionRepository
	claims    ClaimsSource
	lifetimes Lifetimes
	metrics   *telemetry.AuthMetrics
	log       zerolog.Logger
	now       func() time.Time
}

// RenewalOption customises a RenewalService.
type RenewalOption func(*RenewalService)

// WithClaimsSource enables claim enrichment on renewal.
func WithClaimsSource(source ClaimsSource) RenewalOption {
	return func(s *RenewalService) {
		s.claims = source
	}
}

// WithRenewalMetrics records rotations on m.
func WithRenewalMetrics(m *telemetry.AuthMetrics) RenewalOption {
	return func(s *RenewalService) {
		s.metrics = m
	}
}

// WithRenewalLogger sets the logger.
func WithRenewalLogger(log zerolog.Logger) RenewalOption {
	return func(s *RenewalService) {
		s.log = log
	}
}

// WithRenewalClock overrides the time source (tests).
func WithRenewalClock(now func() time.Time) RenewalOption {
	return func(s *RenewalService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRenewalService creates a renewal service over the given session store.
func NewRenewalService(codec *auth.TokenCodec, sessions repository.RefreshSessionRepository, lifetimes Lifetimes, opts ...RenewalOption) *RenewalService {
	s := &RenewalService{
		codec:     codec,
		sessions:  sessions,
		lifetimes: lifetimes,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open issues the first token pair of a new session (login).
func (s *RenewalService) Open(ctx context.Context, req OpenRequest) (*TokenPair, error) {
	now := s.now()
	pair, hash, err := s.issue(req.Subject, req.Claims, req.RememberMe, now)
	if err != nil {
		return nil, err
	}

	session := &models.RefreshSession{
		TokenHash:  hash,
		UserRef:    req.Claims.OwnerRef(),
		ClientIP:   req.ClientIP,
		UserAgent:  req.UserAgent,
		RememberMe: req.RememberMe,
		ExpiresAt:  pair.RefreshExpiresAt,
	}
	if session.UserRef == "" {
		session.UserRef = req.Subject
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return pair, nil
}

// Renew consumes the presented refresh token and returns a new pair.
//
// The presented session is deleted and its replacement inserted in one
// transaction. Of several concurrent renewals presenting the same token,
// exactly one succeeds; the rest get ErrRenewalRejected. Claim enrichment
// failures also reject and are not retried.
func (s *RenewalService) Renew(ctx context.Context, req RenewalRequest) (pair *TokenPair, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.Renew",
		attribute.String(telemetry.AttrOwnerRef, req.OwnerRef),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		s.metrics.RecordRenewal(ctx, err == nil)
	}()

	if req.OwnerRef == "" || req.PresentedToken == "" || req.Subject == "" {
		return nil, fmt.Errorf("%w: incomplete renewal request", ErrRenewalRejected)
	}

	now := s.now()
	presentedHash := auth.HashRefreshToken(req.PresentedToken)

	current, err := s.sessions.GetLive(ctx, req.OwnerRef, presentedHash, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no live session", ErrRenewalRejected)
		}
		return nil, fmt.Errorf("look up refresh session: %w", err)
	}
	span.SetAttributes(attribute.Bool(telemetry.AttrRememberMe, current.RememberMe))

	claims := req.Claims
	if s.claims != nil {
		claims, err = s.claims.ClaimsFor(ctx, req.OwnerRef, req.Subject)
		if err != nil {
			return nil, fmt.Errorf("%w: claims enrichment: %v", ErrRenewalRejected, err)
		}
	}

	pair, replacementHash, err := s.issue(req.Subject, claims, current.RememberMe, now)
	if err != nil {
		return nil, err
	}

	replacement := &models.RefreshSession{
		TokenHash:  replacementHash,
		UserRef:    req.OwnerRef,
		ClientIP:   req.ClientIP,
		UserAgent:  req.UserAgent,
		RememberMe: current.RememberMe,
		ExpiresAt:  pair.RefreshExpiresAt,
	}
	if err := s.sessions.Rotate(ctx, req.OwnerRef, presentedHash, now, replacement); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session already consumed", ErrRenewalRejected)
		}
		return nil, fmt.Errorf("rotate refresh session: %w", err)
	}

	s.log.Debug().Str("owner", req.OwnerRef).Msg("refresh session rotated")
	return pair, nil
}

// Close deletes the session named by refreshToken (logout). Closing an unknown
// or already consumed session is not an error.
func (s *RenewalService) Close(ctx context.Context, ownerRef, refreshToken string) error {
	if ownerRef == "" || refreshToken == "" {
		return nil
	}
	err := s.sessions.DeleteByTokenHash(ctx, ownerRef, auth.HashRefreshToken(refreshToken))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// RevokeOwner deletes every session of ownerRef.
func (s *RenewalService) RevokeOwner(ctx context.Context, ownerRef string) (int64, error) {
	n, err := s.sessions.DeleteByOwner(ctx, ownerRef)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return n, nil
}

// Sessions lists the live sessions of ownerRef.
func (s *RenewalService) Sessions(ctx context.Context, ownerRef string) ([]models.RefreshSession, error) {
	return s.sessions.ListByOwner(ctx, ownerRef, s.now())
}

// Sweep deletes expired sessions.
func (s *RenewalService) Sweep(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *RenewalService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("session sweep failed")
				continue
			}
			if n > 0 {
				s.log.Info().Int64("deleted", n).Msg("expired sessions swept")
			}
		}
	}
}

// issue mints an access token and a refresh token. It performs no I/O.
func (s *RenewalService) issue(subject string, claims auth.ClaimSet, rememberMe bool, now time.Time) (*TokenPair, string, error) {
	accessTTL := s.lifetimes.access(rememberMe)
	accessToken, err := s.codec.Issue(subject, claims, accessTTL)
	if err != nil {
		return nil, "", fmt.Errorf("issue access token: %w", err)
	}

	refreshToken, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  now.Add(accessTTL),
		RefreshToken:     refreshToken,
		RefreshExpiresAt: now.Add(s.lifetimes.refresh(rememberMe)),
		RememberMe:       rememberMe,
	}, refreshHash, nil
}
