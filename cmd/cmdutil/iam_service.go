package cmdutil

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/config"
	"github.com/hashjosh/meshauth/internal/db/bunx"
	"github.com/hashjosh/meshauth/internal/repository"
	"github.com/hashjosh/meshauth/internal/services/iam"
	"github.com/hashjosh/meshauth/internal/telemetry"
)

// IAMServiceOptions controls how commands construct the IAM service.
type IAMServiceOptions struct {
	// EnrichOnRenewal re-reads roles from the users table on renewal (serve).
	EnrichOnRenewal bool
	// Metrics is optional; offline commands leave it nil.
	Metrics *telemetry.AuthMetrics
}

// IAMServiceBundle bundles the service with its underlying DB connection so callers can
// reuse the connection for other repositories when necessary.
type IAMServiceBundle struct {
	Service iam.Service
	Codec   *auth.TokenCodec
	Trust   *auth.TrustRegistry
	DB      *bun.DB
}

// Close releases the underlying database connection.
func (b *IAMServiceBundle) Close() {
	if b == nil || b.DB == nil {
		return
	}
	_ = bunx.Close(b.DB)
}

// NewIAMServiceBundle centralizes IAM service construction for commands.
// It connects to the database, builds the token codec and trust registry, and
// returns a ready-to-use service.
func NewIAMServiceBundle(cfg *config.Config, log zerolog.Logger, opts IAMServiceOptions) (*IAMServiceBundle, error) {
	codec, trust, err := NewCodecAndTrust(cfg)
	if err != nil {
		return nil, err
	}

	db, err := bunx.NewDB(cfg.DatabaseURL, bunx.WithMaxOpenConns(cfg.MaxDBConnections))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	svc, err := iam.NewIAMService(
		iam.IAMServiceDependencies{
			Users:    repository.NewBunUserRepository(db),
			Sessions: repository.NewBunRefreshSessionRepository(db),
			Codec:    codec,
			Trust:    trust,
			Metrics:  opts.Metrics,
			Logger:   log,
		},
		iam.IAMServiceConfig{
			Lifetimes:       iam.LifetimesFromConfig(cfg.Auth),
			AccessCookie:    cfg.Auth.AccessCookieName,
			EnrichOnRenewal: opts.EnrichOnRenewal,
		},
	)
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("failed to create IAM service: %w", err)
	}

	return &IAMServiceBundle{
		Service: svc,
		Codec:   codec,
		Trust:   trust,
		DB:      db,
	}, nil
}

// NewCodecAndTrust builds the protocol primitives shared by every process of the mesh.
// Without a configured secret the codec is keyed with a random ephemeral secret;
// offline commands (users, sessions) never issue or verify tokens.
func NewCodecAndTrust(cfg *config.Config) (*auth.TokenCodec, *auth.TrustRegistry, error) {
	trust := auth.NewTrustRegistry(cfg.Trust.InternalServiceIDs)
	secret := cfg.Auth.Secret
	if secret == "" {
		secret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	}
	codec, err := auth.NewTokenCodec(secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token codec: %w", err)
	}
	return codec, trust, nil
}
