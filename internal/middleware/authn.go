package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/services/iam"
	"github.com/hashjosh/meshauth/internal/telemetry"
)

const tracerName = "meshauth/middleware"

// Outcome labels recorded on auth.attempt.count.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeRenewed       = "renewed"
	OutcomePublic        = "public"
	OutcomeRejected      = "rejected"
)

// AuthenticateFunc runs the request authenticator. Both iam.Service.AuthenticateRequest
// and (*iam.RequestAuthenticator).Authenticate satisfy it.
type AuthenticateFunc func(ctx context.Context, req iam.AuthRequest) (*iam.AuthResult, error)

// AuthnDependencies bundles collaborators required by the authentication middleware.
type AuthnDependencies struct {
	Authenticate AuthenticateFunc
	// Skipper lets public paths through without any credential check.
	Skipper auth.Skipper
	Cookies CookieConfig
	Metrics *telemetry.AuthMetrics
	Logger  zerolog.Logger
}

// NewAuthnMiddleware authenticates every non-public request and stores the
// resulting Principal in the request context. Rejections are answered with 401
// and a JSON message; the downstream handler is not called.
func NewAuthnMiddleware(deps AuthnDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Authenticate == nil {
		return nil, errors.New("authn middleware requires an authenticator")
	}
	log := deps.Logger.With().Str("component", "authn").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if deps.Skipper != nil && deps.Skipper(r) {
				deps.Metrics.RecordAuth(ctx, OutcomePublic, "")
				next.ServeHTTP(w, r)
				return
			}

			ww := ensureWrapped(w, r)
			spanCtx, span := telemetry.StartSpan(ctx, tracerName, "authn.Authenticate")
			result, err := deps.Authenticate(spanCtx, iam.NewAuthRequest(r))
			if err != nil {
				telemetry.RecordError(span, err)
				span.End()
				reason := iam.RejectionReason(err)
				deps.Metrics.RecordAuth(ctx, OutcomeRejected, reason)
				event := log.Warn()
				if reason == "internal_error" {
					event = log.Error()
				}
				event.Err(err).
					Str("reason", reason).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("request rejected")
				WriteJSONError(ww, http.StatusUnauthorized, iam.RejectionMessage(err))
				return
			}

			span.SetAttributes(telemetry.PrincipalAttributes(string(result.Principal.Kind), result.Principal.ServiceID)...)
			span.End()

			ctx = auth.WithPrincipal(ctx, result.Principal)
			outcome := OutcomeAuthenticated
			if result.Renewed != nil {
				outcome = OutcomeRenewed
				ctx = withRenewedTokens(ctx, result.Renewed)
				SetTokenCookies(ww, deps.Cookies, result.Renewed)
				log.Debug().
					Str("subject", result.Principal.Subject).
					Time("access_expires_at", result.Renewed.AccessExpiresAt).
					Msg("access token renewed in-band")
			}
			deps.Metrics.RecordAuth(ctx, outcome, "")

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}, nil
}
