package middleware

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hashjosh/meshauth/internal/auth"
)

// AuthzDependencies provides the collaborators needed for authorization decisions.
type AuthzDependencies struct {
	Enforcer *auth.AuthorityEnforcer
	Logger   zerolog.Logger
}

// NewAuthzMiddleware enforces route authority policies. Paths no policy names
// pass through untouched.
func NewAuthzMiddleware(deps AuthzDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Enforcer == nil {
		return nil, errors.New("authz middleware requires an authority enforcer")
	}
	log := deps.Logger.With().Str("component", "authz").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !deps.Enforcer.Guards(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				WriteJSONError(w, http.StatusUnauthorized, "Unauthorized - Authentication required")
				return
			}

			allowed, err := deps.Enforcer.Allowed(principal, r.URL.Path, r.Method)
			if err != nil {
				log.Error().Err(err).Str("path", r.URL.Path).Msg("authority check failed")
				WriteJSONError(w, http.StatusInternalServerError, "authorization check failed")
				return
			}
			if !allowed {
				log.Info().
					Str("subject", principal.Subject).
					Strs("authorities", principal.Authorities).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("access denied")
				WriteJSONError(w, http.StatusForbidden, "Forbidden - Insufficient authority")
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}
