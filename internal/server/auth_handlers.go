package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/middleware"
	"github.com/hashjosh/meshauth/internal/repository"
	"github.com/hashjosh/meshauth/internal/services/iam"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// UserResponse describes the logged-in user.
type UserResponse struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// LoginResponse is returned by a successful login. Access and refresh tokens are
// also set as cookies.
type LoginResponse struct {
	User                  UserResponse `json:"user"`
	AccessTokenExpiresAt  int64        `json:"accessTokenExpiresAt"`
	RefreshToken          string       `json:"refreshToken"`
	RefreshTokenExpiresAt int64        `json:"refreshTokenExpiresAt"`
	WebSocketToken        string       `json:"websocketToken"`
	RememberMe            bool         `json:"rememberMe"`
}

// RefreshResponse is returned by POST /refresh. Both tokens are also set as cookies.
type RefreshResponse struct {
	AccessTokenExpiresAt  int64  `json:"accessTokenExpiresAt"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresAt int64  `json:"refreshTokenExpiresAt"`
	RememberMe            bool   `json:"rememberMe"`
}

// PrincipalResponse renders the Principal installed on the request.
type PrincipalResponse struct {
	Kind        string   `json:"kind"`
	Subject     string   `json:"subject"`
	UserID      string   `json:"userId,omitempty"`
	ServiceID   string   `json:"serviceId,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	Email       string   `json:"email,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Authorities []string `json:"authorities"`
}

// WebSocketTokenResponse carries a short-lived realtime handshake token.
type WebSocketTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// AuthRoutes mounts the auth API of a service under /api/v1/{service}/auth.
func AuthRoutes(service string, svc iam.Service, cookies middleware.CookieConfig) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/api/v1/"+service+"/auth", func(r chi.Router) {
			r.Post("/login", HandleLogin(svc, cookies))
			r.Post("/refresh", HandleRefresh(svc, cookies))
			r.Post("/logout", HandleLogout(svc, cookies))
			r.Get("/me", HandleMe())
			r.Get("/sessions", HandleListSessions(svc))
			r.Post("/ws-token", HandleWebSocketToken(svc))
			r.Delete("/users/{userID}/sessions", HandleRevokeUserSessions(svc))
		})
	}
}

// HandleLogin authenticates a username/password pair and opens a refresh session.
func HandleLogin(svc iam.Service, cookies middleware.CookieConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "Missing username or password")
			return
		}

		areq := iam.NewAuthRequest(r)
		result, err := svc.Login(r.Context(), iam.LoginRequest{
			Username:   req.Username,
			Password:   req.Password,
			RememberMe: req.RememberMe,
			ClientIP:   areq.ClientIP,
			UserAgent:  areq.UserAgent,
		})
		switch {
		case errors.Is(err, iam.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		case errors.Is(err, iam.ErrAccountDisabled):
			writeError(w, http.StatusForbidden, "Account disabled")
			return
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "Login failed")
			return
		}

		middleware.SetTokenCookies(w, cookies, result.Tokens)
		writeJSON(w, http.StatusOK, LoginResponse{
			User: UserResponse{
				ID:          result.User.ID,
				Username:    result.User.Username,
				Email:       result.User.Email,
				FirstName:   result.User.FirstName,
				LastName:    result.User.LastName,
				Roles:       nonNil(result.User.Roles),
				Permissions: nonNil(result.User.Permissions),
			},
			AccessTokenExpiresAt:  result.Tokens.AccessExpiresAt.UnixMilli(),
			RefreshToken:          result.Tokens.RefreshToken,
			RefreshTokenExpiresAt: result.Tokens.RefreshExpiresAt.UnixMilli(),
			WebSocketToken:        result.WebSocketToken,
			RememberMe:            result.Tokens.RememberMe,
		})
	}
}

// HandleRefresh rotates the session named by X-Refresh-Token. When the access
// token had already expired the authn middleware has rotated it in band, and
// that pair is returned instead of rotating twice.
func HandleRefresh(svc iam.Service, cookies middleware.CookieConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized - Authentication required")
			return
		}

		pair, renewed := middleware.RenewedTokensFromContext(r.Context())
		if !renewed {
			refresh := iam.RefreshTokenFromHeaders(r.Header.Get)
			if refresh == "" {
				writeError(w, http.StatusBadRequest, "Missing X-Refresh-Token header")
				return
			}
			areq := iam.NewAuthRequest(r)
			var err error
			pair, err = svc.Refresh(r.Context(), iam.RefreshRequest{
				Principal:    principal,
				RefreshToken: refresh,
				ClientIP:     areq.ClientIP,
				UserAgent:    areq.UserAgent,
			})
			switch {
			case errors.Is(err, iam.ErrRenewalRejected):
				writeError(w, http.StatusUnauthorized, iam.RejectionMessage(err))
				return
			case err != nil:
				hlog.FromRequest(r).Error().Err(err).Msg("refresh failed")
				writeError(w, http.StatusInternalServerError, "Refresh failed")
				return
			}
			middleware.SetTokenCookies(w, cookies, pair)
		}

		writeJSON(w, http.StatusOK, RefreshResponse{
			AccessTokenExpiresAt:  pair.AccessExpiresAt.UnixMilli(),
			RefreshToken:          pair.RefreshToken,
			RefreshTokenExpiresAt: pair.RefreshExpiresAt.UnixMilli(),
			RememberMe:            pair.RememberMe,
		})
	}
}

// HandleLogout closes the caller's session and clears both cookies. If the
// request was admitted by in-band renewal, the presented refresh token is
// already consumed and the session to close is the renewed one.
func HandleLogout(svc iam.Service, cookies middleware.CookieConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized - Authentication required")
			return
		}

		refresh := iam.RefreshTokenFromHeaders(r.Header.Get)
		if pair, renewed := middleware.RenewedTokensFromContext(r.Context()); renewed {
			refresh = pair.RefreshToken
		}
		if refresh != "" {
			if err := svc.Logout(r.Context(), principal, refresh); err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("logout failed")
				writeError(w, http.StatusInternalServerError, "Logout failed")
				return
			}
		}

		middleware.ClearTokenCookies(w, cookies)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
	}
}

// HandleMe returns the Principal installed by the authn middleware.
func HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized - Authentication required")
			return
		}
		writeJSON(w, http.StatusOK, PrincipalResponse{
			Kind:        string(principal.Kind),
			Subject:     principal.Subject,
			UserID:      principal.UserID,
			ServiceID:   principal.ServiceID,
			FirstName:   principal.FirstName,
			LastName:    principal.LastName,
			Email:       principal.Email,
			PhoneNumber: principal.PhoneNumber,
			Authorities: nonNil(principal.Authorities),
		})
	}
}

// HandleListSessions lists the caller's live refresh sessions.
func HandleListSessions(svc iam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized - Authentication required")
			return
		}
		sessions, err := svc.ListSessions(r.Context(), principal)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("list sessions failed")
			writeError(w, http.StatusInternalServerError, "Failed to list sessions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	}
}

// HandleWebSocketToken issues a short-lived token for the realtime handshake.
func HandleWebSocketToken(svc iam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized - Authentication required")
			return
		}
		if principal.IsInternalService() {
			writeError(w, http.StatusForbidden, "Forbidden - websocket tokens are issued to end users only")
			return
		}
		token, expiresAt, err := svc.IssueWebSocketToken(r.Context(), principal)
		switch {
		case errors.Is(err, iam.ErrNoUserIdentity), errors.Is(err, iam.ErrAccountDisabled):
			writeError(w, http.StatusForbidden, "Forbidden - websocket tokens are issued to active users only")
			return
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusUnauthorized, "Unauthorized - Unknown user")
			return
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Msg("issue websocket token failed")
			writeError(w, http.StatusInternalServerError, "Failed to issue websocket token")
			return
		}
		writeJSON(w, http.StatusOK, WebSocketTokenResponse{Token: token, ExpiresAt: expiresAt.UnixMilli()})
	}
}

// HandleRevokeUserSessions deletes every session of {userID}. Guarded by an authority policy.
func HandleRevokeUserSessions(svc iam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "userID is required")
			return
		}
		revoked, err := svc.RevokeUserSessions(r.Context(), userID)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("user_id", userID).Msg("revoke sessions failed")
			writeError(w, http.StatusInternalServerError, "Failed to revoke sessions")
			return
		}
		hlog.FromRequest(r).Info().Str("user_id", userID).Int64("revoked", revoked).Msg("sessions revoked")
		writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked, "revokedAt": time.Now().UTC()})
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
