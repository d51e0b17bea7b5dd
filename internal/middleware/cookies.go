package middleware

import (
	"net/http"
	"time"

	"github.com/hashjosh/meshauth/internal/config"
	"github.com/hashjosh/meshauth/internal/services/iam"
)

// CookieConfig names the token cookies and whether they carry the Secure attribute.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	Secure      bool
}

// CookieConfigFrom reads cookie settings from the auth configuration.
func CookieConfigFrom(cfg config.AuthConfig) CookieConfig {
	cc := CookieConfig{
		AccessName:  cfg.AccessCookieName,
		RefreshName: cfg.RefreshCookieName,
		Secure:      cfg.SecureCookies,
	}
	if cc.AccessName == "" {
		cc.AccessName = iam.DefaultAccessCookie
	}
	if cc.RefreshName == "" {
		cc.RefreshName = "REFRESH_TOKEN"
	}
	return cc
}

// SetTokenCookies writes both token cookies for pair.
//
// The access cookie lives as long as the refresh session: an expired access
// token is still what the browser must present to drive renewal.
func SetTokenCookies(w http.ResponseWriter, cfg CookieConfig, pair *iam.TokenPair) {
	if pair == nil {
		return
	}
	http.SetCookie(w, tokenCookie(cfg, cfg.AccessName, pair.AccessToken, pair.RefreshExpiresAt))
	http.SetCookie(w, tokenCookie(cfg, cfg.RefreshName, pair.RefreshToken, pair.RefreshExpiresAt))
}

// ClearTokenCookies expires both token cookies.
func ClearTokenCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{cfg.AccessName, cfg.RefreshName} {
		c := tokenCookie(cfg, name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func tokenCookie(cfg CookieConfig, name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
