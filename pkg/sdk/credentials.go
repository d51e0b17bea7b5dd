package sdk

import (
	"sync"
	"time"
)

// Credentials represents the tokens held by an end-user client.
type Credentials struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	WebSocketToken   string    `json:"websocket_token,omitempty"`
}

// IsExpired reports whether the access token has expired.
func (c *Credentials) IsExpired() bool {
	return time.Now().After(c.AccessExpiresAt)
}

// credentialStore guards the credentials of one Client. Renewal replaces both
// tokens together.
type credentialStore struct {
	mu    sync.RWMutex
	creds Credentials
}

func (s *credentialStore) get() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *credentialStore) set(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
}

// rotate records tokens delivered as cookies on a renewed response.
func (s *credentialStore) rotate(access, refresh string, refreshExpires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if access != "" {
		s.creds.AccessToken = access
	}
	if refresh != "" {
		s.creds.RefreshToken = refresh
		if !refreshExpires.IsZero() {
			s.creds.RefreshExpiresAt = refreshExpires
		}
	}
}
