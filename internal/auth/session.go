package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// RefreshTokenLength is the number of random bytes in a refresh token.
const RefreshTokenLength = 64

// GenerateRefreshToken generates an opaque refresh token.
// Returns: token (base64url, no padding), token hash (SHA256 hex), error
//
// Only the hash is persisted; the token itself is handed to the client once.
func GenerateRefreshToken() (string, string, error) {
	tokenBytes := make([]byte, RefreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}

	token := base64.RawURLEncoding.EncodeToString(tokenBytes)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken hashes a refresh token for storage/lookup
// Returns SHA256 hex hash
func HashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// IsSessionExpired checks if a session has expired at now.
func IsSessionExpired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}
