// Package credstore persists the meshctl login between invocations.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashjosh/meshauth/pkg/sdk"
)

const credentialsFile = "credentials.json"

// ErrNotLoggedIn is returned by Load when no login is stored.
var ErrNotLoggedIn = errors.New("not logged in")

// Session is what meshctl remembers after a login: where it logged in and the tokens it got.
type Session struct {
	ServerURL   string          `json:"server_url"`
	Service     string          `json:"service"`
	Username    string          `json:"username"`
	Credentials sdk.Credentials `json:"credentials"`
}

// FileStore keeps the Session in a JSON file readable only by the current user.
type FileStore struct {
	path string
}

// NewFileStore stores credentials under dir. An empty dir means ~/.meshauth.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, ".meshauth")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return &FileStore{path: filepath.Join(dir, credentialsFile)}, nil
}

// Save writes s, replacing any stored session.
func (s *FileStore) Save(session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Load reads the stored session.
func (s *FileStore) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &session, nil
}

// Delete removes the stored session. Deleting a missing session is not an error.
func (s *FileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
