// Package config provides configuration and saved-session management for
// tradetalk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SavedSession is the persisted login state for the CLI and TUI.
type SavedSession struct {
	// UserID is the logged-in user.
	UserID string `yaml:"user_id,omitempty"`
	// Email is the login email (for display).
	Email string `yaml:"email,omitempty"`
	// Token is the session token issued at login.
	Token string `yaml:"token,omitempty"`
	// UpdatedAt is when the session was last modified.
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// IsEmpty returns true if no session is saved.
func (s *SavedSession) IsEmpty() bool {
	return s.UserID == "" && s.Token == ""
}

// Set installs a fresh login.
func (s *SavedSession) Set(userID, email, token string) {
	s.UserID = userID
	s.Email = email
	s.Token = token
	s.UpdatedAt = time.Now()
}

// Clear removes the saved login.
func (s *SavedSession) Clear() {
	s.UserID = ""
	s.Email = ""
	s.Token = ""
	s.UpdatedAt = time.Now()
}

// String returns a human-readable representation of the session.
func (s *SavedSession) String() string {
	if s.IsEmpty() {
		return "(not logged in)"
	}
	if s.Email != "" {
		return fmt.Sprintf("logged in as %s", s.Email)
	}
	return fmt.Sprintf("logged in as %s", shortID(s.UserID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SessionStore manages loading and saving the session file.
type SessionStore struct {
	path string
	mu   sync.RWMutex
}

// NewSessionStore creates a new session store.
// If path is empty, uses the default path (~/.config/tradetalk/session.yaml).
func NewSessionStore(path string) *SessionStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "tradetalk", "session.yaml")
	}
	return &SessionStore{path: path}
}

// DefaultSessionStore returns a session store using the default path.
func DefaultSessionStore() *SessionStore {
	return NewSessionStore("")
}

// Path returns the session file path.
func (s *SessionStore) Path() string {
	return s.path
}

// Load reads the session from disk.
// Returns an empty session if the file doesn't exist.
func (s *SessionStore) Load() (*SavedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := &SavedSession{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return sess, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if err := yaml.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	return sess, nil
}

// Save writes the session to disk. The file carries the session token, so
// it is written user-readable only.
func (s *SessionStore) Save(sess *SavedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	return nil
}

// Clear removes the session file.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
