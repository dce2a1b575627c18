// Package auth manages the cloud login session: a JSON session file on disk
// and a local HTTP callback listener that receives the browser login redirect.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/notescribe/notescribe/internal/transcribe"
)

// Session is the persisted login state for the cloud backend.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session carries an expiry in the past. A zero
// expiry means the token does not expire.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// Store reads and writes the session file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored session, or transcribe.ErrNoSession when the file
// does not exist.
func (st *Store) Load() (*Session, error) {
	raw, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, transcribe.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", st.path, err)
	}
	if s.AccessToken == "" || s.UserID == "" {
		return nil, fmt.Errorf("session file %s: missing token or user id", st.path)
	}
	return &s, nil
}

// Save writes the session file readable by the owner only.
func (st *Store) Save(s *Session) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if dir := filepath.Dir(st.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	if err := os.WriteFile(st.path, raw, 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Clear removes the session file. A missing file is not an error.
func (st *Store) Clear() error {
	err := os.Remove(st.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// TokenSource adapts a Store to the transcribe.Credentials contract. The
// session is loaded once and cached for the lifetime of the source.
type TokenSource struct {
	store   *Store
	session *Session
}

func NewTokenSource(store *Store) *TokenSource {
	return &TokenSource{store: store}
}

func (ts *TokenSource) load() (*Session, error) {
	if ts.session != nil {
		return ts.session, nil
	}
	s, err := ts.store.Load()
	if err != nil {
		return nil, err
	}
	if s.Expired() {
		return nil, fmt.Errorf("session expired %s: %w", s.ExpiresAt.Format(time.RFC3339), transcribe.ErrNoSession)
	}
	ts.session = s
	return s, nil
}

func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	s, err := ts.load()
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// UserID returns the stored account id, or "" when no session exists. Token
// is the authoritative gate; callers hit its error before using the id.
func (ts *TokenSource) UserID() string {
	s, err := ts.load()
	if err != nil {
		return ""
	}
	return s.UserID
}
