package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// SessionFilePath returns the session file location under base.
func SessionFilePath(base string) string {
	return filepath.Join(base, "auth", "session.json")
}

// sessionRecord is what is remembered between runs.
type sessionRecord struct {
	Provider string        `json:"provider"`
	UID      string        `json:"uid"`
	Token    *oauth2.Token `json:"token,omitempty"`
}

// loadSession reads a saved session. A missing file yields nil, nil.
func loadSession(path string) (*sessionRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt session file (delete %s to start a new session): %w", path, err)
	}
	return &rec, nil
}

// saveSession persists rec atomically with owner-only permissions.
func saveSession(path string, rec *sessionRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating auth directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving session file: %w", err)
	}
	return nil
}

// savingTokenSource persists every newly issued token.
type savingTokenSource struct {
	ts   oauth2.TokenSource
	path string
	uid  string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	fresh := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()
	if fresh && s.path != "" {
		// Best-effort save; ignore errors.
		_ = saveSession(s.path, &sessionRecord{Provider: ProviderFirebase, UID: s.uid, Token: tok})
	}
	return tok, nil
}
