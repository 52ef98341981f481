// Package session persists the console's auth token and email between runs
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store is a file-backed holder of the two session keys
type Store struct {
	path string

	mu    sync.RWMutex
	token string
	email string
}

type record struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

var ErrNoSession = errors.New("no stored session")

// New creates a store backed by path. An empty path keeps the session in
// memory only
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the stored session. A missing file yields ErrNoSession
func (s *Store) Load() error {
	if s.path == "" {
		return ErrNoSession
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if r.Token == "" {
		return ErrNoSession
	}

	s.mu.Lock()
	s.token, s.email = r.Token, r.Email
	s.mu.Unlock()
	return nil
}

// Save stores the session in memory and on disk
func (s *Store) Save(token, email string) error {
	s.mu.Lock()
	s.token, s.email = token, email
	s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	b, err := json.Marshal(record{Token: token, Email: email})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Clear forgets the session and removes the file
func (s *Store) Clear() error {
	s.mu.Lock()
	s.token, s.email = "", ""
	s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}
