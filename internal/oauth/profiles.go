// Package oauth implements the device-code and PKCE ceremonies used to
// credential model providers, plus the on-disk auth profile store the
// obtained tokens land in.
package oauth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Profile is one stored credential set.
type Profile struct {
	Provider     string `json:"provider"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
	ExpiresAtMs  int64  `json:"expiresAtMs,omitempty"`
	Email        string `json:"email,omitempty"`
	UpdatedAtMs  int64  `json:"updatedAtMs"`
}

// ProfileStore persists profiles keyed by provider id in a single JSON
// file, written atomically at 0600.
type ProfileStore struct {
	path string

	mu       sync.Mutex
	loaded   bool
	profiles map[string]Profile
}

// NewProfileStore creates a store at path. The file is created on
// first save.
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

func (s *ProfileStore) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	s.profiles = map[string]Profile{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read auth profiles: %w", err)
	}
	if err := json.Unmarshal(data, &s.profiles); err != nil {
		return fmt.Errorf("parse auth profiles: %w", err)
	}
	s.loaded = true
	return nil
}

// Get returns the stored profile for a provider.
func (s *ProfileStore) Get(provider string) (Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return Profile{}, false, err
	}
	p, ok := s.profiles[provider]
	return p, ok, nil
}

// List returns all stored profiles.
func (s *ProfileStore) List() ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out, nil
}

// Put stores a profile, stamping UpdatedAtMs.
func (s *ProfileStore) Put(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	p.UpdatedAtMs = time.Now().UnixMilli()
	s.profiles[p.Provider] = p
	return s.saveLocked()
}

// Delete removes a provider's profile. Missing profiles are not an
// error.
func (s *ProfileStore) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	if _, ok := s.profiles[provider]; !ok {
		return nil
	}
	delete(s.profiles, provider)
	return s.saveLocked()
}

func (s *ProfileStore) saveLocked() error {
	data, err := json.MarshalIndent(s.profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth profiles: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "auth-profiles-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp profiles: %w", err)
	}
	tmpPath := tmpFile.Name()

	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
