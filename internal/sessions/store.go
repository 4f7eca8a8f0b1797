package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeliveryContext is the routing triple used to send agent output back
// to the conversation it belongs to.
type DeliveryContext struct {
	Channel   string `json:"channel,omitempty"`
	To        string `json:"to,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// Entry is the persisted per-session state. SessionID is stable for the
// lifetime of the key.
type Entry struct {
	SessionID       string           `json:"sessionId"`
	UpdatedAt       int64            `json:"updatedAt"`
	ThinkingLevel   string           `json:"thinkingLevel,omitempty"`
	VerboseLevel    string           `json:"verboseLevel,omitempty"`
	ReasoningLevel  string           `json:"reasoningLevel,omitempty"`
	SystemSent      bool             `json:"systemSent,omitempty"`
	SendPolicy      string           `json:"sendPolicy,omitempty"`
	LastChannel     string           `json:"lastChannel,omitempty"`
	LastTo          string           `json:"lastTo,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
}

// Store owns the sessions.json file. All mutation goes through Update,
// which serializes read-modify-write cycles and persists atomically.
type Store struct {
	path string

	mu     sync.RWMutex
	cache  map[string]*Entry
	loaded bool
}

// NewStore creates a store over the given sessions.json path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	s.cache = map[string]*Entry{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read session store: %w", err)
	}
	if err := json.Unmarshal(data, &s.cache); err != nil {
		return fmt.Errorf("parse session store: %w", err)
	}
	if s.cache == nil {
		s.cache = map[string]*Entry{}
	}
	s.loaded = true
	return nil
}

// Load returns a copy of all entries.
func (s *Store) Load() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(s.cache))
	for k, v := range s.cache {
		out[k] = *v
	}
	return out, nil
}

// Get returns one entry by key.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return Entry{}, false
	}
	e, ok := s.cache[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Update runs fn over the live entry map and persists the result
// atomically. fn returning an error aborts without writing.
func (s *Store) Update(fn func(map[string]*Entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	if err := fn(s.cache); err != nil {
		return err
	}
	return s.saveLocked()
}

// EnsureEntry returns the entry for key, creating it with a fresh
// session id on first use.
func (s *Store) EnsureEntry(key string) (Entry, error) {
	var out Entry
	err := s.Update(func(m map[string]*Entry) error {
		if e, ok := m[key]; ok {
			out = *e
			return nil
		}
		e := &Entry{
			SessionID: uuid.NewString(),
			UpdatedAt: time.Now().UnixMilli(),
		}
		m[key] = e
		out = *e
		return nil
	})
	return out, err
}

// Patch applies fn to the entry for key (creating it if missing),
// bumps UpdatedAt, and persists.
func (s *Store) Patch(key string, fn func(*Entry)) (Entry, error) {
	var out Entry
	err := s.Update(func(m map[string]*Entry) error {
		e, ok := m[key]
		if !ok {
			e = &Entry{SessionID: uuid.NewString()}
			m[key] = e
		}
		fn(e)
		e.UpdatedAt = time.Now().UnixMilli()
		out = *e
		return nil
	})
	return out, err
}

// Touch records the last delivery route for a session.
func (s *Store) Touch(key, channel, to, accountID string) (Entry, error) {
	return s.Patch(key, func(e *Entry) {
		if channel != "" {
			e.LastChannel = channel
		}
		if to != "" {
			e.LastTo = to
		}
		if channel != "" || to != "" {
			e.DeliveryContext = &DeliveryContext{Channel: channel, To: to, AccountID: accountID}
		}
	})
}

// Delete removes an entry. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	return s.Update(func(m map[string]*Entry) error {
		delete(m, key)
		return nil
	})
}

// ResolveBySessionID finds the key owning a given session id.
func (s *Store) ResolveBySessionID(sessionID string) (string, Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return "", Entry{}, false
	}
	for k, e := range s.cache {
		if e.SessionID == sessionID {
			return k, *e, true
		}
	}
	return "", Entry{}, false
}

// saveLocked writes the whole map: temp file in the same directory,
// fsync, rename. Readers of the old file never observe a torn write.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session store: %w", err)
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
