package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// ErrStaleHash is returned when a mutating call presents a baseHash that
// no longer matches the on-disk config. Callers map it to the wire code.
var ErrStaleHash = errors.New("config changed since base hash was taken")

// Issue is one validation finding, addressed by dotted path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Snapshot is an immutable view of the config file. Invalid snapshots
// carry Issues and a nil Config; Raw and Hash are always populated so
// clients can still reason about staleness.
type Snapshot struct {
	Exists bool    `json:"exists"`
	Valid  bool    `json:"valid"`
	Config *Config `json:"config,omitempty"`
	Issues []Issue `json:"issues,omitempty"`
	Raw    string  `json:"raw"`
	Hash   string  `json:"hash"`
}

// Store owns the config file: snapshots in, atomic writes out. It is the
// single writer; every mutating request goes through Apply or Patch with
// an optimistic baseHash check.
type Store struct {
	path string

	mu         sync.Mutex
	cached     *Snapshot
	cachedMod  time.Time
	cachedSize int64
}

// NewStore creates a store for the given config file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// ReadSnapshot returns the current snapshot, re-reading the file only
// when its mtime or size changed since the last read.
func (s *Store) ReadSnapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readSnapshotLocked()
}

func (s *Store) readSnapshotLocked() (*Snapshot, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.applyEnvOverrides()
			return &Snapshot{
				Exists: false,
				Valid:  true,
				Config: cfg,
				Raw:    "",
				Hash:   HashRaw(nil),
			}, nil
		}
		return nil, fmt.Errorf("stat config: %w", err)
	}

	if s.cached != nil && info.ModTime().Equal(s.cachedMod) && info.Size() == s.cachedSize {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	snap := buildSnapshot(data)
	s.cached = snap
	s.cachedMod = info.ModTime()
	s.cachedSize = info.Size()
	return snap, nil
}

// buildSnapshot parses, validates, and hashes a raw config document.
func buildSnapshot(data []byte) *Snapshot {
	snap := &Snapshot{
		Exists: true,
		Raw:    string(data),
		Hash:   HashRaw(data),
	}

	cfg := Default()
	if err := json5.Unmarshal(data, cfg); err != nil {
		snap.Valid = false
		snap.Issues = []Issue{{Path: "", Message: fmt.Sprintf("parse: %v", err)}}
		return snap
	}
	cfg.applyEnvOverrides()

	if issues := Validate(cfg); len(issues) > 0 {
		snap.Valid = false
		snap.Issues = issues
		return snap
	}

	snap.Valid = true
	snap.Config = cfg
	return snap
}

// Invalidate drops the cached snapshot so the next read hits the disk.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// HashRaw computes the stable digest over a raw config document. The
// document is canonicalized (parsed and re-marshaled with sorted keys)
// so formatting and comments never affect the hash.
func HashRaw(raw []byte) string {
	canonical := canonicalize(raw)
	h := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", h[:8])
}

func canonicalize(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	var v interface{}
	if err := json5.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// ResolveHash normalizes the two ways callers identify a base snapshot:
// an explicit hash, or the raw document they previously fetched.
func (s *Store) ResolveHash(hash string, raw string) (string, bool) {
	if hash != "" {
		return hash, true
	}
	if raw != "" {
		return HashRaw([]byte(raw)), true
	}
	return "", false
}

// Apply replaces the whole config. When baseHash is non-empty it must
// match the current snapshot hash or the write fails with ErrStaleHash.
func (s *Store) Apply(next *Config, baseHash string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBaseHashLocked(baseHash); err != nil {
		return nil, err
	}

	if issues := Validate(next); len(issues) > 0 {
		return &Snapshot{Exists: true, Valid: false, Issues: issues}, fmt.Errorf("config invalid: %d issue(s)", len(issues))
	}

	next.StripMaskedSecrets()
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	if err := s.writeRawLocked(data); err != nil {
		return nil, err
	}
	return s.readSnapshotLocked()
}

// Patch deep-merges a partial document onto the current config and
// writes the result under the same baseHash discipline. It returns the
// new snapshot and the dotted paths that changed.
func (s *Store) Patch(patch map[string]interface{}, baseHash string) (*Snapshot, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBaseHashLocked(baseHash); err != nil {
		return nil, nil, err
	}

	current, err := s.readSnapshotLocked()
	if err != nil {
		return nil, nil, err
	}

	var base map[string]interface{}
	if current.Raw != "" {
		if err := json5.Unmarshal([]byte(current.Raw), &base); err != nil {
			return nil, nil, fmt.Errorf("parse current config: %w", err)
		}
	}
	if base == nil {
		base = map[string]interface{}{}
	}

	prevRaw := canonicalize([]byte(current.Raw))
	merged := deepMerge(base, patch)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal merged config: %w", err)
	}

	// Validate the merged document before committing it.
	candidate := buildSnapshot(data)
	if !candidate.Valid {
		return candidate, nil, fmt.Errorf("config invalid: %d issue(s)", len(candidate.Issues))
	}

	if err := s.writeRawLocked(data); err != nil {
		return nil, nil, err
	}

	snap, err := s.readSnapshotLocked()
	if err != nil {
		return nil, nil, err
	}
	return snap, DiffPaths(prevRaw, canonicalize(data)), nil
}

// WriteRaw persists a raw document without baseHash discipline. Used by
// first-run provisioning and the init wizard.
func (s *Store) WriteRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRawLocked(data)
}

func (s *Store) checkBaseHashLocked(baseHash string) error {
	if baseHash == "" {
		return nil
	}
	current, err := s.readSnapshotLocked()
	if err != nil {
		return err
	}
	if current.Hash != baseHash {
		return ErrStaleHash
	}
	return nil
}

// writeRawLocked is the single write path: temp file in the same
// directory, fsync, rename. A crash leaves either the old or the new
// document, never a torn one.
func (s *Store) writeRawLocked(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "openclaw-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
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
	s.cached = nil
	return nil
}

// deepMerge overlays patch onto base. Objects merge recursively; a nil
// patch value deletes the key; everything else replaces wholesale.
func deepMerge(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		pm, pOK := v.(map[string]interface{})
		bm, bOK := out[k].(map[string]interface{})
		if pOK && bOK {
			out[k] = deepMerge(bm, pm)
			continue
		}
		out[k] = v
	}
	return out
}
