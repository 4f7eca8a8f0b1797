// Package secrets stores opaque secret values, one file per ref, under
// a 0700 directory. Writes are crash-atomic: temp file, fsync, rename.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the on-disk secret store. Values never appear in config
// snapshots; only refs do.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on
// first write, not here.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// BuildRef derives the canonical secret ref for an MCP provider field:
// "mcp:provider:<providerId>:<field>", lowercased, with non-ASCII bytes
// replaced by underscores.
func BuildRef(providerID, field string) string {
	return sanitizeRef(fmt.Sprintf("mcp:provider:%s:%s", providerID, field))
}

func sanitizeRef(ref string) string {
	ref = strings.ToLower(ref)
	var b strings.Builder
	b.Grow(len(ref))
	for _, r := range ref {
		if r < 0x21 || r > 0x7e {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// refPath maps a ref to its file. Path separators and colons are not
// filename-safe everywhere, so they become underscores.
func (s *Store) refPath(ref string) string {
	name := sanitizeRef(ref)
	name = strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_").Replace(name)
	return filepath.Join(s.dir, name)
}

// Get returns the stored value and whether it exists.
func (s *Store) Get(ref string) (string, bool) {
	data, err := os.ReadFile(s.refPath(ref))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Has reports whether a non-empty value is stored for ref.
func (s *Store) Has(ref string) bool {
	v, ok := s.Get(ref)
	return ok && v != ""
}

// Set stores a value atomically: the file is either fully replaced or
// untouched, never torn. Files are 0600 under a 0700 directory.
func (s *Store) Set(ref, value string) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, "secret-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp secret: %w", err)
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
	if _, err := tmpFile.WriteString(value); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, s.refPath(ref)); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// Delete removes a stored value. Deleting a missing ref is not an error.
func (s *Store) Delete(ref string) error {
	err := os.Remove(s.refPath(ref))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
