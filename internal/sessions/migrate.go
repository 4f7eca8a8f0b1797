package sessions

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
)

// Legacy node-backed sessions were keyed by raw node ids under several
// prefixes. They migrate to a single "node-<slug>" tail where the slug
// comes from the node's display name, or from the id when the name is
// unknown.
var legacyNodeTail = regexp.MustCompile(`^(desktop-node-|desktop-|node-)(.+)$`)

// nodeIDLike matches raw node ids (hex device ids, UUIDs). Display-name
// slugs contain letters outside a-f, so migrated keys never re-match.
var nodeIDLike = regexp.MustCompile(`^[0-9a-fA-F][0-9a-fA-F-]{7,}$`)

const (
	displayNameSlugMax = 48
	nodeIDSlugMax      = 12
)

// NodeNameLookup resolves a node id to its display name.
type NodeNameLookup func(nodeID string) (displayName string, ok bool)

// SanitizeNodeKey rewrites a legacy node-suffixed session key to its
// canonical form. Keys without a legacy tail come back unchanged.
func SanitizeNodeKey(key string, lookup NodeNameLookup) string {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return key
	}
	head, tail := key[:idx+1], key[idx+1:]

	m := legacyNodeTail.FindStringSubmatch(tail)
	if m == nil {
		return key
	}
	nodeID := m[2]
	if !nodeIDLike.MatchString(nodeID) {
		return key
	}

	slug := ""
	if lookup != nil {
		if name, ok := lookup(nodeID); ok {
			slug = Slug(name, displayNameSlugMax)
		}
	}
	if slug == "" {
		slug = Slug(nodeID, nodeIDSlugMax)
	}
	if slug == "" {
		return key
	}
	return head + "node-" + slug
}

// Slug lowercases s, folds every non-alphanumeric run into a single
// dash, and caps the result at max bytes.
func Slug(s string, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(s) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > max {
		out = strings.Trim(out[:max], "-")
	}
	return out
}

// MigrateLegacyNodeKeys rewrites every legacy key in the store, merging
// into the sanitized key when both exist and keeping the entry with the
// newer UpdatedAt. Returns the number of keys migrated. Best-effort:
// the caller logs and continues on error.
func (s *Store) MigrateLegacyNodeKeys(lookup NodeNameLookup) (int, error) {
	migrated := 0
	err := s.Update(func(m map[string]*Entry) error {
		for key, entry := range m {
			canonical := SanitizeNodeKey(key, lookup)
			if canonical == key {
				continue
			}
			if existing, ok := m[canonical]; ok {
				if entry.UpdatedAt > existing.UpdatedAt {
					m[canonical] = entry
				}
			} else {
				m[canonical] = entry
			}
			delete(m, key)
			migrated++
			slog.Debug("sessions.migrated", "from", key, "to", canonical)
		}
		if migrated == 0 {
			return errNoChange
		}
		return nil
	})
	if err == errNoChange {
		return 0, nil
	}
	return migrated, err
}

// errNoChange short-circuits Update's save when migration touched nothing.
var errNoChange = errors.New("no change")
