package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "openclaw.json"))
}

func TestReadSnapshotMissingFile(t *testing.T) {
	s := newTestStore(t)

	snap, err := s.ReadSnapshot()
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if snap.Exists {
		t.Error("Exists = true for missing file")
	}
	if !snap.Valid {
		t.Error("Valid = false for missing file, want defaults to be valid")
	}
	if snap.Config == nil {
		t.Fatal("Config = nil, want defaults")
	}
	if snap.Hash == "" {
		t.Error("Hash empty, want digest of empty document")
	}
}

func TestHashDeterminism(t *testing.T) {
	raw := []byte(`{"gateway":{"port":18789},"agents":{"defaults":{}}}`)

	h1 := HashRaw(raw)
	h2 := HashRaw(raw)
	if h1 != h2 {
		t.Errorf("HashRaw not deterministic: %q vs %q", h1, h2)
	}

	// Formatting must not matter.
	pretty := []byte("{\n  \"agents\": {\"defaults\": {}},\n  \"gateway\": {\"port\": 18789}\n}")
	if got := HashRaw(pretty); got != h1 {
		t.Errorf("HashRaw(pretty) = %q, want %q (formatting changed the hash)", got, h1)
	}

	// Content must matter.
	changed := []byte(`{"gateway":{"port":18790},"agents":{"defaults":{}}}`)
	if got := HashRaw(changed); got == h1 {
		t.Error("HashRaw unchanged after mutating the document")
	}
}

func TestApplyRoundTrip(t *testing.T) {
	s := newTestStore(t)

	cfg := Default()
	cfg.Gateway.Port = 19001

	snap, err := s.Apply(cfg, "")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !snap.Exists || !snap.Valid {
		t.Fatalf("snapshot after apply: exists=%v valid=%v, want both true", snap.Exists, snap.Valid)
	}
	if snap.Config.Gateway.Port != 19001 {
		t.Errorf("port = %d, want 19001", snap.Config.Gateway.Port)
	}

	// Re-read observes the same hash.
	again, err := s.ReadSnapshot()
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if again.Hash != snap.Hash {
		t.Errorf("hash drifted across reads: %q vs %q", again.Hash, snap.Hash)
	}
}

func TestApplyStaleHash(t *testing.T) {
	s := newTestStore(t)

	first := Default()
	first.Gateway.Port = 19001
	snap, err := s.Apply(first, "")
	if err != nil {
		t.Fatalf("seed Apply() error = %v", err)
	}

	// A concurrent writer moves the config forward.
	second := Default()
	second.Gateway.Port = 19002
	if _, err := s.Apply(second, snap.Hash); err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}

	// The original baseHash is now stale.
	third := Default()
	third.Gateway.Port = 19003
	_, err = s.Apply(third, snap.Hash)
	if !errors.Is(err, ErrStaleHash) {
		t.Fatalf("Apply() error = %v, want ErrStaleHash", err)
	}

	// The stale write must not have landed.
	current, err := s.ReadSnapshot()
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if current.Config.Gateway.Port != 19002 {
		t.Errorf("port = %d after stale apply, want 19002 untouched", current.Config.Gateway.Port)
	}
}

func TestPatchMergesAndDiffs(t *testing.T) {
	s := newTestStore(t)

	seed := Default()
	seed.Gateway.Port = 19001
	if _, err := s.Apply(seed, ""); err != nil {
		t.Fatalf("seed Apply() error = %v", err)
	}

	snap, changed, err := s.Patch(map[string]interface{}{
		"gateway": map[string]interface{}{"port": float64(19002)},
	}, "")
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if snap.Config.Gateway.Port != 19002 {
		t.Errorf("port = %d, want 19002", snap.Config.Gateway.Port)
	}

	found := false
	for _, p := range changed {
		if p == "gateway.port" {
			found = true
		}
		if strings.HasPrefix(p, "agents") {
			t.Errorf("untouched subtree reported changed: %s", p)
		}
	}
	if !found {
		t.Errorf("diff paths = %v, want gateway.port", changed)
	}
}

func TestPatchRejectsInvalidResult(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Apply(Default(), ""); err != nil {
		t.Fatalf("seed Apply() error = %v", err)
	}

	before, _ := s.ReadSnapshot()

	_, _, err := s.Patch(map[string]interface{}{
		"gateway": map[string]interface{}{"port": float64(0)},
	}, "")
	if err == nil {
		t.Fatal("Patch() error = nil for invalid merge result")
	}

	after, _ := s.ReadSnapshot()
	if after.Hash != before.Hash {
		t.Error("invalid patch mutated the config file")
	}
}

func TestWriteIsAtomicOnDisk(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Apply(Default(), ""); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	// No temp litter left behind.
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 0600", perm)
	}
}

func TestResolveHash(t *testing.T) {
	s := newTestStore(t)
	raw := `{"gateway":{"port":18789}}`

	tests := []struct {
		name   string
		hash   string
		raw    string
		want   string
		wantOK bool
	}{
		{"explicit hash wins", "abc123", raw, "abc123", true},
		{"raw digested", "", raw, HashRaw([]byte(raw)), true},
		{"neither", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.ResolveHash(tt.hash, tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("hash = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnapshotInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openclaw.json")
	if err := os.WriteFile(path, []byte(`{"gateway": {`), 0600); err != nil {
		t.Fatal(err)
	}

	snap, err := NewStore(path).ReadSnapshot()
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if snap.Valid {
		t.Error("Valid = true for unparseable document")
	}
	if snap.Config != nil {
		t.Error("Config populated for invalid snapshot")
	}
	if len(snap.Issues) == 0 {
		t.Error("Issues empty for invalid snapshot")
	}
}
