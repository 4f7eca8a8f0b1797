package oauth

import (
	"path/filepath"
	"testing"

	"github.com/openclaw/clawd/internal/config"
)

func TestProfileBinderUpdatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openclaw.json")
	if err := config.Save(path, config.Default()); err != nil {
		t.Fatal(err)
	}
	store := config.NewStore(path)

	bind := ProfileBinder(store)
	if err := bind("qwen"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	snap, err := store.ReadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Valid {
		t.Fatalf("config invalid after bind: %+v", snap.Issues)
	}
	if got := snap.Config.Models.AuthProfiles["qwen"]; got != "qwen" {
		t.Errorf("auth_profiles[qwen] = %q, want qwen", got)
	}

	// A second provider merges in without clobbering the first.
	if err := bind("anthropic"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	snap, err = store.ReadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	profiles := snap.Config.Models.AuthProfiles
	if profiles["qwen"] != "qwen" || profiles["anthropic"] != "anthropic" {
		t.Errorf("auth_profiles = %v, want both providers bound", profiles)
	}
}
