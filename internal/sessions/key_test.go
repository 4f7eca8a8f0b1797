package sessions

import "testing"

func TestBuildSessionKey(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"dm", BuildSessionKey("main", "telegram", ScopeDM, "42"), "agent:main:telegram:dm:42"},
		{"group", BuildSessionKey("main", "discord", ScopeGroup, "g9"), "agent:main:discord:group:g9"},
		{"thread", BuildThreadSessionKey("main", "telegram", "-100", "7"), "agent:main:telegram:group:-100:thread:7"},
		{"main default", BuildAgentMainSessionKey("ops", ""), "agent:ops:main"},
		{"main custom", BuildAgentMainSessionKey("ops", "hq"), "agent:ops:hq"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseSessionKey(t *testing.T) {
	tests := []struct {
		key       string
		wantAgent string
		wantRest  string
	}{
		{"agent:main:telegram:dm:42", "main", "telegram:dm:42"},
		{"agent:ops:main", "ops", "main"},
		{"global", "", ""},
		{"node:whatever", "", ""},
		{"agent:justone", "", ""},
	}
	for _, tt := range tests {
		agentID, rest := ParseSessionKey(tt.key)
		if agentID != tt.wantAgent || rest != tt.wantRest {
			t.Errorf("ParseSessionKey(%q) = (%q, %q), want (%q, %q)",
				tt.key, agentID, rest, tt.wantAgent, tt.wantRest)
		}
	}
}

func TestThreadID(t *testing.T) {
	if tid, ok := ThreadID("agent:main:telegram:group:-100:thread:7"); !ok || tid != "7" {
		t.Errorf("ThreadID() = (%q, %v), want (7, true)", tid, ok)
	}
	if _, ok := ThreadID("agent:main:telegram:dm:42"); ok {
		t.Error("ThreadID() found a thread where none exists")
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Mac Studio", 48, "mac-studio"},
		{"  Node #1 (office) ", 48, "node-1-office"},
		{"abcdef1234567890", 12, "abcdef123456"},
		{"---", 48, ""},
		{"ALLCAPS", 48, "allcaps"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in, tt.max); got != tt.want {
			t.Errorf("Slug(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestSanitizeNodeKey(t *testing.T) {
	lookup := func(nodeID string) (string, bool) {
		if nodeID == "ab12cd34ef56" {
			return "Mac Studio", true
		}
		return "", false
	}

	tests := []struct {
		name string
		key  string
		want string
	}{
		{
			"desktop prefix with known name",
			"agent:main:webchat:dm:desktop-ab12cd34ef56",
			"agent:main:webchat:dm:node-mac-studio",
		},
		{
			"desktop-node prefix",
			"agent:main:webchat:dm:desktop-node-ab12cd34ef56",
			"agent:main:webchat:dm:node-mac-studio",
		},
		{
			"node prefix unknown name falls back to id slug",
			"agent:main:webchat:dm:node-ffee00112233445566",
			"agent:main:webchat:dm:node-ffee00112233",
		},
		{
			"non-legacy key untouched",
			"agent:main:telegram:dm:42",
			"agent:main:telegram:dm:42",
		},
		{
			"already-migrated slug untouched",
			"agent:main:webchat:dm:node-mac-studio",
			"agent:main:webchat:dm:node-mac-studio",
		},
		{
			"uuid node id migrates",
			"agent:main:webchat:dm:node-550e8400-e29b-41d4-a716-446655440000",
			"agent:main:webchat:dm:node-550e8400-e29",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeNodeKey(tt.key, lookup); got != tt.want {
				t.Errorf("SanitizeNodeKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestMigrateLegacyNodeKeys(t *testing.T) {
	s := newTestSessionStore(t)
	legacy := "agent:main:webchat:dm:desktop-ab12cd34ef56"
	canonical := "agent:main:webchat:dm:node-mac-studio"

	// Seed both a legacy key (newer) and its canonical twin (older).
	err := s.Update(func(m map[string]*Entry) error {
		m[legacy] = &Entry{SessionID: "legacy-id", UpdatedAt: 2000, ThinkingLevel: "high"}
		m[canonical] = &Entry{SessionID: "canon-id", UpdatedAt: 1000}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	lookup := func(nodeID string) (string, bool) { return "Mac Studio", true }
	n, err := s.MigrateLegacyNodeKeys(lookup)
	if err != nil {
		t.Fatalf("MigrateLegacyNodeKeys() error = %v", err)
	}
	if n != 1 {
		t.Errorf("migrated = %d, want 1", n)
	}

	if _, ok := s.Get(legacy); ok {
		t.Error("legacy key survived migration")
	}
	got, ok := s.Get(canonical)
	if !ok {
		t.Fatal("canonical key missing after migration")
	}
	// The newer entry (the legacy one) won the merge.
	if got.SessionID != "legacy-id" || got.UpdatedAt != 2000 {
		t.Errorf("merge kept wrong entry: %+v", got)
	}

	// Second run is a no-op.
	n, err = s.MigrateLegacyNodeKeys(lookup)
	if err != nil || n != 0 {
		t.Errorf("second migration = (%d, %v), want (0, nil)", n, err)
	}
}
