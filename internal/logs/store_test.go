package logs

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, maxEvents int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "logs.db"), maxEvents)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndTail(t *testing.T) {
	s := newTestStore(t, 0)

	s.AppendEvent("chat", "agent:main:telegram:dm:42", map[string]string{"state": "final"})
	s.AppendEvent("health", "", map[string]bool{"ok": true})
	s.AppendEvent("chat", "", nil)
	s.Flush()

	rows, err := s.Tail(TailParams{})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	// Oldest first.
	if rows[0].Name != "chat" || rows[2].Name != "chat" || rows[1].Name != "health" {
		t.Errorf("order = %v %v %v", rows[0].Name, rows[1].Name, rows[2].Name)
	}
	if rows[0].SessionKey != "agent:main:telegram:dm:42" {
		t.Errorf("sessionKey = %q", rows[0].SessionKey)
	}

	var payload map[string]string
	if err := json.Unmarshal(rows[0].Payload, &payload); err != nil || payload["state"] != "final" {
		t.Errorf("payload = %s", rows[0].Payload)
	}
	if rows[2].Payload != nil {
		t.Errorf("nil payload stored as %q", rows[2].Payload)
	}
}

func TestTailFilters(t *testing.T) {
	s := newTestStore(t, 0)
	for i := 0; i < 5; i++ {
		s.AppendEvent("tick", "", nil)
	}
	s.AppendEvent("chat", "", nil)
	s.Flush()

	rows, err := s.Tail(TailParams{Name: "tick", Limit: 3})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	for _, r := range rows {
		if r.Name != "tick" {
			t.Errorf("name = %q", r.Name)
		}
	}

	// Cursor: only rows after the last seen id.
	after := rows[len(rows)-1].ID
	rest, err := s.Tail(TailParams{AfterID: after})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(rest) != 1 || rest[0].Name != "chat" {
		t.Errorf("rest = %+v", rest)
	}
}

func TestChannelLogs(t *testing.T) {
	s := newTestStore(t, 0)
	s.AppendChannelLog("telegram", "info", "connected")
	s.AppendChannelLog("telegram", "error", "poll failed")
	s.AppendChannelLog("discord", "", "gateway ready")
	s.Flush()

	rows, err := s.ChannelLogs("telegram", 10)
	if err != nil {
		t.Fatalf("ChannelLogs: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Message != "connected" || rows[1].Level != "error" {
		t.Errorf("rows = %+v", rows)
	}

	other, _ := s.ChannelLogs("discord", 10)
	if len(other) != 1 || other[0].Level != "info" {
		t.Errorf("default level not applied: %+v", other)
	}
}

func TestRetentionPrunes(t *testing.T) {
	s := newTestStore(t, 10)
	for i := 0; i < 30; i++ {
		s.AppendEvent("tick", "", nil)
	}
	s.Flush()
	s.prune()

	rows, err := s.Tail(TailParams{Limit: 1000})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(rows) != 10 {
		t.Errorf("rows after prune = %d, want 10", len(rows))
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	s, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.AppendEvent("chat", "", nil)
	s.Flush()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	rows, err := again.Tail(TailParams{})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d", len(rows))
	}
}
