package pairing

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/clawd/internal/config"
)

func newTestService(t *testing.T) (*Service, *config.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openclaw.json")
	cfg := config.Default()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "tok"
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	store := config.NewStore(path)
	return NewService(store), store
}

func TestAddIsIdempotentPerPrincipal(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.Add("telegram", "12345", "Alice")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := svc.Add("telegram", "12345", "Alice")
	if err != nil {
		t.Fatalf("Add again: %v", err)
	}
	if first.ID != second.ID || first.Code != second.Code {
		t.Errorf("repeated Add returned a different request: %+v vs %+v", first, second)
	}
	if len(svc.List()) != 1 {
		t.Errorf("List length = %d, want 1", len(svc.List()))
	}
}

func TestAddRequiresChannelAndPrincipal(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Add("", "12345", ""); err == nil {
		t.Error("expected an error for empty channel")
	}
	if _, err := svc.Add("telegram", "", ""); err == nil {
		t.Error("expected an error for empty principal")
	}
}

func TestApproveWritesAllowFrom(t *testing.T) {
	svc, store := newTestService(t)

	req, err := svc.Add("telegram", "12345", "Alice")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	approved, err := svc.Approve(req.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Principal != "12345" {
		t.Errorf("approved principal = %q", approved.Principal)
	}

	snap, err := store.ReadSnapshot()
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	allow := snap.Config.Channels.Telegram.AllowFrom
	if len(allow) != 1 || allow[0] != "12345" {
		t.Errorf("allow_from = %v, want [12345]", allow)
	}
	if len(svc.List()) != 0 {
		t.Error("approved request still pending")
	}
}

func TestApproveUnknownID(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Approve("telegram:nobody"); err == nil {
		t.Error("expected an error for an unknown request")
	}
}

func TestApproveUnknownChannelKeepsRequest(t *testing.T) {
	svc, _ := newTestService(t)
	req, err := svc.Add("smoke-signal", "99", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := svc.Approve(req.ID); err == nil {
		t.Fatal("expected an error for an unpairable channel")
	}
	if len(svc.List()) != 1 {
		t.Error("failed approval should keep the request pending")
	}
}

func TestExpiredRequestsArePruned(t *testing.T) {
	svc, _ := newTestService(t)
	base := time.Now()
	svc.now = func() time.Time { return base }

	if _, err := svc.Add("telegram", "12345", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	svc.now = func() time.Time { return base.Add(TTL + time.Minute) }
	if got := svc.List(); len(got) != 0 {
		t.Errorf("List after TTL = %v, want empty", got)
	}
}
