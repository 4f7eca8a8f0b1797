package channels

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeAdapter struct {
	name       string
	configured bool
	running    bool
	startErr   error
	probeErr   error
}

func (f *fakeAdapter) Name() string           { return f.name }
func (f *fakeAdapter) Configured() bool       { return f.configured }
func (f *fakeAdapter) Running() bool          { return f.running }
func (f *fakeAdapter) Capabilities() []string { return []string{"dm"} }

func (f *fakeAdapter) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.running = false
	return nil
}

func (f *fakeAdapter) Probe(ctx context.Context) (Account, error) {
	if f.probeErr != nil {
		return Account{}, f.probeErr
	}
	return Account{ID: "1", Username: f.name + "-bot"}, nil
}

func (f *fakeAdapter) Resolve(ctx context.Context, target string) (*ResolveResult, error) {
	return &ResolveResult{ID: target, Kind: "user"}, nil
}

type fakeSink struct {
	lines []string
}

func (f *fakeSink) AppendChannelLog(channel, level, message string) {
	f.lines = append(f.lines, fmt.Sprintf("%s/%s: %s", channel, level, message))
}

func TestLoginLogout(t *testing.T) {
	sink := &fakeSink{}
	r := NewRegistry(sink)
	tg := &fakeAdapter{name: "telegram", configured: true}
	r.Register(tg)

	ctx := context.Background()
	if err := r.Login(ctx, "telegram"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !tg.running {
		t.Fatal("adapter not started")
	}
	// Login is idempotent.
	if err := r.Login(ctx, "telegram"); err != nil {
		t.Fatalf("second Login: %v", err)
	}

	if err := r.Logout(ctx, "telegram"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if tg.running {
		t.Fatal("adapter still running")
	}
	if len(sink.lines) != 2 {
		t.Errorf("log lines = %v", sink.lines)
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeAdapter{name: "discord"})

	if err := r.Login(context.Background(), "discord"); err == nil {
		t.Error("expected an error for an unconfigured channel")
	}
	if err := r.Login(context.Background(), "slack"); err == nil {
		t.Error("expected an error for an unknown channel")
	}
}

func TestStatusReportsAccountsAndErrors(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeAdapter{name: "telegram", configured: true, running: true})
	r.Register(&fakeAdapter{name: "discord", configured: true, running: true, probeErr: errors.New("token revoked")})
	r.Register(&fakeAdapter{name: "webchat"})

	rows := r.Status(context.Background())
	if len(rows) != 3 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Channel != "telegram" || rows[0].Account == nil || rows[0].Account.Username != "telegram-bot" {
		t.Errorf("telegram row = %+v", rows[0])
	}
	if rows[1].Account != nil || rows[1].LastError != "token revoked" {
		t.Errorf("discord row = %+v", rows[1])
	}
	if rows[2].Configured || rows[2].Running {
		t.Errorf("webchat row = %+v", rows[2])
	}
}

func TestStartConfiguredSkipsFailures(t *testing.T) {
	r := NewRegistry(nil)
	bad := &fakeAdapter{name: "telegram", configured: true, startErr: errors.New("bad token")}
	good := &fakeAdapter{name: "discord", configured: true}
	r.Register(bad)
	r.Register(good)

	r.StartConfigured(context.Background())
	if bad.running {
		t.Error("failed adapter marked running")
	}
	if !good.running {
		t.Error("good adapter not started")
	}

	// The failure is surfaced on status rows.
	rows := r.Status(context.Background())
	if rows[0].LastError == "" {
		t.Errorf("telegram row = %+v", rows[0])
	}
}

func TestStopAll(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeAdapter{name: "telegram", configured: true, running: true}
	b := &fakeAdapter{name: "discord", configured: true, running: true}
	r.Register(a)
	r.Register(b)

	r.StopAll(context.Background())
	if a.running || b.running {
		t.Error("adapters still running")
	}
}
