package skills

import (
	"context"
	"testing"

	"github.com/openclaw/clawd/internal/config"
)

func newTestService(entries ...config.SkillSpec) *Service {
	cfg := config.SkillsConfig{Entries: entries}
	return NewService(func() config.SkillsConfig { return cfg })
}

func TestStatusResolvesBins(t *testing.T) {
	svc := newTestService(
		config.SkillSpec{Name: "shell", Bins: []string{"sh"}},
		config.SkillSpec{Name: "ghost", Bins: []string{"definitely-not-a-real-binary-xyz"}},
	)

	statuses := svc.StatusAll()
	if len(statuses) != 2 {
		t.Fatalf("StatusAll length = %d", len(statuses))
	}
	if !statuses[0].Installed {
		t.Errorf("sh should be present on PATH: %+v", statuses[0])
	}
	if statuses[1].Installed {
		t.Errorf("missing binary reported installed: %+v", statuses[1])
	}
}

func TestStatusWithoutBinsIsNotInstalled(t *testing.T) {
	svc := newTestService(config.SkillSpec{Name: "binless", Install: "true"})
	st, err := svc.StatusOf("binless")
	if err != nil {
		t.Fatalf("StatusOf: %v", err)
	}
	if st.Installed {
		t.Error("skill without bins should not report installed")
	}
	if !st.HasInstall || st.HasUpdate {
		t.Errorf("command flags wrong: %+v", st)
	}
}

func TestBinsDeduplicates(t *testing.T) {
	svc := newTestService(
		config.SkillSpec{Name: "a", Bins: []string{"sh", "sh"}},
		config.SkillSpec{Name: "b", Bins: []string{"sh"}},
	)
	bins := svc.Bins()
	if len(bins) != 1 {
		t.Errorf("Bins = %v, want one entry", bins)
	}
}

func TestInstallRunsCommand(t *testing.T) {
	svc := newTestService(config.SkillSpec{Name: "echoer", Install: "echo installed"})

	result, err := svc.Install(context.Background(), "echoer")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !result.OK || result.Output != "installed" {
		t.Errorf("result = %+v", result)
	}
}

func TestInstallFailureIsAResult(t *testing.T) {
	svc := newTestService(config.SkillSpec{Name: "broken", Install: "exit 2"})

	result, err := svc.Install(context.Background(), "broken")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if result.OK || result.Error == "" {
		t.Errorf("result = %+v", result)
	}
}

func TestActionRequiresCommand(t *testing.T) {
	svc := newTestService(config.SkillSpec{Name: "listed"})
	if _, err := svc.Uninstall(context.Background(), "listed"); err == nil {
		t.Error("expected an error for a skill without an uninstall command")
	}
}

func TestUnknownSkill(t *testing.T) {
	svc := newTestService()
	if _, err := svc.StatusOf("nope"); err == nil {
		t.Error("expected an error for an undeclared skill")
	}
	if _, err := svc.Install(context.Background(), "nope"); err == nil {
		t.Error("expected an error for an undeclared skill")
	}
}
