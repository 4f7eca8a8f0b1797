// Package skills serves the config-declared skill catalog: presence
// checks against PATH plus shell-outs for install, update, and
// uninstall.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/clawd/internal/config"
)

// CommandTimeout bounds one install/update/uninstall run.
const CommandTimeout = 10 * time.Minute

// BinStatus reports one required binary.
type BinStatus struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Path    string `json:"path,omitempty"`
}

// Status is the resolved state of one skill.
type Status struct {
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Installed    bool        `json:"installed"` // every required bin on PATH
	Bins         []BinStatus `json:"bins,omitempty"`
	HasInstall   bool        `json:"hasInstall"`
	HasUpdate    bool        `json:"hasUpdate"`
	HasUninstall bool        `json:"hasUninstall"`
}

// RunResult is the outcome of one skill command.
type RunResult struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Service resolves skills from the live config. One command runs at a
// time; concurrent requests are rejected.
type Service struct {
	getCfg func() config.SkillsConfig

	mu      sync.Mutex
	running bool
}

// NewService creates a skills service over the live config.
func NewService(getCfg func() config.SkillsConfig) *Service {
	return &Service{getCfg: getCfg}
}

// List returns the declared skill specs.
func (s *Service) List() []config.SkillSpec {
	entries := s.getCfg().Entries
	out := make([]config.SkillSpec, len(entries))
	copy(out, entries)
	return out
}

// StatusAll resolves every skill's install state.
func (s *Service) StatusAll() []Status {
	entries := s.getCfg().Entries
	out := make([]Status, 0, len(entries))
	for _, spec := range entries {
		out = append(out, s.status(spec))
	}
	return out
}

// StatusOf resolves one skill by name.
func (s *Service) StatusOf(name string) (Status, error) {
	spec, err := s.find(name)
	if err != nil {
		return Status{}, err
	}
	return s.status(spec), nil
}

// Bins reports presence of every binary referenced by any skill.
func (s *Service) Bins() []BinStatus {
	seen := make(map[string]bool)
	var out []BinStatus
	for _, spec := range s.getCfg().Entries {
		for _, bin := range spec.Bins {
			if seen[bin] {
				continue
			}
			seen[bin] = true
			out = append(out, probeBin(bin))
		}
	}
	return out
}

// Install runs the skill's install command.
func (s *Service) Install(ctx context.Context, name string) (*RunResult, error) {
	return s.runAction(ctx, name, "install", func(spec config.SkillSpec) string { return spec.Install })
}

// Update runs the skill's update command.
func (s *Service) Update(ctx context.Context, name string) (*RunResult, error) {
	return s.runAction(ctx, name, "update", func(spec config.SkillSpec) string { return spec.Update })
}

// Uninstall runs the skill's uninstall command.
func (s *Service) Uninstall(ctx context.Context, name string) (*RunResult, error) {
	return s.runAction(ctx, name, "uninstall", func(spec config.SkillSpec) string { return spec.Uninstall })
}

func (s *Service) runAction(ctx context.Context, name, action string, pick func(config.SkillSpec) string) (*RunResult, error) {
	spec, err := s.find(name)
	if err != nil {
		return nil, err
	}
	command := pick(spec)
	if command == "" {
		return nil, fmt.Errorf("skill %q has no %s command", name, action)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("another skill command is already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	slog.Info("skills.run", "skill", name, "action", action)
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if len(text) > 8192 {
		text = text[:8192]
	}

	result := &RunResult{Name: name, Action: action, Output: text}
	if err != nil {
		result.Error = err.Error()
		slog.Warn("skills.run_failed", "skill", name, "action", action, "error", err)
		return result, nil
	}
	result.OK = true
	return result, nil
}

func (s *Service) find(name string) (config.SkillSpec, error) {
	for _, spec := range s.getCfg().Entries {
		if spec.Name == name {
			return spec, nil
		}
	}
	return config.SkillSpec{}, fmt.Errorf("skill %q not declared", name)
}

func (s *Service) status(spec config.SkillSpec) Status {
	st := Status{
		Name:         spec.Name,
		Description:  spec.Description,
		HasInstall:   spec.Install != "",
		HasUpdate:    spec.Update != "",
		HasUninstall: spec.Uninstall != "",
		Installed:    true,
	}
	for _, bin := range spec.Bins {
		b := probeBin(bin)
		st.Bins = append(st.Bins, b)
		if !b.Present {
			st.Installed = false
		}
	}
	if len(spec.Bins) == 0 {
		st.Installed = false
	}
	return st
}

func probeBin(name string) BinStatus {
	path, err := exec.LookPath(name)
	if err != nil {
		return BinStatus{Name: name}
	}
	return BinStatus{Name: name, Present: true, Path: path}
}
