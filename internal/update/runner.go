// Package update implements update.run: a release check against the
// configured manifest endpoint with an optional handoff to an external
// update command.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/netguard"
)

// MaxDuration bounds one update.run end to end, command included.
const MaxDuration = 20 * time.Minute

const checkTimeout = 30 * time.Second

// ErrAlreadyRunning is returned while a previous run is in flight.
var ErrAlreadyRunning = errors.New("an update is already running")

// Result statuses.
const (
	StatusUpToDate  = "up_to_date"
	StatusAvailable = "update_available"
	StatusApplied   = "applied"
	StatusFailed    = "failed"
)

// Result is the update.run reply.
type Result struct {
	Status         string `json:"status"`
	CurrentVersion string `json:"currentVersion"`
	LatestVersion  string `json:"latestVersion,omitempty"`
	Channel        string `json:"channel,omitempty"`
	Output         string `json:"output,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Runner performs update checks. Safe for concurrent callers; only one
// run proceeds at a time.
type Runner struct {
	getCfg  func() config.UpdateConfig
	guard   *netguard.Guard
	version string

	mu      sync.Mutex
	running bool
}

// NewRunner creates a runner. version is the daemon's build version.
func NewRunner(getCfg func() config.UpdateConfig, guard *netguard.Guard, version string) *Runner {
	return &Runner{getCfg: getCfg, guard: guard, version: version}
}

// Run checks the manifest and, when a newer release exists and a
// command is configured, hands off to it.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, MaxDuration)
	defer cancel()

	cfg := r.getCfg()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("no update endpoint configured")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "stable"
	}

	latest, err := r.fetchLatest(ctx, cfg.Endpoint, channel)
	if err != nil {
		return nil, fmt.Errorf("check for updates: %w", err)
	}

	result := &Result{
		CurrentVersion: r.version,
		LatestVersion:  latest,
		Channel:        channel,
	}
	if !newer(latest, r.version) {
		result.Status = StatusUpToDate
		return result, nil
	}

	slog.Info("update.available", "current", r.version, "latest", latest, "channel", channel)
	if cfg.Command == "" {
		result.Status = StatusAvailable
		return result, nil
	}

	output, err := runCommand(ctx, cfg.Command)
	result.Output = output
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		slog.Warn("update.command", "error", err)
		return result, nil
	}
	result.Status = StatusApplied
	slog.Info("update.applied", "version", latest)
	return result, nil
}

// fetchLatest reads the release manifest. Accepted shapes:
// {"version":"1.2.3"} or {"channels":{"stable":{"version":"1.2.3"}}}.
func (r *Runner) fetchLatest(ctx context.Context, endpoint, channel string) (string, error) {
	client := r.guard.Client(checkTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("manifest endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var manifest struct {
		Version  string `json:"version"`
		Channels map[string]struct {
			Version string `json:"version"`
		} `json:"channels"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&manifest); err != nil {
		return "", fmt.Errorf("parse manifest: %w", err)
	}

	if ch, ok := manifest.Channels[channel]; ok && ch.Version != "" {
		return ch.Version, nil
	}
	if manifest.Version == "" {
		return "", fmt.Errorf("manifest carries no version for channel %q", channel)
	}
	return manifest.Version, nil
}

func runCommand(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if len(text) > 8192 {
		text = text[:8192]
	}
	if err != nil {
		return text, fmt.Errorf("update command: %w", err)
	}
	return text, nil
}

// newer reports whether latest is a strictly newer release than
// current. Non-numeric versions ("dev") always see releases as newer.
func newer(latest, current string) bool {
	l, lok := parseVersion(latest)
	c, cok := parseVersion(current)
	if !lok {
		return false
	}
	if !cok {
		return true
	}
	for i := 0; i < 3; i++ {
		if l[i] != c[i] {
			return l[i] > c[i]
		}
	}
	return false
}

func parseVersion(v string) ([3]int, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return [3]int{}, false
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return [3]int{}, false
		}
		out[i] = n
	}
	return out, true
}
