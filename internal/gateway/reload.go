package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/clawd/internal/bus"
	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/restart"
	"github.com/openclaw/clawd/pkg/protocol"
)

// reloadDelay gives clients a moment to observe config.changed before
// a restart-mode reload bounces the process.
const reloadDelay = 2 * time.Second

// Reloader reacts to config file changes: hot paths swap the live
// config in place, restart paths arm the restart scheduler. Plug its
// OnSnapshot into the config watcher.
type Reloader struct {
	server    *Server
	scheduler *restart.Scheduler

	mu      sync.Mutex
	lastRaw string
}

// NewReloader creates a reloader seeded with the boot snapshot.
func NewReloader(server *Server, scheduler *restart.Scheduler, boot *config.Snapshot) *Reloader {
	r := &Reloader{server: server, scheduler: scheduler}
	if boot != nil {
		r.lastRaw = boot.Raw
	}
	return r
}

// OnSnapshot classifies one config change and applies or defers it.
func (r *Reloader) OnSnapshot(snap *config.Snapshot) {
	if snap == nil || !snap.Valid || snap.Config == nil {
		slog.Warn("config.reload.skipped_invalid", "issues", len(snap.Issues))
		return
	}

	r.mu.Lock()
	prev := r.lastRaw
	r.lastRaw = snap.Raw
	r.mu.Unlock()

	changed := config.DiffPaths([]byte(prev), []byte(snap.Raw))
	if len(changed) == 0 {
		return
	}

	mode := r.server.cfg().Gateway.Reload.Mode
	plan := config.PlanReload(mode, changed)
	switch {
	case plan.Mode == config.ReloadModeOff:
		slog.Info("config.reload.off", "changed", len(changed))
		return
	case plan.RestartRequired:
		slog.Info("config.reload.restart", "paths", plan.RestartPaths)
		r.applyHot(snap, plan.HotPaths)
		r.scheduler.Schedule(reloadDelay, "config change requires restart")
	default:
		slog.Info("config.reload.hot", "paths", plan.HotPaths)
		r.applyHot(snap, plan.HotPaths)
	}
}

func (r *Reloader) applyHot(snap *config.Snapshot, paths []string) {
	r.server.current.Store(snap.Config)
	r.server.pub.Broadcast(bus.Event{
		Name: protocol.EventConfigChanged,
		Payload: map[string]interface{}{
			"hash":  snap.Hash,
			"paths": paths,
		},
	})
}
