// Package heartbeat runs the periodic agent heartbeat: an interval or
// cron schedule, optionally fenced to an active-hours window, that
// dispatches a heartbeat-context run and announces the tick.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/openclaw/clawd/internal/bus"
	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/pkg/protocol"
)

// DefaultPrompt is sent when the config carries no custom prompt.
const DefaultPrompt = "Heartbeat check-in. Review pending work and report anything that needs attention. Reply HEARTBEAT_OK if nothing does."

const minInterval = 10 * time.Second

// Runner dispatches one heartbeat run.
type Runner func(ctx context.Context, hb config.HeartbeatConfig, prompt string) error

// Scheduler drives the heartbeat loop. The config is re-read on every
// tick so apply/patch changes take effect without a restart.
type Scheduler struct {
	getCfg func() *config.HeartbeatConfig
	run    Runner
	pub    bus.EventPublisher

	now func() time.Time
}

// NewScheduler creates a scheduler. pub may be nil.
func NewScheduler(getCfg func() *config.HeartbeatConfig, run Runner, pub bus.EventPublisher) *Scheduler {
	return &Scheduler{getCfg: getCfg, run: run, pub: pub, now: time.Now}
}

// Validate checks a heartbeat config without running it.
func Validate(hb *config.HeartbeatConfig) error {
	if hb == nil {
		return nil
	}
	if hb.Cron != "" {
		if !gronx.New().IsValid(hb.Cron) {
			return fmt.Errorf("invalid cron expression %q", hb.Cron)
		}
		return nil
	}
	if hb.Every != "" {
		if _, err := time.ParseDuration(hb.Every); err != nil {
			return fmt.Errorf("invalid heartbeat interval %q: %w", hb.Every, err)
		}
	}
	return nil
}

// Run blocks until ctx is cancelled, firing heartbeats per the
// configured schedule. A disabled or invalid schedule is re-checked
// every minute so config changes can re-enable it.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("heartbeat.started")
	for {
		wait := s.untilNext()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("heartbeat.stopped")
			return ctx.Err()
		case <-timer.C:
		}

		hb := s.getCfg()
		if hb == nil || !enabled(hb) {
			continue
		}
		if !withinActiveHours(hb.ActiveHours, s.now()) {
			slog.Debug("heartbeat.skipped", "reason", "outside active hours")
			continue
		}
		s.fire(ctx, *hb)
	}
}

// untilNext computes the sleep before the next tick. Disabled
// schedules poll for re-enablement.
func (s *Scheduler) untilNext() time.Duration {
	hb := s.getCfg()
	if hb == nil || !enabled(hb) {
		return time.Minute
	}
	now := s.now()

	if hb.Cron != "" {
		next, err := gronx.NextTickAfter(hb.Cron, now, false)
		if err != nil {
			slog.Warn("heartbeat.cron", "expr", hb.Cron, "error", err)
			return time.Minute
		}
		return next.Sub(now)
	}

	d, err := time.ParseDuration(hb.Every)
	if err != nil {
		slog.Warn("heartbeat.interval", "every", hb.Every, "error", err)
		return time.Minute
	}
	if d < minInterval {
		d = minInterval
	}
	return d
}

func (s *Scheduler) fire(ctx context.Context, hb config.HeartbeatConfig) {
	prompt := hb.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	if s.pub != nil {
		s.pub.Broadcast(bus.Event{Name: protocol.EventHeartbeat, Payload: map[string]interface{}{
			"ts":      s.now().UnixMilli(),
			"session": hb.Session,
		}})
	}
	if s.run == nil {
		return
	}
	if err := s.run(ctx, hb, prompt); err != nil {
		slog.Warn("heartbeat.run", "error", err)
		return
	}
	slog.Debug("heartbeat.fired", "session", hb.Session, "target", hb.Target)
}

func enabled(hb *config.HeartbeatConfig) bool {
	if hb.Cron != "" {
		return true
	}
	if hb.Every == "" {
		return false
	}
	d, err := time.ParseDuration(hb.Every)
	return err == nil && d > 0
}

// withinActiveHours reports whether now falls inside the configured
// window. Windows may wrap midnight ("22:00"–"06:00"). A missing or
// unparsable window means always active.
func withinActiveHours(w *config.ActiveHoursConfig, now time.Time) bool {
	if w == nil || w.Start == "" || w.End == "" {
		return true
	}
	loc := now.Location()
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	start, okS := parseClock(w.Start)
	end, okE := parseClock(w.End)
	if !okS || !okE {
		return true
	}
	cur := local.Hour()*60 + local.Minute()

	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
