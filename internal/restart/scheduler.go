package restart

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultDelay gives in-flight responses time to flush before the
// process signals itself.
const DefaultDelay = 1200 * time.Millisecond

// ScheduleResult is returned to the caller that asked for the restart.
type ScheduleResult struct {
	PID     int    `json:"pid"`
	Signal  string `json:"signal"`
	DelayMs int64  `json:"delayMs"`
}

// Scheduler arms a one-shot self-signal. A second Schedule call before
// the first fires replaces the pending one.
type Scheduler struct {
	sentinelPath string

	mu       sync.Mutex
	timer    *time.Timer
	staged   *Sentinel
	signalFn func() error // test seam; defaults to the platform self-signal
}

// NewScheduler creates a scheduler writing sentinels to sentinelPath.
func NewScheduler(sentinelPath string) *Scheduler {
	return &Scheduler{
		sentinelPath: sentinelPath,
		signalFn:     selfSignal,
	}
}

// Stage records the sentinel to persist right before the signal fires.
// Passing nil clears any staged payload.
func (s *Scheduler) Stage(sentinel *Sentinel) {
	s.mu.Lock()
	s.staged = sentinel
	s.mu.Unlock()
}

// Schedule arms the restart after delay. delay <= 0 fires immediately.
func (s *Scheduler) Schedule(delay time.Duration, reason string) ScheduleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if s.staged == nil {
		s.staged = NewSentinel("scheduled", "manual", reason)
	} else if reason != "" && s.staged.Stats.Reason == "" {
		s.staged.Stats.Reason = reason
	}

	slog.Info("restart.scheduled", "delay", delay, "reason", reason, "signal", SignalName)

	if delay <= 0 {
		s.fireLocked()
	} else {
		s.timer = time.AfterFunc(delay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.timer = nil
			s.fireLocked()
		})
	}

	return ScheduleResult{
		PID:     os.Getpid(),
		Signal:  SignalName,
		DelayMs: delay.Milliseconds(),
	}
}

// ScheduleAfterApply arms the default-delay restart used after config
// mutations that require one.
func (s *Scheduler) ScheduleAfterApply(reason string) {
	s.Schedule(DefaultDelay, reason)
}

// Cancel disarms a pending restart, if any.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// fireLocked writes the staged sentinel and signals the process.
// Sentinel failures never block the restart.
func (s *Scheduler) fireLocked() {
	if s.staged != nil {
		if err := WriteSentinel(s.sentinelPath, s.staged); err != nil {
			slog.Warn("restart.sentinel.write_failed", "error", err)
		}
		s.staged = nil
	}
	if err := s.signalFn(); err != nil {
		slog.Error("restart.signal_failed", "error", err)
	}
}
