package heartbeat

import (
	"testing"
	"time"

	"github.com/openclaw/clawd/internal/config"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		hb      *config.HeartbeatConfig
		wantErr bool
	}{
		{"nil", nil, false},
		{"interval", &config.HeartbeatConfig{Every: "30m"}, false},
		{"zero interval disables", &config.HeartbeatConfig{Every: "0m"}, false},
		{"bad interval", &config.HeartbeatConfig{Every: "soon"}, true},
		{"cron", &config.HeartbeatConfig{Cron: "*/5 * * * *"}, false},
		{"bad cron", &config.HeartbeatConfig{Cron: "every five minutes"}, true},
		{"cron wins over bad interval", &config.HeartbeatConfig{Cron: "0 9 * * 1-5", Every: "nope"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.hb)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%+v) = %v", tt.hb, err)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name string
		hb   config.HeartbeatConfig
		want bool
	}{
		{"empty", config.HeartbeatConfig{}, false},
		{"interval", config.HeartbeatConfig{Every: "30m"}, true},
		{"zero interval", config.HeartbeatConfig{Every: "0m"}, false},
		{"cron", config.HeartbeatConfig{Cron: "* * * * *"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := enabled(&tt.hb); got != tt.want {
				t.Errorf("enabled = %v", got)
			}
		})
	}
}

func TestUntilNext(t *testing.T) {
	at := time.Date(2026, 8, 26, 10, 2, 30, 0, time.UTC)

	newSched := func(hb *config.HeartbeatConfig) *Scheduler {
		s := NewScheduler(func() *config.HeartbeatConfig { return hb }, nil, nil)
		s.now = func() time.Time { return at }
		return s
	}

	if got := newSched(&config.HeartbeatConfig{Every: "30m"}).untilNext(); got != 30*time.Minute {
		t.Errorf("interval wait = %v", got)
	}
	// Clamped to the floor.
	if got := newSched(&config.HeartbeatConfig{Every: "1s"}).untilNext(); got != minInterval {
		t.Errorf("clamped wait = %v", got)
	}
	// Next */5 tick after 10:02:30 is 10:05:00.
	if got := newSched(&config.HeartbeatConfig{Cron: "*/5 * * * *"}).untilNext(); got != 2*time.Minute+30*time.Second {
		t.Errorf("cron wait = %v", got)
	}
	// Disabled schedules poll.
	if got := newSched(nil).untilNext(); got != time.Minute {
		t.Errorf("disabled wait = %v", got)
	}
}

func TestWithinActiveHours(t *testing.T) {
	at := func(hh, mm int) time.Time {
		return time.Date(2026, 8, 26, hh, mm, 0, 0, time.UTC)
	}
	window := func(start, end string) *config.ActiveHoursConfig {
		return &config.ActiveHoursConfig{Start: start, End: end, Timezone: "UTC"}
	}

	tests := []struct {
		name string
		w    *config.ActiveHoursConfig
		now  time.Time
		want bool
	}{
		{"no window", nil, at(3, 0), true},
		{"inside", window("09:00", "17:00"), at(12, 0), true},
		{"start inclusive", window("09:00", "17:00"), at(9, 0), true},
		{"end exclusive", window("09:00", "17:00"), at(17, 0), false},
		{"outside", window("09:00", "17:00"), at(6, 0), false},
		{"wraps midnight inside", window("22:00", "06:00"), at(23, 30), true},
		{"wraps midnight early", window("22:00", "06:00"), at(2, 0), true},
		{"wraps midnight outside", window("22:00", "06:00"), at(12, 0), false},
		{"unparsable window is open", &config.ActiveHoursConfig{Start: "9am", End: "5pm"}, at(3, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withinActiveHours(tt.w, tt.now); got != tt.want {
				t.Errorf("withinActiveHours = %v", got)
			}
		})
	}
}
