package methods

import (
	"context"
	"os"
	"time"

	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/restart"
	"github.com/openclaw/clawd/pkg/protocol"
)

// CoreMethods serves liveness, identity, and restart scheduling.
type CoreMethods struct {
	d *Deps
}

// NewCoreMethods creates the core handler family.
func NewCoreMethods(d *Deps) *CoreMethods { return &CoreMethods{d: d} }

// Register wires health, status, restart.schedule, and goodbye.
func (m *CoreMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodHealth, m.handleHealth)
	router.Handle(protocol.MethodStatus, m.handleStatus)
	router.Handle(protocol.MethodRestartSchedule, m.handleRestartSchedule)
	router.Handle(protocol.MethodGoodbye, m.handleGoodbye)
}

func (m *CoreMethods) handleHealth(ctx context.Context, call *gateway.Call) {
	call.OK(map[string]interface{}{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
		"version":  m.d.Version,
		"uptimeMs": time.Since(m.d.StartedAt).Milliseconds(),
	})
}

func (m *CoreMethods) handleStatus(ctx context.Context, call *gateway.Call) {
	cfg := m.d.Server.Cfg()
	status := map[string]interface{}{
		"version":     m.d.Version,
		"protocol":    protocol.ProtocolVersion,
		"pid":         os.Getpid(),
		"startedAtMs": m.d.StartedAt.UnixMilli(),
		"uptimeMs":    time.Since(m.d.StartedAt).Milliseconds(),
		"clients":     m.d.Server.ClientCount(),
		"gateway": map[string]interface{}{
			"host": cfg.Gateway.Host,
			"port": cfg.Gateway.Port,
		},
		"configPath": m.d.Store.Path(),
	}
	if m.d.Nodes != nil {
		status["nodes"] = len(m.d.Nodes.ListConnected())
	}
	if m.d.Channels != nil {
		status["channels"] = m.d.Channels.Names()
	}
	call.OK(status)
}

func (m *CoreMethods) handleRestartSchedule(ctx context.Context, call *gateway.Call) {
	var params struct {
		DelayMs int64  `json:"delayMs,omitempty"`
		Reason  string `json:"reason,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if m.d.Scheduler == nil {
		call.Fail(protocol.ErrUnavailable, "restart scheduler not available")
		return
	}
	delay := restart.DefaultDelay
	if params.DelayMs > 0 {
		delay = time.Duration(params.DelayMs) * time.Millisecond
	}
	result := m.d.Scheduler.Schedule(delay, params.Reason)
	call.OK(result)
}

func (m *CoreMethods) handleGoodbye(ctx context.Context, call *gateway.Call) {
	call.OK(map[string]interface{}{"bye": true})
}
