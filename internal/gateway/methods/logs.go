package methods

import (
	"context"

	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/logs"
	"github.com/openclaw/clawd/pkg/protocol"
)

// LogsMethods serves the persisted event history.
type LogsMethods struct {
	d *Deps
}

// NewLogsMethods creates the logs handler family.
func NewLogsMethods(d *Deps) *LogsMethods { return &LogsMethods{d: d} }

// Register wires logs.tail.
func (m *LogsMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodLogsTail, m.handleTail)
}

func (m *LogsMethods) handleTail(ctx context.Context, call *gateway.Call) {
	var params struct {
		Limit   int    `json:"limit,omitempty"`
		Name    string `json:"name,omitempty"`
		AfterID int64  `json:"afterId,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if m.d.Logs == nil {
		call.Fail(protocol.ErrUnavailable, "log store not available")
		return
	}

	rows, err := m.d.Logs.Tail(logs.TailParams{
		Limit:   params.Limit,
		Name:    params.Name,
		AfterID: params.AfterID,
	})
	if err != nil {
		call.Fail(protocol.ErrInternal, "read logs: "+err.Error())
		return
	}

	var cursor int64
	if len(rows) > 0 {
		cursor = rows[len(rows)-1].ID
	}
	call.OK(map[string]interface{}{"events": rows, "cursor": cursor})
}
