package methods

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/tools"
	"github.com/openclaw/clawd/pkg/protocol"
)

// ToolsMethods serves the unified tools fabric.
type ToolsMethods struct {
	d *Deps
}

// NewToolsMethods creates the tools handler family.
func NewToolsMethods(d *Deps) *ToolsMethods { return &ToolsMethods{d: d} }

// Register wires tools.list and tools.call.
func (m *ToolsMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodToolsList, m.handleList)
	router.Handle(protocol.MethodToolsCall, m.handleCall)
}

func (m *ToolsMethods) handleList(ctx context.Context, call *gateway.Call) {
	var params tools.ListParams
	if !call.Bind(&params) {
		return
	}
	defs := m.d.Fabric.List(ctx, params)
	call.OK(map[string]interface{}{"tools": defs})
}

func (m *ToolsMethods) handleCall(ctx context.Context, call *gateway.Call) {
	// Args arrive under any of the accepted aliases; resolve before
	// binding the rest of the params.
	var raw map[string]interface{}
	if len(call.Params) > 0 {
		if err := json.Unmarshal(call.Params, &raw); err != nil {
			call.Fail(protocol.ErrInvalidRequest, "invalid params: "+err.Error())
			return
		}
	}

	var params tools.CallParams
	if !call.Bind(&params) {
		return
	}
	if params.ProviderID == "" || params.ToolName == "" {
		call.Fail(protocol.ErrInvalidRequest, "providerId and toolName are required")
		return
	}
	if params.Args == nil {
		params.Args = tools.ResolveArgs(raw)
	}

	result, err := m.d.Fabric.Call(ctx, params)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrToolNotFound):
			call.Fail(protocol.ErrToolNotFound, err.Error())
		case errors.Is(err, tools.ErrInvalidCall):
			call.Fail(protocol.ErrInvalidRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			call.Fail(protocol.ErrTimeout, "tool call timed out")
		default:
			call.Fail(protocol.ErrUnavailable, err.Error())
		}
		return
	}
	call.OK(result)
}
