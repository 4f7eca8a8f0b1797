package methods

import (
	"context"

	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/pkg/protocol"
)

// NodesMethods serves the companion node registry.
type NodesMethods struct {
	d *Deps
}

// NewNodesMethods creates the nodes handler family.
func NewNodesMethods(d *Deps) *NodesMethods { return &NodesMethods{d: d} }

// Register wires nodes.list and nodes.invoke.
func (m *NodesMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodNodesList, m.handleList)
	router.Handle(protocol.MethodNodesInvoke, m.handleInvoke)
}

func (m *NodesMethods) handleList(ctx context.Context, call *gateway.Call) {
	call.OK(map[string]interface{}{"nodes": m.d.Nodes.ListConnected()})
}

func (m *NodesMethods) handleInvoke(ctx context.Context, call *gateway.Call) {
	var req nodes.InvokeRequest
	if !call.Bind(&req) {
		return
	}
	if req.NodeID == "" || req.Command == "" {
		call.Fail(protocol.ErrInvalidRequest, "nodeId and command are required")
		return
	}

	result, err := m.d.Nodes.Invoke(ctx, req)
	if err != nil {
		call.Fail(protocol.ErrInternal, "invoke node: "+err.Error())
		return
	}
	if !result.OK && result.Error != nil {
		call.Fail(result.Error.Code, result.Error.Message)
		return
	}
	call.OK(result)
}
