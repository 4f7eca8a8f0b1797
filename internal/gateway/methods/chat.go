package methods

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openclaw/clawd/internal/bus"
	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/logs"
	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/pkg/protocol"
)

// ChatMethods bridges chat requests to the connected agent runtime and
// ingests its event stream.
type ChatMethods struct {
	d *Deps
}

// NewChatMethods creates the chat handler family.
func NewChatMethods(d *Deps) *ChatMethods { return &ChatMethods{d: d} }

// Register wires chat.send, chat.abort, chat.history, and agent.event.
func (m *ChatMethods) Register(router *gateway.Router) {
	router.Handle(protocol.MethodChatSend, m.handleSend)
	router.Handle(protocol.MethodChatAbort, m.handleAbort)
	router.Handle(protocol.MethodChatHistory, m.handleHistory)
	router.Handle(protocol.MethodAgentEvent, m.handleAgentEvent)
}

// runtimeNode picks the node that executes agent runs: an explicit id
// when given, otherwise the first connected node.
func (m *ChatMethods) runtimeNode(explicit string) (string, error) {
	if explicit != "" {
		if _, ok := m.d.Nodes.Get(explicit); !ok {
			return "", fmt.Errorf("node %q not connected", explicit)
		}
		return explicit, nil
	}
	connected := m.d.Nodes.ListConnected()
	if len(connected) == 0 {
		return "", fmt.Errorf("no agent runtime connected")
	}
	return connected[0].NodeID, nil
}

func (m *ChatMethods) handleSend(ctx context.Context, call *gateway.Call) {
	var params struct {
		SessionKey string `json:"sessionKey"`
		Message    string `json:"message"`
		RunID      string `json:"runId,omitempty"`
		NodeID     string `json:"nodeId,omitempty"`
		TimeoutMs  int64  `json:"timeoutMs,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.SessionKey == "" || params.Message == "" {
		call.Fail(protocol.ErrInvalidRequest, "sessionKey and message are required")
		return
	}
	if max := m.d.Server.Cfg().Gateway.MaxMessageChars; max > 0 && len(params.Message) > max {
		call.Fail(protocol.ErrInvalidRequest, fmt.Sprintf("message exceeds %d chars", max))
		return
	}

	entry, err := m.d.Sessions.EnsureEntry(params.SessionKey)
	if err != nil {
		call.Fail(protocol.ErrInternal, "ensure session: "+err.Error())
		return
	}

	runID := params.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	m.d.AgentBus.RegisterChatRun(entry.SessionID, bus.ChatLink{
		SessionKey:  params.SessionKey,
		ClientRunID: runID,
	})

	nodeID, err := m.runtimeNode(params.NodeID)
	if err != nil {
		call.Fail(protocol.ErrUnavailable, err.Error())
		return
	}

	result, err := m.d.Nodes.Invoke(ctx, nodes.InvokeRequest{
		NodeID:  nodeID,
		Command: "chat.send",
		Params: map[string]interface{}{
			"sessionKey": params.SessionKey,
			"sessionId":  entry.SessionID,
			"runId":      runID,
			"message":    params.Message,
		},
		TimeoutMs: params.TimeoutMs,
	})
	if err != nil {
		call.Fail(protocol.ErrInternal, "dispatch chat: "+err.Error())
		return
	}
	if !result.OK {
		code := protocol.ErrUnavailable
		msg := "agent runtime rejected the run"
		if result.Error != nil {
			code, msg = result.Error.Code, result.Error.Message
		}
		call.Fail(code, msg)
		return
	}

	call.OK(map[string]interface{}{
		"runId":     runID,
		"sessionId": entry.SessionID,
		"nodeId":    nodeID,
		"status":    "accepted",
	})
}

func (m *ChatMethods) handleAbort(ctx context.Context, call *gateway.Call) {
	var params struct {
		RunID  string `json:"runId"`
		NodeID string `json:"nodeId,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.RunID == "" {
		call.Fail(protocol.ErrInvalidRequest, "runId is required")
		return
	}

	m.d.AgentBus.MarkAborted(params.RunID)

	// Best effort: the run ends locally even if no runtime hears the
	// abort.
	if nodeID, err := m.runtimeNode(params.NodeID); err == nil {
		m.d.Nodes.Invoke(ctx, nodes.InvokeRequest{
			NodeID:  nodeID,
			Command: "chat.abort",
			Params:  map[string]interface{}{"runId": params.RunID},
		})
	}

	call.OK(map[string]interface{}{"runId": params.RunID, "aborted": true})
}

func (m *ChatMethods) handleHistory(ctx context.Context, call *gateway.Call) {
	var params struct {
		SessionKey string `json:"sessionKey"`
		Limit      int    `json:"limit,omitempty"`
	}
	if !call.Bind(&params) {
		return
	}
	if params.SessionKey == "" {
		call.Fail(protocol.ErrInvalidRequest, "sessionKey is required")
		return
	}
	if m.d.Logs == nil {
		call.Fail(protocol.ErrUnavailable, "log store not available")
		return
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	// Chat events for other sessions share the table; over-fetch and
	// filter down to the requested session.
	rows, err := m.d.Logs.Tail(logs.TailParams{Name: protocol.EventChat, Limit: limit * 4})
	if err != nil {
		call.Fail(protocol.ErrInternal, "read history: "+err.Error())
		return
	}

	matched := make([]logs.EventRow, 0, limit)
	for _, row := range rows {
		if row.SessionKey == params.SessionKey {
			matched = append(matched, row)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	call.OK(map[string]interface{}{"events": matched})
}

// handleAgentEvent ingests one agent stream event pushed by a runtime
// node.
func (m *ChatMethods) handleAgentEvent(ctx context.Context, call *gateway.Call) {
	var evt bus.AgentEvent
	if !call.Bind(&evt) {
		return
	}
	if evt.RunID == "" || evt.Stream == "" || evt.Seq <= 0 {
		call.Fail(protocol.ErrInvalidRequest, "runId, stream, and a positive seq are required")
		return
	}

	m.d.AgentBus.HandleAgentEvent(evt)
	call.OK(map[string]interface{}{"accepted": true})
}
