// Package nodes tracks connected companion nodes (desktop helpers) and
// brokers request/reply invocations over their gateway connections.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/clawd/pkg/protocol"
)

const (
	// DefaultInvokeTimeout bounds a node round-trip when the caller does
	// not supply one.
	DefaultInvokeTimeout = 15 * time.Second

	// idempotencyWindow is how long a completed invoke result is retained
	// for duplicate suppression.
	idempotencyWindow = 30 * time.Second
)

// Action is one command a node advertises.
type Action struct {
	ID          string                 `json:"id"`
	Label       string                 `json:"label,omitempty"`
	Description string                 `json:"description,omitempty"`
	Command     string                 `json:"command"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// Node is the public view of a connected companion node.
type Node struct {
	NodeID        string          `json:"nodeId"`
	DisplayName   string          `json:"displayName,omitempty"`
	Platform      string          `json:"platform,omitempty"`
	Version       string          `json:"version,omitempty"`
	Actions       []Action        `json:"actions,omitempty"`
	Permissions   map[string]bool `json:"permissions,omitempty"`
	ConnectedAtMs int64           `json:"connectedAtMs"`
}

// Conn is the transport half the registry needs: the ability to push a
// request frame toward the node. The gateway's per-connection writer
// implements it.
type Conn interface {
	SendRequest(frame *protocol.RequestFrame) error
}

// InvokeRequest invokes one action on one node.
type InvokeRequest struct {
	NodeID         string                 `json:"nodeId"`
	Command        string                 `json:"command"`
	Params         map[string]interface{} `json:"params,omitempty"`
	TimeoutMs      int64                  `json:"timeoutMs,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
}

// InvokeResult is the node's reply. PayloadJSON carries the raw bytes
// for callers that relay without re-encoding.
type InvokeResult struct {
	OK          bool                 `json:"ok"`
	Payload     interface{}          `json:"payload,omitempty"`
	PayloadJSON string               `json:"payloadJSON,omitempty"`
	Error       *protocol.ErrorShape `json:"error,omitempty"`
}

type nodeState struct {
	node Node
	conn Conn
}

type pendingInvoke struct {
	nodeID string
	ch     chan *protocol.ResponseFrame
}

type recentResult struct {
	result    *InvokeResult
	expiresAt time.Time
}

// Registry is the live set of connected nodes plus in-flight invokes.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[string]*nodeState
	pending map[string]*pendingInvoke // request id -> waiter
	recent  map[string]recentResult   // nodeID|idempotencyKey -> cached result

	onChange func(event string, node Node) // connect/disconnect notifications
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes:   make(map[string]*nodeState),
		pending: make(map[string]*pendingInvoke),
		recent:  make(map[string]recentResult),
	}
}

// OnChange registers a callback for connect/disconnect events. The
// gateway uses it to broadcast node.connected / node.disconnected.
func (r *Registry) OnChange(fn func(event string, node Node)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register adds or replaces a node. A reconnecting node replaces its
// previous connection; pending invokes on the old connection keep their
// waiters and may still complete or time out.
func (r *Registry) Register(node Node, conn Conn) {
	if node.ConnectedAtMs == 0 {
		node.ConnectedAtMs = time.Now().UnixMilli()
	}
	r.mu.Lock()
	r.nodes[node.NodeID] = &nodeState{node: node, conn: conn}
	onChange := r.onChange
	r.mu.Unlock()

	slog.Info("node.connected", "node", node.NodeID, "name", node.DisplayName, "platform", node.Platform)
	if onChange != nil {
		onChange(protocol.EventNodeConnected, node)
	}
}

// Unregister removes a node and fails its in-flight invokes with
// UNAVAILABLE.
func (r *Registry) Unregister(nodeID string) {
	r.mu.Lock()
	state, ok := r.nodes[nodeID]
	if ok {
		delete(r.nodes, nodeID)
	}
	var waiters []*pendingInvoke
	for id, p := range r.pending {
		if p.nodeID == nodeID {
			waiters = append(waiters, p)
			delete(r.pending, id)
		}
	}
	onChange := r.onChange
	r.mu.Unlock()

	if !ok {
		return
	}

	for _, p := range waiters {
		p.ch <- protocol.NewErrorResponse("", protocol.ErrUnavailable, "node disconnected")
	}

	slog.Info("node.disconnected", "node", nodeID, "cancelled", len(waiters))
	if onChange != nil {
		onChange(protocol.EventNodeDisconnected, state.node)
	}
}

// ListConnected returns a snapshot of all connected nodes.
func (r *Registry) ListConnected() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, state := range r.nodes {
		out = append(out, state.node)
	}
	return out
}

// Get returns one node by id.
func (r *Registry) Get(nodeID string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return state.node, true
}

// DisplayName resolves a node id to its display name. Satisfies the
// session store's migration lookup.
func (r *Registry) DisplayName(nodeID string) (string, bool) {
	node, ok := r.Get(nodeID)
	if !ok || node.DisplayName == "" {
		return "", false
	}
	return node.DisplayName, true
}

// SetActions replaces a node's advertised action catalog.
func (r *Registry) SetActions(nodeID string, actions []Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %q not connected", nodeID)
	}
	state.node.Actions = actions
	return nil
}

// Invoke performs a request/reply round-trip to a node. Duplicate
// idempotency keys within the retention window short-circuit to the
// previous result without re-invoking.
func (r *Registry) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	if req.NodeID == "" || req.Command == "" {
		return nil, fmt.Errorf("nodeId and command are required")
	}

	idemKey := ""
	if req.IdempotencyKey != "" {
		idemKey = req.NodeID + "|" + req.IdempotencyKey
		r.mu.Lock()
		if cached, ok := r.recent[idemKey]; ok && time.Now().Before(cached.expiresAt) {
			r.mu.Unlock()
			return cached.result, nil
		}
		r.mu.Unlock()
	}

	r.mu.RLock()
	state, ok := r.nodes[req.NodeID]
	r.mu.RUnlock()
	if !ok {
		return &InvokeResult{
			OK:    false,
			Error: &protocol.ErrorShape{Code: protocol.ErrUnavailable, Message: fmt.Sprintf("node %q not connected", req.NodeID)},
		}, nil
	}

	timeout := DefaultInvokeTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqID := uuid.NewString()
	frame, err := protocol.NewRequest(reqID, "node.invoke", map[string]interface{}{
		"command": req.Command,
		"params":  req.Params,
	})
	if err != nil {
		return nil, err
	}

	waiter := &pendingInvoke{nodeID: req.NodeID, ch: make(chan *protocol.ResponseFrame, 1)}
	r.mu.Lock()
	r.pending[reqID] = waiter
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, reqID)
		r.mu.Unlock()
	}()

	if err := state.conn.SendRequest(frame); err != nil {
		return &InvokeResult{
			OK:    false,
			Error: &protocol.ErrorShape{Code: protocol.ErrUnavailable, Message: fmt.Sprintf("send to node: %v", err)},
		}, nil
	}

	select {
	case <-ctx.Done():
		return &InvokeResult{
			OK:    false,
			Error: &protocol.ErrorShape{Code: protocol.ErrTimeout, Message: fmt.Sprintf("node %q did not reply within %s", req.NodeID, timeout)},
		}, nil
	case res := <-waiter.ch:
		result := resultFromResponse(res)
		if idemKey != "" {
			r.mu.Lock()
			r.pruneRecentLocked()
			r.recent[idemKey] = recentResult{result: result, expiresAt: time.Now().Add(idempotencyWindow)}
			r.mu.Unlock()
		}
		return result, nil
	}
}

// HandleResponse routes a response frame arriving on a node connection
// to its waiter. Returns false when no invoke was pending for the id.
func (r *Registry) HandleResponse(res *protocol.ResponseFrame) bool {
	r.mu.Lock()
	waiter, ok := r.pending[res.ID]
	if ok {
		delete(r.pending, res.ID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	waiter.ch <- res
	return true
}

func resultFromResponse(res *protocol.ResponseFrame) *InvokeResult {
	if !res.OK {
		shape := res.Error
		if shape == nil || shape.Code == "" {
			shape = &protocol.ErrorShape{Code: protocol.ErrUnavailable, Message: "node returned an error"}
		}
		return &InvokeResult{OK: false, Error: shape}
	}
	out := &InvokeResult{OK: true, Payload: res.Result}
	if res.Result != nil {
		if raw, err := json.Marshal(res.Result); err == nil {
			out.PayloadJSON = string(raw)
		}
	}
	return out
}

// pruneRecentLocked drops expired idempotency entries. Called with the
// write lock held.
func (r *Registry) pruneRecentLocked() {
	now := time.Now()
	for k, v := range r.recent {
		if now.After(v.expiresAt) {
			delete(r.recent, k)
		}
	}
}
