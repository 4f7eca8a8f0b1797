package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second

	// DefaultSendQueueDepth is the per-client outbound high watermark
	// when the config leaves it unset.
	DefaultSendQueueDepth = 256

	// DefaultMaxMessageChars caps inbound frames when unconfigured.
	DefaultMaxMessageChars = 1 << 20
)

// outbound is one queued frame. Droppable frames are shed instead of
// blocking when the queue is at the high watermark.
type outbound struct {
	data      []byte
	droppable bool
}

// Client is one WebSocket connection. Reads run on the caller's
// goroutine; all writes funnel through the send queue so the socket
// has a single writer.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send      chan outbound
	closeOnce sync.Once
	closed    chan struct{}

	authed  atomic.Bool
	nodeID  atomic.Value // string, set once the hello registers a node
	dropped atomic.Int64
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	depth := s.cfg().Gateway.SendQueueDepth
	if depth <= 0 {
		depth = DefaultSendQueueDepth
	}
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan outbound, depth),
		closed: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Authenticated reports whether the hello exchange completed.
func (c *Client) Authenticated() bool { return c.authed.Load() }

// NodeID returns the node id registered on this connection, if any.
func (c *Client) NodeID() string {
	if v := c.nodeID.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Run drives the connection until the peer disconnects or ctx ends.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context) {
	limit := c.server.cfg().Gateway.MaxMessageChars
	if limit <= 0 {
		limit = DefaultMaxMessageChars
	}
	c.conn.SetReadLimit(int64(limit))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("gateway.read_error", "client", c.id, "error", err)
			}
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.sendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, err.Error()))
			continue
		}

		switch f := frame.(type) {
		case *protocol.RequestFrame:
			c.handleRequest(ctx, f)
		case *protocol.ResponseFrame:
			// Replies to gateway-initiated node.invoke requests.
			if !c.server.nodes.HandleResponse(f) {
				slog.Debug("gateway.orphan_response", "client", c.id, "id", f.ID)
			}
		case *protocol.EventFrame:
			// Clients do not push events; agent streams arrive as
			// agent.event requests.
			slog.Debug("gateway.event_ignored", "client", c.id, "event", f.Event)
		}
	}
}

func (c *Client) handleRequest(ctx context.Context, req *protocol.RequestFrame) {
	if err := protocol.ValidRequest(req); err != nil {
		c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}

	if req.Method == "hello" {
		c.handleHello(req)
		return
	}
	if !c.authed.Load() {
		c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "hello required before other methods"))
		return
	}
	if !c.server.rateLimiter.Allow(c.id) {
		c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "rate limit exceeded"))
		return
	}

	call := &Call{Client: c, Method: req.Method, ID: req.ID, Params: req.Params}
	c.server.dispatch(ctx, call)
}

// helloParams is the first frame every client must send. An empty
// configured token leaves the gateway open.
type helloParams struct {
	Token       string      `json:"token,omitempty"`
	Role        string      `json:"role,omitempty"` // "node" registers a companion node
	Node        *nodes.Node `json:"node,omitempty"`
	SessionKeys []string    `json:"sessionKeys,omitempty"`
	Client      string      `json:"client,omitempty"`
}

func (c *Client) handleHello(req *protocol.RequestFrame) {
	var params helloParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid hello params: "+err.Error()))
			return
		}
	}

	token := c.server.cfg().Gateway.Token
	if token != "" && params.Token != token {
		c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid token"))
		slog.Warn("gateway.hello_rejected", "client", c.id)
		return
	}
	c.authed.Store(true)

	if params.Role == "node" && params.Node != nil && params.Node.NodeID != "" {
		c.nodeID.Store(params.Node.NodeID)
		c.server.nodes.Register(*params.Node, c)
	}
	for _, key := range params.SessionKeys {
		c.server.subscribeSession(key, c)
	}

	slog.Info("gateway.hello", "client", c.id, "role", params.Role, "node", c.NodeID(), "sessions", len(params.SessionKeys))
	c.sendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"clientId": c.id,
		"version":  c.server.version,
	}))
}

func (c *Client) sendResponse(res *protocol.ResponseFrame) {
	data, err := json.Marshal(res)
	if err != nil {
		slog.Error("gateway.marshal_response", "client", c.id, "error", err)
		return
	}
	c.enqueue(outbound{data: data})
}

// SendEvent pushes an event frame. Droppable events are shed when the
// client's queue is at the high watermark.
func (c *Client) SendEvent(event protocol.EventFrame, dropIfSlow bool) {
	data, err := json.Marshal(&event)
	if err != nil {
		slog.Error("gateway.marshal_event", "client", c.id, "error", err)
		return
	}
	c.enqueue(outbound{data: data, droppable: dropIfSlow})
}

// SendRequest pushes a gateway-initiated request toward the peer. It
// satisfies the node registry's transport interface.
func (c *Client) SendRequest(frame *protocol.RequestFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	select {
	case c.send <- outbound{data: data}:
		return nil
	case <-c.closed:
		return fmt.Errorf("connection closed")
	}
}

// enqueue queues a frame for the write pump. Droppable frames are shed
// on a full queue; everything else blocks until there is room or the
// connection dies.
func (c *Client) enqueue(out outbound) {
	if out.droppable {
		select {
		case c.send <- out:
		case <-c.closed:
		default:
			if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
				slog.Debug("gateway.event_dropped", "client", c.id, "total", n)
			}
		}
		return
	}
	select {
	case c.send <- out:
	case <-c.closed:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case out := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}
