// Package gateway implements the WebSocket control plane: one JSON
// frame protocol, a method router, per-session event fanout, and the
// HTTP listener carrying /ws and /health.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclaw/clawd/internal/bus"
	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/pkg/protocol"
)

// DefaultDispatchWorkers sizes the handler pool when unconfigured.
const DefaultDispatchWorkers = 16

// Server accepts WebSocket connections, routes request frames through
// the method router, and fans bus events out to clients.
type Server struct {
	store   *config.Store
	current atomic.Pointer[config.Config]
	pub     bus.EventPublisher
	nodes   *nodes.Registry
	router  *Router
	version string

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter

	mu          sync.RWMutex
	clients     map[string]*Client
	sessionSubs map[string]map[string]*Client // sessionKey -> client id -> client

	work     chan dispatchJob
	workOnce sync.Once
	draining atomic.Bool

	httpServer *http.Server
	mux        *http.ServeMux
}

type dispatchJob struct {
	ctx  context.Context
	call *Call
}

// NewServer creates a gateway server around the given config store and
// event publisher.
func NewServer(store *config.Store, cfg *config.Config, pub bus.EventPublisher, nodeReg *nodes.Registry, version string) *Server {
	s := &Server{
		store:       store,
		pub:         pub,
		nodes:       nodeReg,
		router:      NewRouter(),
		version:     version,
		clients:     make(map[string]*Client),
		sessionSubs: make(map[string]map[string]*Client),
	}
	s.current.Store(cfg)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)

	nodeReg.OnChange(func(event string, node nodes.Node) {
		s.pub.Broadcast(bus.Event{Name: event, Payload: map[string]interface{}{
			"nodeId":      node.NodeID,
			"displayName": node.DisplayName,
			"platform":    node.Platform,
		}})
	})
	return s
}

// cfg returns the live config. Hot reloads swap the pointer.
func (s *Server) cfg() *config.Config { return s.current.Load() }

// Cfg exposes the live config to method handlers.
func (s *Server) Cfg() *config.Config { return s.current.Load() }

// Store returns the config store backing this gateway.
func (s *Server) Store() *config.Store { return s.store }

// Router returns the method router for handler registration.
func (s *Server) Router() *Router { return s.router }

// RateLimiter exposes the per-client limiter to method handlers.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// startWorkers launches the bounded handler pool.
func (s *Server) startWorkers() {
	s.workOnce.Do(func() {
		workers := s.cfg().Gateway.DispatchWorkers
		if workers <= 0 {
			workers = DefaultDispatchWorkers
		}
		s.work = make(chan dispatchJob, workers*4)
		for i := 0; i < workers; i++ {
			go func() {
				for job := range s.work {
					s.router.Dispatch(job.ctx, job.call)
				}
			}()
		}
	})
}

// dispatch hands a call to the worker pool. Enqueueing blocks the
// client's read loop when the pool is saturated, which is the
// backpressure we want.
func (s *Server) dispatch(ctx context.Context, call *Call) {
	if s.draining.Load() {
		call.Fail(protocol.ErrUnavailable, "gateway shutting down")
		return
	}
	s.startWorkers()
	s.work <- dispatchJob{ctx: ctx, call: call}
}

// BuildMux creates and caches the HTTP mux. Call before Start when the
// mux is needed for an additional listener.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then drains connected clients.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	s.startWorkers()

	addr := fmt.Sprintf("%s:%d", s.cfg().Gateway.Host, s.cfg().Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway.starting", "addr", addr, "protocol", protocol.ProtocolVersion)

	go func() {
		<-ctx.Done()
		s.drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Serve runs the gateway on an existing listener. The tsnet listener
// and tests use it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := s.BuildMux()
	s.startWorkers()
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		s.drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// drain refuses new work, tells clients the gateway is going away, and
// closes every connection.
func (s *Server) drain() {
	if !s.draining.CompareAndSwap(false, true) {
		return
	}
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.SendEvent(*protocol.NewEvent(protocol.EventShutdown, nil), false)
	}
	time.Sleep(100 * time.Millisecond)
	for _, c := range clients {
		c.Close()
	}
	slog.Info("gateway.drained", "clients", len(clients))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway.upgrade_failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d,"version":%q}`, protocol.ProtocolVersion, s.version)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	// Session-scoped events reach only subscribers of that session;
	// everything else fans out to all authenticated clients.
	s.pub.Subscribe(c.id, func(event bus.Event) {
		if !c.Authenticated() {
			return
		}
		if event.SessionKey != "" && !s.subscribed(event.SessionKey, c.id) {
			return
		}
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload), event.DropIfSlow)
	})

	slog.Info("gateway.client_connected", "client", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	for key, subs := range s.sessionSubs {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(s.sessionSubs, key)
		}
	}
	s.mu.Unlock()

	s.pub.Unsubscribe(c.id)
	s.rateLimiter.Forget(c.id)
	if nodeID := c.NodeID(); nodeID != "" {
		s.nodes.Unregister(nodeID)
	}
	slog.Info("gateway.client_disconnected", "client", c.id)
}

// subscribeSession adds a client to a session's fanout set.
func (s *Server) subscribeSession(sessionKey string, c *Client) {
	if sessionKey == "" {
		return
	}
	s.mu.Lock()
	subs, ok := s.sessionSubs[sessionKey]
	if !ok {
		subs = make(map[string]*Client)
		s.sessionSubs[sessionKey] = subs
	}
	subs[c.id] = c
	s.mu.Unlock()
}

func (s *Server) subscribed(sessionKey, clientID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs, ok := s.sessionSubs[sessionKey]
	if !ok {
		return false
	}
	_, ok = subs[clientID]
	return ok
}

// SendToSession pushes an event to every subscriber of one session.
func (s *Server) SendToSession(sessionKey string, event bus.Event) {
	s.mu.RLock()
	subs := s.sessionSubs[sessionKey]
	clients := make([]*Client, 0, len(subs))
	for _, c := range subs {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	frame := protocol.NewEvent(event.Name, event.Payload)
	for _, c := range clients {
		c.SendEvent(*frame, event.DropIfSlow)
	}
}

// BroadcastEvent sends an event frame to every connected client.
func (s *Server) BroadcastEvent(event protocol.EventFrame, dropIfSlow bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.SendEvent(event, dropIfSlow)
	}
}

// ClientCount reports connected clients, for status reporting.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
