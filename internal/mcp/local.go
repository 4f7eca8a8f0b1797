package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/tools"
)

const (
	localHealthInterval      = 30 * time.Second
	localInitialBackoff      = 2 * time.Second
	localMaxBackoff          = 60 * time.Second
	localMaxReconnects       = 10
	localDefaultCallTimeout  = 60 * time.Second
)

// LocalServerStatus reports one locally managed MCP server.
type LocalServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"toolCount"`
	Error     string `json:"error,omitempty"`
}

// localServer tracks a single managed connection.
type localServer struct {
	name      string
	transport string
	client    *mcpclient.Client
	connected atomic.Bool
	defs      []tools.Definition
	cancel    context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// LocalManager launches and supervises the MCP servers declared in
// config.mcp.servers, and projects their tools into the fabric under
// the provider id "mcp:<name>". Disjoint from the registry-installed
// HTTP providers the Hub owns.
type LocalManager struct {
	mu      sync.RWMutex
	servers map[string]*localServer
}

// NewLocalManager creates an empty manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{servers: make(map[string]*localServer)}
}

// Start connects all enabled servers. Non-fatal: failures are logged
// per server and the rest keep going.
func (m *LocalManager) Start(ctx context.Context, configs map[string]config.LocalServerConfig) error {
	var failed []string
	for name, cfg := range configs {
		if cfg.Disabled {
			slog.Info("mcp.local.disabled", "server", name)
			continue
		}
		if err := m.connect(ctx, name, cfg); err != nil {
			slog.Warn("mcp.local.connect_failed", "server", name, "error", err)
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("some MCP servers failed to connect: %s", strings.Join(failed, "; "))
	}
	return nil
}

// Stop closes all connections and forgets their tools.
func (m *LocalManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, srv := range m.servers {
		if srv.cancel != nil {
			srv.cancel()
		}
		if srv.client != nil {
			if err := srv.client.Close(); err != nil {
				slog.Debug("mcp.local.close_error", "server", name, "error", err)
			}
		}
	}
	m.servers = make(map[string]*localServer)
}

// Status returns a snapshot of every managed server.
func (m *LocalManager) Status() []LocalServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LocalServerStatus, 0, len(m.servers))
	for _, srv := range m.servers {
		srv.mu.Lock()
		lastErr := srv.lastErr
		srv.mu.Unlock()
		out = append(out, LocalServerStatus{
			Name:      srv.name,
			Transport: srv.transport,
			Connected: srv.connected.Load(),
			ToolCount: len(srv.defs),
			Error:     lastErr,
		})
	}
	return out
}

func (m *LocalManager) connect(ctx context.Context, name string, cfg config.LocalServerConfig) error {
	transportType := cfg.Type
	if transportType == "" {
		transportType = "stdio"
	}

	client, err := newLocalClient(transportType, cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// SSE and streamable-http need an explicit transport start; stdio
	// starts on creation.
	if transportType != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "clawd", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	srv := &localServer{
		name:      name,
		transport: transportType,
		client:    client,
	}
	srv.connected.Store(true)
	srv.defs = localDefinitions(name, listed.Tools, cfg.AllowedTools, cfg.DisallowedTools)

	hctx, hcancel := context.WithCancel(context.Background())
	srv.cancel = hcancel
	go m.healthLoop(hctx, srv)

	m.mu.Lock()
	if prev, ok := m.servers[name]; ok {
		if prev.cancel != nil {
			prev.cancel()
		}
		if prev.client != nil {
			_ = prev.client.Close()
		}
	}
	m.servers[name] = srv
	m.mu.Unlock()

	slog.Info("mcp.local.connected", "server", name, "transport", transportType, "tools", len(srv.defs))
	return nil
}

func newLocalClient(transportType string, cfg config.LocalServerConfig) (*mcpclient.Client, error) {
	switch transportType {
	case "stdio":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %q", transportType)
	}
}

// localDefinitions maps listed tools to fabric definitions, honoring
// the allow/deny lists. Deny wins.
func localDefinitions(serverName string, listed []mcpgo.Tool, allow, deny []string) []tools.Definition {
	allowSet := map[string]bool{}
	for _, name := range allow {
		allowSet[name] = true
	}
	denySet := map[string]bool{}
	for _, name := range deny {
		denySet[name] = true
	}

	providerID := config.NormalizeProviderID(serverName)
	var out []tools.Definition
	for _, t := range listed {
		if denySet[t.Name] {
			continue
		}
		if len(allowSet) > 0 && !allowSet[t.Name] {
			continue
		}
		out = append(out, tools.Definition{
			Name:          providerID + "." + t.Name,
			ProviderID:    providerID,
			ProviderKind:  tools.KindMCP,
			ProviderLabel: serverName,
			Description:   t.Description,
			InputSchema:   toolInputSchema(t),
			Command:       t.Name,
		})
	}
	return out
}

func toolInputSchema(t mcpgo.Tool) map[string]interface{} {
	schema := map[string]interface{}{"type": t.InputSchema.Type}
	if len(t.InputSchema.Properties) > 0 {
		schema["properties"] = t.InputSchema.Properties
	}
	if len(t.InputSchema.Required) > 0 {
		schema["required"] = t.InputSchema.Required
	}
	return schema
}

// healthLoop pings the server and reconnects with backoff on failure.
func (m *LocalManager) healthLoop(ctx context.Context, srv *localServer) {
	ticker := time.NewTicker(localHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := srv.client.Ping(ctx)
			if err == nil {
				srv.markHealthy()
				continue
			}
			// Servers without a ping handler are still alive.
			if strings.Contains(strings.ToLower(err.Error()), "method not found") {
				srv.markHealthy()
				continue
			}

			srv.connected.Store(false)
			srv.mu.Lock()
			srv.lastErr = err.Error()
			srv.mu.Unlock()
			slog.Warn("mcp.local.health_failed", "server", srv.name, "error", err)
			m.tryReconnect(ctx, srv)
		}
	}
}

func (srv *localServer) markHealthy() {
	srv.connected.Store(true)
	srv.mu.Lock()
	srv.reconnAttempts = 0
	srv.lastErr = ""
	srv.mu.Unlock()
}

func (m *LocalManager) tryReconnect(ctx context.Context, srv *localServer) {
	srv.mu.Lock()
	if srv.reconnAttempts >= localMaxReconnects {
		srv.lastErr = fmt.Sprintf("max reconnect attempts (%d) reached", localMaxReconnects)
		srv.mu.Unlock()
		slog.Error("mcp.local.reconnect_exhausted", "server", srv.name)
		return
	}
	srv.reconnAttempts++
	attempt := srv.reconnAttempts
	srv.mu.Unlock()

	backoff := localInitialBackoff * time.Duration(1<<(attempt-1))
	if backoff > localMaxBackoff {
		backoff = localMaxBackoff
	}
	slog.Info("mcp.local.reconnecting", "server", srv.name, "attempt", attempt, "backoff", backoff)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	// The transport may have recovered on its own.
	if err := srv.client.Ping(ctx); err == nil {
		srv.markHealthy()
		slog.Info("mcp.local.reconnected", "server", srv.name)
	}
}

// Kind satisfies tools.Source.
func (m *LocalManager) Kind() string { return tools.KindMCP }

// Definitions returns the tools of every connected server.
func (m *LocalManager) Definitions(ctx context.Context) []tools.Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tools.Definition
	for _, srv := range m.servers {
		if !srv.connected.Load() {
			continue
		}
		out = append(out, srv.defs...)
	}
	return out
}

// Call routes a fabric invocation to the owning server.
func (m *LocalManager) Call(ctx context.Context, def tools.Definition, args map[string]interface{}, timeoutMs int64) (interface{}, error) {
	m.mu.RLock()
	var srv *localServer
	for _, candidate := range m.servers {
		if config.NormalizeProviderID(candidate.name) == def.ProviderID {
			srv = candidate
			break
		}
	}
	m.mu.RUnlock()

	if srv == nil {
		return nil, fmt.Errorf("%w: no local server for %s", tools.ErrToolNotFound, def.ProviderID)
	}
	if !srv.connected.Load() {
		return nil, fmt.Errorf("local MCP server %s is not connected", srv.name)
	}

	timeout := localDefaultCallTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = def.Command
	req.Params.Arguments = args
	result, err := srv.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", def.Command, srv.name, err)
	}
	return result, nil
}
