// Package mcp implements the MCP hub: registry-installed HTTP providers
// with secret-bound credentials, the streamable HTTP JSON-RPC client
// used to reach them, provider apply with atomic secret rollback, the
// market registry proxy, and the bridge for locally launched MCP
// servers.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openclaw/clawd/internal/netguard"
)

// MCPProtocolVersion is sent in the initialize handshake.
const MCPProtocolVersion = "2024-11-05"

const (
	// DefaultCallTimeout bounds one MCP HTTP request.
	DefaultCallTimeout = 20 * time.Second
	// MinCallTimeout is the floor applied to caller-supplied timeouts.
	MinCallTimeout = time.Second

	// remoteErrorMax truncates remote error text before it reaches the
	// wire as an UNAVAILABLE message.
	remoteErrorMax = 500
)

// sessionHeader carries the server-assigned MCP session id.
const sessionHeader = "Mcp-Session-Id"

// Endpoint describes how to reach one provider deployment.
type Endpoint struct {
	DeploymentURL string
	AuthType      string            // "none", "bearer", or "" (bearer when a token exists)
	Secrets       map[string]string // field -> plain value
}

// bearerToken resolves the token under the alias rule: token, apiKey,
// and authToken are interchangeable. Any "Bearer " prefix the user
// pasted is stripped.
func (e Endpoint) bearerToken() string {
	for _, field := range []string{"token", "apiKey", "authToken"} {
		if v := strings.TrimSpace(e.Secrets[field]); v != "" {
			return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
		}
	}
	return ""
}

// HTTPClient speaks streamable HTTP JSON-RPC to MCP providers. One
// logical call runs the full handshake: initialize, the initialized
// notification, then the requested method.
type HTTPClient struct {
	guard *netguard.Guard
}

// NewHTTPClient creates a client behind the given SSRF guard.
func NewHTTPClient(guard *netguard.Guard) *HTTPClient {
	if guard == nil {
		guard = &netguard.Guard{}
	}
	return &HTTPClient{guard: guard}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc %d: %s", e.Code, truncate(e.Message, remoteErrorMax))
}

// ToolInfo is one tool reported by tools/list.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// session is the per-call connection state: the endpoint variant that
// answered and the server-assigned session id, echoed on every
// subsequent request.
type session struct {
	url       string
	sessionID string
}

// normalizeTimeout clamps a caller-supplied timeout to sane bounds.
func normalizeTimeout(timeoutMs int64) time.Duration {
	if timeoutMs <= 0 {
		return DefaultCallTimeout
	}
	d := time.Duration(timeoutMs) * time.Millisecond
	if d < MinCallTimeout {
		return MinCallTimeout
	}
	return d
}

// ListTools performs the handshake and returns the provider's tools.
func (c *HTTPClient) ListTools(ctx context.Context, ep Endpoint, timeoutMs int64) ([]ToolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, normalizeTimeout(timeoutMs))
	defer cancel()

	sess, err := c.handshake(ctx, ep)
	if err != nil {
		return nil, err
	}

	raw, err := c.rpc(ctx, ep, sess, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool performs the handshake and invokes one tool. The upstream
// result is returned undecoded.
func (c *HTTPClient) CallTool(ctx context.Context, ep Endpoint, name string, args map[string]interface{}, timeoutMs int64) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, normalizeTimeout(timeoutMs))
	defer cancel()

	sess, err := c.handshake(ctx, ep)
	if err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	return c.rpc(ctx, ep, sess, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
}

// handshake runs initialize against the base URL, then {base}/mcp, and
// sends the initialized notification on whichever answered.
func (c *HTTPClient) handshake(ctx context.Context, ep Endpoint) (*session, error) {
	base := strings.TrimRight(ep.DeploymentURL, "/")
	if base == "" {
		return nil, fmt.Errorf("provider has no deployment url")
	}

	candidates := []string{base}
	if !strings.HasSuffix(base, "/mcp") {
		candidates = append(candidates, base+"/mcp")
	}

	initParams := map[string]interface{}{
		"protocolVersion": MCPProtocolVersion,
		"clientInfo": map[string]interface{}{
			"name":    "clawd",
			"version": "1.0.0",
		},
		"capabilities": map[string]interface{}{},
	}

	var lastErr error
	for _, url := range candidates {
		sess := &session{url: url}
		_, err := c.post(ctx, ep, sess, rpcRequest{JSONRPC: "2.0", ID: "init", Method: "initialize", Params: initParams})
		if err != nil {
			lastErr = err
			continue
		}

		// Notification: no id, response body ignored.
		if _, err := c.post(ctx, ep, sess, rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized"}); err != nil {
			slog.Debug("mcp.initialized_notification_failed", "url", url, "error", err)
		}
		return sess, nil
	}
	return nil, fmt.Errorf("initialize failed: %w", lastErr)
}

// rpc issues one request on an established session.
func (c *HTTPClient) rpc(ctx context.Context, ep Endpoint, sess *session, method string, params interface{}) (json.RawMessage, error) {
	res, err := c.post(ctx, ep, sess, rpcRequest{JSONRPC: "2.0", ID: "1", Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%s: empty response", method)
	}
	if res.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, res.Error)
	}
	return res.Result, nil
}

// post sends one JSON-RPC payload and decodes the reply, which may be
// plain JSON or an SSE stream. Notifications return (nil, nil) when the
// server answers with no content.
func (c *HTTPClient) post(ctx context.Context, ep Endpoint, sess *session, payload rpcRequest) (*rpcResponse, error) {
	if err := c.guard.CheckURL(sess.url); err != nil {
		return nil, fmt.Errorf("ssrf guard: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sess.sessionID != "" {
		req.Header.Set(sessionHeader, sess.sessionID)
	}

	// authType "none" never sends credentials; "bearer" and unset do,
	// when a token is present under any alias.
	if ep.AuthType != "none" {
		if token := ep.bearerToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	httpClient := c.guard.Client(0) // request lifetime bounded by ctx
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp request: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		sess.sessionID = sid
	}

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("mcp http %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(data)), remoteErrorMax))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		return parseSSEResponse(resp.Body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var res rpcResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &res, nil
}

// parseSSEResponse scans an event stream and returns the last complete
// JSON payload found in data: lines. Multi-line data blocks are joined
// before parsing, per the SSE framing rules.
func parseSSEResponse(r io.Reader) (*rpcResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var block []string
	var last *rpcResponse

	flush := func() {
		if len(block) == 0 {
			return
		}
		joined := strings.Join(block, "\n")
		block = nil
		var res rpcResponse
		if err := json.Unmarshal([]byte(joined), &res); err != nil {
			return
		}
		last = &res
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			block = append(block, strings.TrimPrefix(data, " "))
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sse stream: %w", err)
	}
	if last == nil {
		return nil, fmt.Errorf("sse stream carried no json payload")
	}
	return last, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
