package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclaw/clawd/internal/bus"
	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/pkg/protocol"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.Token = "secret"
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(t.TempDir(), "openclaw.json")
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	s := NewServer(config.NewStore(path), cfg, bus.New(), nodes.NewRegistry(), "test")
	s.Router().Handle("echo", func(ctx context.Context, call *Call) {
		var params map[string]interface{}
		if !call.Bind(&params) {
			return
		}
		call.OK(params)
	})

	srv := httptest.NewServer(s.BuildMux())
	t.Cleanup(srv.Close)
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, id, method string, params interface{}) {
	t.Helper()
	frame, err := protocol.NewRequest(id, method, params)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

// readResponse skips event frames until the response with the given id
// arrives.
func readResponse(t *testing.T, conn *websocket.Conn, id string) *protocol.ResponseFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if res, ok := frame.(*protocol.ResponseFrame); ok && res.ID == id {
			return res
		}
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, name string) *protocol.EventFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt, ok := frame.(*protocol.EventFrame); ok && evt.Event == name {
			return evt
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn, params map[string]interface{}) *protocol.ResponseFrame {
	t.Helper()
	sendRequest(t, conn, "hello-1", "hello", params)
	return readResponse(t, conn, "hello-1")
}

func TestHelloRejectsBadToken(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv)

	res := hello(t, conn, map[string]interface{}{"token": "wrong"})
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrUnauthorized {
		t.Errorf("response = %+v, want UNAUTHORIZED", res)
	}
}

func TestHelloAcceptsToken(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv)

	res := hello(t, conn, map[string]interface{}{"token": "secret"})
	if !res.OK {
		t.Fatalf("hello failed: %+v", res)
	}
	result, _ := res.Result.(map[string]interface{})
	if result["protocol"] != float64(protocol.ProtocolVersion) {
		t.Errorf("hello result = %v", res.Result)
	}
}

func TestEmptyConfiguredTokenLeavesGatewayOpen(t *testing.T) {
	_, srv := newTestServer(t, func(cfg *config.Config) { cfg.Gateway.Token = "" })
	conn := dial(t, srv)

	if res := hello(t, conn, nil); !res.OK {
		t.Errorf("hello without token should pass on an open gateway: %+v", res)
	}
}

func TestMethodsRequireHello(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv)

	sendRequest(t, conn, "1", "echo", map[string]interface{}{"x": 1})
	res := readResponse(t, conn, "1")
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrUnauthorized {
		t.Errorf("response = %+v, want UNAUTHORIZED", res)
	}
}

func TestEchoRoundTrip(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv)
	hello(t, conn, map[string]interface{}{"token": "secret"})

	sendRequest(t, conn, "2", "echo", map[string]interface{}{"msg": "hi"})
	res := readResponse(t, conn, "2")
	if !res.OK {
		t.Fatalf("echo failed: %+v", res)
	}
	result, _ := res.Result.(map[string]interface{})
	if result["msg"] != "hi" {
		t.Errorf("result = %v", res.Result)
	}
}

func TestUnknownMethod(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv)
	hello(t, conn, map[string]interface{}{"token": "secret"})

	sendRequest(t, conn, "3", "no.such.method", nil)
	res := readResponse(t, conn, "3")
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrNotFound {
		t.Errorf("response = %+v, want NOT_FOUND", res)
	}
}

func TestBroadcastReachesAuthenticatedClients(t *testing.T) {
	s, srv := newTestServer(t, nil)
	conn := dial(t, srv)
	hello(t, conn, map[string]interface{}{"token": "secret"})

	s.pub.Broadcast(bus.Event{Name: protocol.EventTick, Payload: map[string]interface{}{"n": 1}})

	evt := readEvent(t, conn, protocol.EventTick)
	payload, _ := evt.Payload.(map[string]interface{})
	if payload["n"] != float64(1) {
		t.Errorf("payload = %v", evt.Payload)
	}
}

func TestSessionScopedEventRouting(t *testing.T) {
	s, srv := newTestServer(t, nil)

	subscribed := dial(t, srv)
	hello(t, subscribed, map[string]interface{}{
		"token":       "secret",
		"sessionKeys": []string{"agent:main:tg:dm:1"},
	})
	other := dial(t, srv)
	hello(t, other, map[string]interface{}{"token": "secret"})

	s.pub.Broadcast(bus.Event{
		Name:       protocol.EventChat,
		Payload:    map[string]interface{}{"state": "final"},
		SessionKey: "agent:main:tg:dm:1",
	})
	// A broadcast everyone should observe, proving the other client is
	// still being served.
	s.pub.Broadcast(bus.Event{Name: protocol.EventTick})

	if evt := readEvent(t, subscribed, protocol.EventChat); evt == nil {
		t.Fatal("subscriber missed its session event")
	}

	other.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := other.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		frame, _ := protocol.DecodeFrame(data)
		evt, ok := frame.(*protocol.EventFrame)
		if !ok {
			continue
		}
		if evt.Event == protocol.EventChat {
			t.Fatal("unsubscribed client received a session-scoped event")
		}
		if evt.Event == protocol.EventTick {
			return
		}
	}
}

func TestNodeRegistrationViaHello(t *testing.T) {
	s, srv := newTestServer(t, nil)
	conn := dial(t, srv)

	res := hello(t, conn, map[string]interface{}{
		"token": "secret",
		"role":  "node",
		"node": map[string]interface{}{
			"nodeId":      "mac-1",
			"displayName": "Mac Studio",
			"platform":    "darwin",
		},
	})
	if !res.OK {
		t.Fatalf("hello failed: %+v", res)
	}

	node, ok := s.nodes.Get("mac-1")
	if !ok || node.DisplayName != "Mac Studio" {
		t.Fatalf("node not registered: %+v ok=%v", node, ok)
	}

	conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := s.nodes.Get("mac-1"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("node still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMalformedFrameGetsInvalidRequest(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"mystery"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := readResponse(t, conn, "")
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrInvalidRequest {
		t.Errorf("response = %+v, want INVALID_REQUEST", res)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["protocol"] != float64(protocol.ProtocolVersion) {
		t.Errorf("health = %v", body)
	}
}
