package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/openclaw/clawd/pkg/protocol"
)

// fakeConn records sent frames and optionally auto-replies through the
// registry, like a real node connection would.
type fakeConn struct {
	registry *Registry
	sent     []*protocol.RequestFrame
	reply    func(req *protocol.RequestFrame) *protocol.ResponseFrame
}

func (c *fakeConn) SendRequest(frame *protocol.RequestFrame) error {
	c.sent = append(c.sent, frame)
	if c.reply != nil {
		res := c.reply(frame)
		go c.registry.HandleResponse(res)
	}
	return nil
}

func connectNode(t *testing.T, r *Registry, id, name string) *fakeConn {
	t.Helper()
	conn := &fakeConn{registry: r}
	r.Register(Node{NodeID: id, DisplayName: name, Platform: "darwin"}, conn)
	return conn
}

func TestInvokeRoundTrip(t *testing.T) {
	r := NewRegistry()
	conn := connectNode(t, r, "node-1", "Desk Mac")
	conn.reply = func(req *protocol.RequestFrame) *protocol.ResponseFrame {
		return protocol.NewOKResponse(req.ID, map[string]interface{}{"opened": true})
	}

	res, err := r.Invoke(context.Background(), InvokeRequest{NodeID: "node-1", Command: "app.open"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected ok result, got error %+v", res.Error)
	}
	if res.PayloadJSON != `{"opened":true}` {
		t.Errorf("PayloadJSON = %q", res.PayloadJSON)
	}
	if len(conn.sent) != 1 || conn.sent[0].Method != "node.invoke" {
		t.Errorf("unexpected sent frames: %+v", conn.sent)
	}
}

func TestInvokeTimeout(t *testing.T) {
	r := NewRegistry()
	connectNode(t, r, "node-1", "Desk Mac") // never replies

	res, err := r.Invoke(context.Background(), InvokeRequest{
		NodeID:    "node-1",
		Command:   "app.open",
		TimeoutMs: 30,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrTimeout {
		t.Fatalf("expected TIMEOUT, got %+v", res)
	}
}

func TestInvokeNodeNotConnected(t *testing.T) {
	r := NewRegistry()
	res, err := r.Invoke(context.Background(), InvokeRequest{NodeID: "ghost", Command: "x"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.OK || res.Error.Code != protocol.ErrUnavailable {
		t.Fatalf("expected UNAVAILABLE, got %+v", res)
	}
}

func TestDisconnectCancelsInflight(t *testing.T) {
	r := NewRegistry()
	connectNode(t, r, "node-1", "Desk Mac") // never replies

	done := make(chan *InvokeResult, 1)
	go func() {
		res, _ := r.Invoke(context.Background(), InvokeRequest{NodeID: "node-1", Command: "slow", TimeoutMs: 5000})
		done <- res
	}()

	// Give the invoke time to register its waiter, then disconnect.
	time.Sleep(50 * time.Millisecond)
	r.Unregister("node-1")

	select {
	case res := <-done:
		if res.OK || res.Error.Code != protocol.ErrUnavailable {
			t.Fatalf("expected UNAVAILABLE on disconnect, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invoke did not return after disconnect")
	}
}

func TestIdempotencyShortCircuit(t *testing.T) {
	r := NewRegistry()
	conn := connectNode(t, r, "node-1", "Desk Mac")
	calls := 0
	conn.reply = func(req *protocol.RequestFrame) *protocol.ResponseFrame {
		calls++
		return protocol.NewOKResponse(req.ID, map[string]interface{}{"n": calls})
	}

	req := InvokeRequest{NodeID: "node-1", Command: "snap", IdempotencyKey: "k1"}
	first, err := r.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := r.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if calls != 1 {
		t.Errorf("node invoked %d times, want 1", calls)
	}
	if first.PayloadJSON != second.PayloadJSON {
		t.Errorf("duplicate returned different payloads: %q vs %q", first.PayloadJSON, second.PayloadJSON)
	}
}

func TestSetActionsAndLookup(t *testing.T) {
	r := NewRegistry()
	connectNode(t, r, "node-1", "Desk Mac")

	if err := r.SetActions("node-1", []Action{{ID: "shot", Command: "screen.shot"}}); err != nil {
		t.Fatalf("SetActions: %v", err)
	}
	node, ok := r.Get("node-1")
	if !ok || len(node.Actions) != 1 || node.Actions[0].Command != "screen.shot" {
		t.Fatalf("actions not stored: %+v", node)
	}

	if name, ok := r.DisplayName("node-1"); !ok || name != "Desk Mac" {
		t.Errorf("DisplayName = %q, %v", name, ok)
	}
	if _, ok := r.DisplayName("ghost"); ok {
		t.Error("DisplayName for unknown node should report !ok")
	}

	if err := r.SetActions("ghost", nil); err == nil {
		t.Error("SetActions for unknown node should fail")
	}
}
