package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/openclaw/clawd/pkg/protocol"
)

// testClient builds a client whose outbound queue can be inspected
// without a live socket.
func testClient() *Client {
	return &Client{
		id:     "test-client",
		send:   make(chan outbound, 16),
		closed: make(chan struct{}),
	}
}

func takeResponse(t *testing.T, c *Client) *protocol.ResponseFrame {
	t.Helper()
	select {
	case out := <-c.send:
		var res protocol.ResponseFrame
		if err := json.Unmarshal(out.data, &res); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		return &res
	default:
		t.Fatal("no response queued")
		return nil
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	r := NewRouter()
	c := testClient()
	call := &Call{Client: c, Method: "nope", ID: "1"}

	r.Dispatch(context.Background(), call)

	res := takeResponse(t, c)
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrNotFound {
		t.Errorf("response = %+v, want NOT_FOUND", res)
	}
}

func TestDispatchFirstResponseWins(t *testing.T) {
	r := NewRouter()
	r.Handle("double", func(ctx context.Context, call *Call) {
		call.OK(map[string]string{"winner": "first"})
		call.Fail(protocol.ErrInternal, "second")
	})
	c := testClient()

	r.Dispatch(context.Background(), &Call{Client: c, Method: "double", ID: "1"})

	res := takeResponse(t, c)
	if !res.OK {
		t.Errorf("response = %+v, want the first (ok) response", res)
	}
	select {
	case extra := <-c.send:
		t.Errorf("second response leaked: %s", extra.data)
	default:
	}
}

func TestDispatchPanicBecomesInternal(t *testing.T) {
	r := NewRouter()
	r.Handle("boom", func(ctx context.Context, call *Call) {
		panic("kaboom")
	})
	c := testClient()

	r.Dispatch(context.Background(), &Call{Client: c, Method: "boom", ID: "1"})

	res := takeResponse(t, c)
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrInternal {
		t.Errorf("response = %+v, want INTERNAL", res)
	}
}

func TestDispatchSilentHandlerBecomesInternal(t *testing.T) {
	r := NewRouter()
	r.Handle("mute", func(ctx context.Context, call *Call) {})
	c := testClient()

	r.Dispatch(context.Background(), &Call{Client: c, Method: "mute", ID: "1"})

	res := takeResponse(t, c)
	if res.OK || res.Error == nil || res.Error.Code != protocol.ErrInternal {
		t.Errorf("response = %+v, want INTERNAL", res)
	}
}

func TestBindRejectsMalformedParams(t *testing.T) {
	c := testClient()
	call := &Call{Client: c, Method: "x", ID: "1", Params: json.RawMessage(`{"n":"not-a-number"}`)}

	var dst struct {
		N int `json:"n"`
	}
	if call.Bind(&dst) {
		t.Error("Bind accepted mismatched types")
	}
	res := takeResponse(t, c)
	if res.Error == nil || res.Error.Code != protocol.ErrInvalidRequest {
		t.Errorf("response = %+v, want INVALID_REQUEST", res)
	}
}

func TestBindEmptyParamsIsZeroValue(t *testing.T) {
	c := testClient()
	call := &Call{Client: c, Method: "x", ID: "1"}

	var dst struct {
		N int `json:"n"`
	}
	ok := call.Bind(&dst)
	if !ok || dst.N != 0 {
		t.Errorf("Bind on empty params: ok=%v dst=%+v", ok, dst)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if !rl.Enabled() {
		t.Fatal("limiter should be enabled")
	}
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Error("burst of 2 should be allowed")
	}
	if rl.Allow("a") {
		t.Error("third immediate request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("a different client has its own budget")
	}

	disabled := NewRateLimiter(0, 5)
	for i := 0; i < 100; i++ {
		if !disabled.Allow("a") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}
