package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/openclaw/clawd/pkg/protocol"
)

// Call is one in-flight request. Respond helpers are idempotent: the
// first response wins and later calls are ignored.
type Call struct {
	Client *Client
	Method string
	ID     string
	Params json.RawMessage

	responded atomic.Bool
}

// OK answers the request with a success result.
func (c *Call) OK(result interface{}) {
	if !c.responded.CompareAndSwap(false, true) {
		return
	}
	c.Client.sendResponse(protocol.NewOKResponse(c.ID, result))
}

// Fail answers the request with one of the closed error codes.
func (c *Call) Fail(code, message string) {
	if !c.responded.CompareAndSwap(false, true) {
		return
	}
	c.Client.sendResponse(protocol.NewErrorResponse(c.ID, code, message))
}

// FailWithDetails attaches structured details, used by field-level
// validation errors.
func (c *Call) FailWithDetails(code, message string, details interface{}) {
	if !c.responded.CompareAndSwap(false, true) {
		return
	}
	c.Client.sendResponse(protocol.NewErrorResponseWithDetails(c.ID, code, message, details))
}

// FailWithFieldErrors answers with an error code plus a result carrying
// the per-field findings.
func (c *Call) FailWithFieldErrors(code, message string, fieldErrors interface{}) {
	if !c.responded.CompareAndSwap(false, true) {
		return
	}
	c.Client.sendResponse(protocol.NewFieldErrorResponse(c.ID, code, message, fieldErrors))
}

// Bind unmarshals the request params into dst, failing the call with
// INVALID_REQUEST on malformed input. A missing params object binds
// zero values.
func (c *Call) Bind(dst interface{}) bool {
	if len(c.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(c.Params, dst); err != nil {
		c.Fail(protocol.ErrInvalidRequest, "invalid params: "+err.Error())
		return false
	}
	return true
}

// Handler processes one request. It must respond through the call; a
// handler that returns without responding terminates the request with
// INTERNAL.
type Handler func(ctx context.Context, call *Call)

// Router maps method names to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Handle registers a handler for a method, replacing any previous one.
func (r *Router) Handle(method string, h Handler) {
	r.mu.Lock()
	r.handlers[method] = h
	r.mu.Unlock()
}

// Methods returns the registered method names.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	return out
}

// Dispatch runs the handler for a call. Unknown methods fail with
// NOT_FOUND; panics are captured and translated to INTERNAL; a handler
// that never responded is terminated with INTERNAL.
func (r *Router) Dispatch(ctx context.Context, call *Call) {
	r.mu.RLock()
	h, ok := r.handlers[call.Method]
	r.mu.RUnlock()
	if !ok {
		call.Fail(protocol.ErrNotFound, "unknown method "+call.Method)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("gateway.handler_panic", "method", call.Method, "panic", rec, "stack", string(debug.Stack()))
			call.Fail(protocol.ErrInternal, "internal error")
			return
		}
		if !call.responded.Load() {
			call.Fail(protocol.ErrInternal, "handler returned no response")
		}
	}()
	h(ctx, call)
}
