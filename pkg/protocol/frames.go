// Package protocol defines the wire protocol spoken on every gateway
// WebSocket connection: tagged request/response/event frames, the closed
// set of error codes, and the method and event name constants.
//
// Frames are JSON objects discriminated by a "kind" field. Requests carry
// a caller-chosen id echoed verbatim on the response. Events are unsolicited
// and carry a server timestamp in milliseconds.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is bumped whenever a frame shape or closed enum changes
// incompatibly. Clients learn it from the hello exchange and the health
// endpoint.
const ProtocolVersion = 3

// Frame kinds.
const (
	KindRequest  = "req"
	KindResponse = "res"
	KindEvent    = "evt"
)

// Error codes returned in response frames. The set is closed: handlers map
// every internal failure onto one of these before it reaches the wire.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrUnauthorized   = "UNAUTHORIZED"
	ErrNotFound       = "NOT_FOUND"
	ErrToolNotFound   = "TOOL_NOT_FOUND"
	ErrStaleHash      = "STALE_HASH"
	ErrUnavailable    = "UNAVAILABLE"
	ErrTimeout        = "TIMEOUT"
	ErrInternal       = "INTERNAL"
)

// RequestFrame is a method invocation from a client (or from the gateway
// toward a node, which reuses the same shape).
type RequestFrame struct {
	Kind   string          `json:"kind"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorShape is the error payload of a failed response.
type ErrorShape struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *ErrorShape) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ResponseFrame answers exactly one request frame, matched by ID.
type ResponseFrame struct {
	Kind   string      `json:"kind"`
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorShape `json:"error,omitempty"`
}

// EventFrame is a server-initiated broadcast or targeted push.
type EventFrame struct {
	Kind    string      `json:"kind"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	Ts      int64       `json:"ts"`
}

// NewOKResponse builds a success response for the given request id.
func NewOKResponse(id string, result interface{}) *ResponseFrame {
	return &ResponseFrame{Kind: KindResponse, ID: id, OK: true, Result: result}
}

// NewErrorResponse builds a failure response with one of the closed codes.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Kind: KindResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithDetails attaches structured details, used by
// validation failures that report per-field errors.
func NewErrorResponseWithDetails(id, code, message string, details interface{}) *ResponseFrame {
	resp := NewErrorResponse(id, code, message)
	resp.Error.Details = details
	return resp
}

// NewFieldErrorResponse reports field-level validation failures. The
// result carries {fieldErrors} so clients can highlight inputs without
// a second round-trip; the error keeps the closed code.
func NewFieldErrorResponse(id, code, message string, fieldErrors interface{}) *ResponseFrame {
	resp := NewErrorResponse(id, code, message)
	resp.Result = map[string]interface{}{"fieldErrors": fieldErrors}
	return resp
}

// NewEvent builds an event frame stamped with the current wall clock.
func NewEvent(event string, payload interface{}) *EventFrame {
	return &EventFrame{
		Kind:    KindEvent,
		Event:   event,
		Payload: payload,
		Ts:      time.Now().UnixMilli(),
	}
}

// NewRequest builds a request frame, used by the gateway when invoking a
// node and by CLI clients.
func NewRequest(id, method string, params interface{}) (*RequestFrame, error) {
	frame := &RequestFrame{Kind: KindRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		frame.Params = raw
	}
	return frame, nil
}

// frameProbe peeks at the discriminator fields without committing to a
// full decode.
type frameProbe struct {
	Kind string `json:"kind"`
}

// DecodeFrame inspects the kind tag and unmarshals the frame into the
// matching concrete type. Unknown or missing kinds are rejected.
func DecodeFrame(data []byte) (interface{}, error) {
	var probe frameProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch probe.Kind {
	case KindRequest:
		var req RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decode request frame: %w", err)
		}
		return &req, nil
	case KindResponse:
		var res ResponseFrame
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode response frame: %w", err)
		}
		return &res, nil
	case KindEvent:
		var evt EventFrame
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode event frame: %w", err)
		}
		return &evt, nil
	case "":
		return nil, fmt.Errorf("frame missing kind")
	default:
		return nil, fmt.Errorf("unknown frame kind %q", probe.Kind)
	}
}

// ValidRequest reports whether a decoded request frame carries the fields
// the dispatcher requires before routing.
func ValidRequest(req *RequestFrame) error {
	if req.ID == "" {
		return fmt.Errorf("request missing id")
	}
	if req.Method == "" {
		return fmt.Errorf("request missing method")
	}
	return nil
}
