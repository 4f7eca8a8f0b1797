package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeFrameRequest(t *testing.T) {
	data := []byte(`{"kind":"req","id":"r1","method":"tools.list","params":{"nodeId":"n1"}}`)

	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}

	req, ok := frame.(*RequestFrame)
	if !ok {
		t.Fatalf("DecodeFrame() type = %T, want *RequestFrame", frame)
	}
	if req.ID != "r1" {
		t.Errorf("ID = %q, want %q", req.ID, "r1")
	}
	if req.Method != "tools.list" {
		t.Errorf("Method = %q, want %q", req.Method, "tools.list")
	}

	var params map[string]string
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params["nodeId"] != "n1" {
		t.Errorf("params nodeId = %q, want %q", params["nodeId"], "n1")
	}
}

func TestDecodeFrameKinds(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"response", `{"kind":"res","id":"1","ok":true}`, ""},
		{"event", `{"kind":"evt","event":"tick","ts":123}`, ""},
		{"missing kind", `{"id":"1","method":"health"}`, "missing kind"},
		{"unknown kind", `{"kind":"bogus"}`, "unknown frame kind"},
		{"not json", `nope`, "decode frame"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("DecodeFrame() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("DecodeFrame() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("DecodeFrame() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     RequestFrame
		wantErr bool
	}{
		{"valid", RequestFrame{Kind: KindRequest, ID: "1", Method: "health"}, false},
		{"missing id", RequestFrame{Kind: KindRequest, Method: "health"}, true},
		{"missing method", RequestFrame{Kind: KindRequest, ID: "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidRequest(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("42", ErrStaleHash, "config changed underneath you")

	if resp.OK {
		t.Error("OK = true, want false")
	}
	if resp.ID != "42" {
		t.Errorf("ID = %q, want %q", resp.ID, "42")
	}
	if resp.Error == nil || resp.Error.Code != ErrStaleHash {
		t.Errorf("Error = %+v, want code %s", resp.Error, ErrStaleHash)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"result"`) {
		t.Errorf("error response leaked result field: %s", data)
	}
}

func TestNewFieldErrorResponseCarriesResult(t *testing.T) {
	resp := NewFieldErrorResponse("7", ErrInvalidRequest, "provider validation failed",
		[]map[string]string{{"providerId": "mcp:exa", "field": "connection.deploymentUrl", "message": "required"}})

	if resp.OK {
		t.Error("OK = true, want false")
	}
	if resp.Error == nil || resp.Error.Code != ErrInvalidRequest {
		t.Errorf("Error = %+v, want code %s", resp.Error, ErrInvalidRequest)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok || result["fieldErrors"] == nil {
		t.Fatalf("Result = %+v, want fieldErrors", resp.Result)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"fieldErrors"`) {
		t.Errorf("fieldErrors not in result: %s", data)
	}
}

func TestNewEventStampsTs(t *testing.T) {
	evt := NewEvent(EventTick, nil)
	if evt.Kind != KindEvent {
		t.Errorf("Kind = %q, want %q", evt.Kind, KindEvent)
	}
	if evt.Ts == 0 {
		t.Error("Ts = 0, want wall clock millis")
	}
}

func TestNewRequestMarshalsParams(t *testing.T) {
	frame, err := NewRequest("abc", MethodNodesInvoke, map[string]interface{}{"nodeId": "n1"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if frame.Kind != KindRequest {
		t.Errorf("Kind = %q, want %q", frame.Kind, KindRequest)
	}
	if !strings.Contains(string(frame.Params), `"nodeId":"n1"`) {
		t.Errorf("Params = %s, want nodeId present", frame.Params)
	}
}
