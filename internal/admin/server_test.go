package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/internal/oauth"
)

func newTestAdmin(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "openclaw.json")
	if err := config.Save(cfgPath, config.Default()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	store := config.NewStore(cfgPath)
	oauthMgr := oauth.NewManager(oauth.NewProfileStore(filepath.Join(dir, "profiles.json")), nil, nil)

	s := NewServer(filepath.Join(dir, "admin.sock"), store, nodes.NewRegistry(), oauthMgr, nil, "test", func() int { return 18789 })
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != contentType {
		t.Errorf("content-type = %q, want %q", ct, contentType)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, body
}

func postJSON(t *testing.T, srv *httptest.Server, path string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := srv.Client().Post(srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, body
}

func TestStatusEndpoint(t *testing.T) {
	_, srv := newTestAdmin(t)

	code, body := getJSON(t, srv, "/api/v1/status")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["version"] != "test" || body["port"] != float64(18789) {
		t.Errorf("body = %v", body)
	}
	if body["pid"] == nil || body["configPath"] == nil {
		t.Errorf("missing pid/configPath: %v", body)
	}
}

func TestNodesEndpointEmpty(t *testing.T) {
	_, srv := newTestAdmin(t)

	code, body := getJSON(t, srv, "/api/v1/nodes")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if nodes, ok := body["nodes"]; !ok || nodes == nil {
		t.Errorf("body = %v, want a nodes array", body)
	}
}

func TestConfigEndpointMasksSecrets(t *testing.T) {
	_, srv := newTestAdmin(t)

	code, body := getJSON(t, srv, "/api/v1/config")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["valid"] != true || body["hash"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestReloadEndpoint(t *testing.T) {
	_, srv := newTestAdmin(t)

	code, body := postJSON(t, srv, "/api/v1/reload", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	if body["valid"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestReloadInvokesCallback(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "openclaw.json")
	if err := config.Save(cfgPath, config.Default()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	var got *config.Snapshot
	s := NewServer(filepath.Join(dir, "admin.sock"), config.NewStore(cfgPath), nodes.NewRegistry(), nil,
		func(snap *config.Snapshot) { got = snap }, "test", func() int { return 0 })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	if code, _ := postJSON(t, srv, "/api/v1/reload", nil); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got == nil || !got.Valid {
		t.Fatalf("reload callback snapshot = %+v", got)
	}
}

func TestShimTest(t *testing.T) {
	_, srv := newTestAdmin(t)

	code, body := postJSON(t, srv, "/api/v1/shim-test", map[string]string{"command": "echo hello"})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["ok"] != true || body["output"] != "hello" {
		t.Errorf("body = %v", body)
	}
}

func TestShimTestFailureIsReported(t *testing.T) {
	_, srv := newTestAdmin(t)

	code, body := postJSON(t, srv, "/api/v1/shim-test", map[string]string{"command": "exit 3"})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["ok"] != false || body["error"] == nil {
		t.Errorf("body = %v", body)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	_, srv := newTestAdmin(t)

	code, body := getJSON(t, srv, "/api/v1/nope")
	if code != http.StatusNotFound {
		t.Errorf("status = %d, body = %v", code, body)
	}
}

func TestWrongMethodIs405(t *testing.T) {
	_, srv := newTestAdmin(t)

	code, body := postJSON(t, srv, "/api/v1/status", nil)
	if code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, body = %v", code, body)
	}
	code, body = getJSON(t, srv, "/api/v1/reload")
	if code != http.StatusMethodNotAllowed {
		t.Errorf("GET reload = %d, body = %v", code, body)
	}
}

func TestNodesInvokeUnknownNode(t *testing.T) {
	_, srv := newTestAdmin(t)

	code, body := postJSON(t, srv, "/api/v1/nodes/invoke", map[string]interface{}{
		"nodeId":  "ghost",
		"command": "ping",
	})
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	if body["ok"] != false {
		t.Errorf("body = %v, want ok=false for a disconnected node", body)
	}
}
