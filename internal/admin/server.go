// Package admin serves the local control surface: a small HTTP API on
// a unix-domain socket next to the state dir. No auth; reachability of
// the socket is the privilege boundary.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/internal/oauth"
)

const contentType = "application/json; charset=utf-8"

// shimTimeout bounds one shim-test command.
const shimTimeout = 15 * time.Second

// Server is the admin pipe HTTP server.
type Server struct {
	pipePath string
	store    *config.Store
	nodes    *nodes.Registry
	oauth    *oauth.Manager
	reload   func(*config.Snapshot)

	version   string
	startedAt time.Time
	port      func() int

	httpServer *http.Server
}

// NewServer creates an admin server. reload receives fresh snapshots
// from POST /api/v1/reload; port reports the live gateway port.
func NewServer(pipePath string, store *config.Store, nodeReg *nodes.Registry, oauthMgr *oauth.Manager, reload func(*config.Snapshot), version string, port func() int) *Server {
	return &Server{
		pipePath:  pipePath,
		store:     store,
		nodes:     nodeReg,
		oauth:     oauthMgr,
		reload:    reload,
		version:   version,
		startedAt: time.Now(),
		port:      port,
	}
}

// Handler builds the route table. Exposed for tests, which serve it
// over TCP instead of the pipe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.require(http.MethodGet, s.handleStatus))
	mux.HandleFunc("/api/v1/nodes", s.require(http.MethodGet, s.handleNodes))
	mux.HandleFunc("/api/v1/nodes/invoke", s.require(http.MethodPost, s.handleNodesInvoke))
	mux.HandleFunc("/api/v1/config", s.require(http.MethodGet, s.handleConfig))
	mux.HandleFunc("/api/v1/reload", s.require(http.MethodPost, s.handleReload))
	mux.HandleFunc("/api/v1/shim-test", s.require(http.MethodPost, s.handleShimTest))
	mux.HandleFunc("/api/v1/oauth/qwen/start", s.require(http.MethodPost, s.handleQwenStart))
	mux.HandleFunc("/api/v1/oauth/qwen/poll", s.require(http.MethodPost, s.handleQwenPoll))
	mux.HandleFunc("/api/v1/oauth/anthropic/start", s.require(http.MethodPost, s.handleAnthropicStart))
	mux.HandleFunc("/api/v1/oauth/anthropic/complete", s.require(http.MethodPost, s.handleAnthropicComplete))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return mux
}

// Start listens on the pipe until ctx is cancelled. A stale socket
// from a previous run is removed first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.pipePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale admin pipe: %w", err)
	}

	ln, err := net.Listen("unix", s.pipePath)
	if err != nil {
		return fmt.Errorf("listen admin pipe: %w", err)
	}
	if err := os.Chmod(s.pipePath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod admin pipe: %w", err)
	}

	s.httpServer = &http.Server{Handler: s.Handler()}
	slog.Info("admin.listening", "pipe", s.pipePath)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		os.Remove(s.pipePath)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// require enforces the method, returning 405 otherwise.
func (s *Server) require(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pid":         os.Getpid(),
		"version":     s.version,
		"startedAtMs": s.startedAt.UnixMilli(),
		"uptimeMs":    time.Since(s.startedAt).Milliseconds(),
		"port":        s.port(),
		"configPath":  s.store.Path(),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": s.nodes.ListConnected()})
}

func (s *Server) handleNodesInvoke(w http.ResponseWriter, r *http.Request) {
	var req nodes.InvokeRequest
	if !readBody(w, r, &req) {
		return
	}
	result, err := s.nodes.Invoke(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.ReadSnapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read config: "+err.Error())
		return
	}
	result := map[string]interface{}{
		"exists": snap.Exists,
		"valid":  snap.Valid,
		"hash":   snap.Hash,
	}
	if len(snap.Issues) > 0 {
		result["issues"] = snap.Issues
	}
	if snap.Config != nil {
		result["config"] = snap.Config.MaskedCopy()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.store.Invalidate()
	snap, err := s.store.ReadSnapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read config: "+err.Error())
		return
	}
	if s.reload != nil {
		s.reload(snap)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": snap.Valid, "hash": snap.Hash})
}

// handleShimTest verifies the daemon can spawn shell commands, which
// the skill installers and the updater rely on.
func (s *Server) handleShimTest(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Command string `json:"command,omitempty"`
	}
	if !readBody(w, r, &params) {
		return
	}
	command := params.Command
	if command == "" {
		command = "echo ok"
	}

	ctx, cancel := context.WithTimeout(r.Context(), shimTimeout)
	defer cancel()

	start := time.Now()
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	result := map[string]interface{}{
		"ok":         err == nil,
		"output":     strings.TrimSpace(string(out)),
		"durationMs": time.Since(start).Milliseconds(),
	}
	if err != nil {
		result["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQwenStart(w http.ResponseWriter, r *http.Request) {
	result, err := s.oauth.StartQwen(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQwenPoll(w http.ResponseWriter, r *http.Request) {
	var params struct {
		State string `json:"state"`
	}
	if !readBody(w, r, &params) {
		return
	}
	result, err := s.oauth.PollQwen(r.Context(), params.State)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnthropicStart(w http.ResponseWriter, r *http.Request) {
	result, err := s.oauth.StartAnthropic(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnthropicComplete(w http.ResponseWriter, r *http.Request) {
	var params struct {
		State string `json:"state"`
		Code  string `json:"code"`
	}
	if !readBody(w, r, &params) {
		return
	}
	result, err := s.oauth.CompleteAnthropic(r.Context(), params.State, params.Code)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// readBody decodes a JSON body into dst. An empty body is allowed and
// leaves dst at its zero value.
func readBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
