package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeOAuthServer stands in for both the device-code and token
// endpoints. approved flips when the pretend user finishes the browser
// ceremony.
type fakeOAuthServer struct {
	approved  atomic.Bool
	tokenHits atomic.Int64
}

func (f *fakeOAuthServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/device/code", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("code_challenge_method") != "S256" {
			http.Error(w, "missing pkce challenge", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"device_code":               "dev-123",
			"user_code":                 "WDJB-MJHT",
			"verification_uri":          "https://example.com/device",
			"verification_uri_complete": "https://example.com/device?user_code=WDJB-MJHT",
			"expires_in":                600,
			"interval":                  2,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("code_verifier") == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_request", "error_description": "missing verifier"})
			return
		}
		if !f.approved.Load() {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "tok-abc",
			"refresh_token": "ref-xyz",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	return mux
}

type testManager struct {
	*Manager
	store     *ProfileStore
	fake      *fakeOAuthServer
	broadcast []string
	bound     []string
}

func newTestManager(t *testing.T) *testManager {
	t.Helper()
	tm := &testManager{fake: &fakeOAuthServer{}}
	srv := httptest.NewServer(tm.fake.handler())
	t.Cleanup(srv.Close)

	tm.store = NewProfileStore(filepath.Join(t.TempDir(), "auth-profiles.json"))
	tm.Manager = NewManager(tm.store,
		func(provider string, ok bool) {
			tm.broadcast = append(tm.broadcast, fmt.Sprintf("%s:%v", provider, ok))
		},
		func(provider string) error {
			tm.bound = append(tm.bound, provider)
			return nil
		},
		WithQwenEndpoints(QwenEndpoints{
			DeviceCodeURL: srv.URL + "/device/code",
			TokenURL:      srv.URL + "/token",
			ClientID:      "test-client",
			Scope:         "openid",
		}),
		WithAnthropicEndpoints(AnthropicEndpoints{
			AuthorizeURL: "https://example.com/authorize",
			TokenURL:     srv.URL + "/token",
			ClientID:     "test-client",
			RedirectURI:  "https://example.com/callback",
			Scope:        "user:inference",
		}),
	)
	return tm
}

func TestQwenFlowPendingThenSuccess(t *testing.T) {
	tm := newTestManager(t)
	ctx := context.Background()

	start, err := tm.StartQwen(ctx)
	if err != nil {
		t.Fatalf("StartQwen: %v", err)
	}
	if start.State == "" || start.UserCode != "WDJB-MJHT" {
		t.Fatalf("start = %+v", start)
	}
	if start.VerificationURL != "https://example.com/device?user_code=WDJB-MJHT" {
		t.Errorf("verificationUrl = %q, want the complete variant", start.VerificationURL)
	}
	if start.IntervalMs != 2000 {
		t.Errorf("intervalMs = %d", start.IntervalMs)
	}

	poll, err := tm.PollQwen(ctx, start.State)
	if err != nil {
		t.Fatalf("PollQwen: %v", err)
	}
	if poll.Status != StatusPending {
		t.Fatalf("status before approval = %q", poll.Status)
	}

	tm.fake.approved.Store(true)
	poll, err = tm.PollQwen(ctx, start.State)
	if err != nil {
		t.Fatalf("PollQwen: %v", err)
	}
	if poll.Status != StatusSuccess {
		t.Fatalf("status after approval = %+v", poll)
	}

	p, ok, err := tm.store.Get(QwenProvider)
	if err != nil || !ok {
		t.Fatalf("Get profile: ok=%v err=%v", ok, err)
	}
	if p.AccessToken != "tok-abc" || p.RefreshToken != "ref-xyz" {
		t.Errorf("profile = %+v", p)
	}
	if p.ExpiresAtMs <= time.Now().UnixMilli() {
		t.Errorf("expiresAtMs = %d, want in the future", p.ExpiresAtMs)
	}
	if len(tm.broadcast) != 1 || tm.broadcast[0] != "qwen-portal:true" {
		t.Errorf("broadcast = %v", tm.broadcast)
	}
	if len(tm.bound) != 1 || tm.bound[0] != QwenProvider {
		t.Errorf("bound = %v", tm.bound)
	}

	// The session is erased on success; polling again is invalid.
	poll, err = tm.PollQwen(ctx, start.State)
	if err != nil {
		t.Fatalf("PollQwen after success: %v", err)
	}
	if poll.Status != StatusError || poll.Error != ReasonInvalidState {
		t.Errorf("poll after success = %+v", poll)
	}
}

func TestPollRejectsUnknownState(t *testing.T) {
	tm := newTestManager(t)
	poll, err := tm.PollQwen(context.Background(), "no-such-state")
	if err != nil {
		t.Fatalf("PollQwen: %v", err)
	}
	if poll.Status != StatusError || poll.Error != ReasonInvalidState {
		t.Errorf("poll = %+v", poll)
	}
	if tm.fake.tokenHits.Load() != 0 {
		t.Error("token endpoint contacted for an unknown state")
	}
}

func TestPollRejectsExpiredSession(t *testing.T) {
	tm := newTestManager(t)
	ctx := context.Background()

	start, err := tm.StartQwen(ctx)
	if err != nil {
		t.Fatalf("StartQwen: %v", err)
	}

	tm.Manager.now = func() time.Time { return time.Now().Add(time.Hour) }
	poll, err := tm.PollQwen(ctx, start.State)
	if err != nil {
		t.Fatalf("PollQwen: %v", err)
	}
	if poll.Status != StatusError || poll.Error != ReasonExpired {
		t.Errorf("poll = %+v", poll)
	}

	// Expired sessions are pruned, so the second poll is invalid_state.
	tm.Manager.now = time.Now
	poll, _ = tm.PollQwen(ctx, start.State)
	if poll.Error != ReasonInvalidState {
		t.Errorf("poll after prune = %+v", poll)
	}
}

func TestStateIsProviderScoped(t *testing.T) {
	tm := newTestManager(t)
	ctx := context.Background()

	start, err := tm.StartQwen(ctx)
	if err != nil {
		t.Fatalf("StartQwen: %v", err)
	}

	result, err := tm.CompleteAnthropic(ctx, start.State, "some-code")
	if err != nil {
		t.Fatalf("CompleteAnthropic: %v", err)
	}
	if result.Status != StatusError || result.Error != ReasonInvalidState {
		t.Errorf("cross-provider state accepted: %+v", result)
	}
}

func TestAnthropicCompleteFlow(t *testing.T) {
	tm := newTestManager(t)
	tm.fake.approved.Store(true)
	ctx := context.Background()

	start, err := tm.StartAnthropic(ctx)
	if err != nil {
		t.Fatalf("StartAnthropic: %v", err)
	}
	if !strings.Contains(start.AuthURL, "code_challenge_method=S256") {
		t.Errorf("authUrl = %q", start.AuthURL)
	}
	if !strings.Contains(start.AuthURL, "state="+start.State) {
		t.Errorf("authUrl missing state: %q", start.AuthURL)
	}

	// The console shows the code as "<code>#<state>"; the paste format
	// is accepted as-is.
	result, err := tm.CompleteAnthropic(ctx, start.State, "auth-code-1#"+start.State)
	if err != nil {
		t.Fatalf("CompleteAnthropic: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("result = %+v", result)
	}

	p, ok, err := tm.store.Get(AnthropicProvider)
	if err != nil || !ok {
		t.Fatalf("Get profile: ok=%v err=%v", ok, err)
	}
	if p.AccessToken != "tok-abc" {
		t.Errorf("profile = %+v", p)
	}
	if len(tm.broadcast) != 1 || tm.broadcast[0] != "anthropic:true" {
		t.Errorf("broadcast = %v", tm.broadcast)
	}
}

func TestAnthropicCompleteEmptyCode(t *testing.T) {
	tm := newTestManager(t)
	ctx := context.Background()

	start, err := tm.StartAnthropic(ctx)
	if err != nil {
		t.Fatalf("StartAnthropic: %v", err)
	}
	result, err := tm.CompleteAnthropic(ctx, start.State, "  ")
	if err != nil {
		t.Fatalf("CompleteAnthropic: %v", err)
	}
	if result.Status != StatusError {
		t.Errorf("result = %+v", result)
	}
}

func TestProfileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "auth-profiles.json")
	store := NewProfileStore(path)

	if err := store.Put(Profile{Provider: "qwen-portal", AccessToken: "a"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(Profile{Provider: "anthropic", AccessToken: "b"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Fresh store reads from disk.
	again := NewProfileStore(path)
	all, err := again.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("profiles = %+v", all)
	}

	if err := again.Delete("qwen-portal"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := again.Get("qwen-portal"); ok {
		t.Error("deleted profile still present")
	}
	if err := again.Delete("never-there"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}
