package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Flow outcome statuses returned by poll/complete.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Rejection reasons for bad state tokens.
const (
	ReasonInvalidState = "invalid_state"
	ReasonExpired      = "expired"
)

const defaultFlowTTL = 10 * time.Minute

// Broadcaster pushes oauth.updated to connected clients. The gateway's
// publisher satisfies it.
type Broadcaster func(provider string, ok bool)

// ConfigBinder points the daemon's config at a freshly written auth
// profile. Best-effort; failures are surfaced to the caller.
type ConfigBinder func(provider string) error

// flowSession is one in-flight ceremony, keyed by state token.
type flowSession struct {
	provider   string
	verifier   string
	deviceCode string
	expiresAt  time.Time
	intervalMs int64
}

// Manager owns the in-memory flow sessions and the profile store.
type Manager struct {
	profiles  *ProfileStore
	broadcast Broadcaster
	bind      ConfigBinder
	client    *http.Client

	qwen      QwenEndpoints
	anthropic AnthropicEndpoints

	mu       sync.Mutex
	sessions map[string]*flowSession
	now      func() time.Time
}

// Option configures the manager.
type Option func(*Manager)

// WithQwenEndpoints overrides the Qwen endpoints (tests).
func WithQwenEndpoints(e QwenEndpoints) Option {
	return func(m *Manager) { m.qwen = e }
}

// WithAnthropicEndpoints overrides the Anthropic endpoints (tests).
func WithAnthropicEndpoints(e AnthropicEndpoints) Option {
	return func(m *Manager) { m.anthropic = e }
}

// WithHTTPClient overrides the HTTP client used for token exchanges.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// NewManager creates a flow manager. broadcast and bind may be nil.
func NewManager(profiles *ProfileStore, broadcast Broadcaster, bind ConfigBinder, opts ...Option) *Manager {
	m := &Manager{
		profiles:  profiles,
		broadcast: broadcast,
		bind:      bind,
		client:    &http.Client{Timeout: 30 * time.Second},
		qwen:      DefaultQwenEndpoints(),
		anthropic: DefaultAnthropicEndpoints(),
		sessions:  map[string]*flowSession{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Profiles exposes the backing store for status handlers.
func (m *Manager) Profiles() *ProfileStore { return m.profiles }

func (m *Manager) putSession(s *flowSession) string {
	state := uuid.NewString()
	m.mu.Lock()
	m.sessions[state] = s
	m.mu.Unlock()
	return state
}

// takeSession fetches a session, pruning it when expired. The bool
// reports existence; the error reason is ReasonExpired for stale ones.
func (m *Manager) takeSession(state, provider string) (*flowSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[state]
	if !ok || s.provider != provider {
		return nil, fmt.Errorf(ReasonInvalidState)
	}
	if m.now().After(s.expiresAt) {
		delete(m.sessions, state)
		return nil, fmt.Errorf(ReasonExpired)
	}
	return s, nil
}

func (m *Manager) dropSession(state string) {
	m.mu.Lock()
	delete(m.sessions, state)
	m.mu.Unlock()
}

// finish persists the token, rebinds the config, erases the session,
// and broadcasts the outcome.
func (m *Manager) finish(state string, p Profile) error {
	if err := m.profiles.Put(p); err != nil {
		return fmt.Errorf("store auth profile: %w", err)
	}
	if m.bind != nil {
		if err := m.bind(p.Provider); err != nil {
			return fmt.Errorf("bind config to profile: %w", err)
		}
	}
	m.dropSession(state)
	if m.broadcast != nil {
		m.broadcast(p.Provider, true)
	}
	return nil
}

// pkcePair generates an RFC 7636 verifier and its S256 challenge.
func pkcePair() (verifier, challenge string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
