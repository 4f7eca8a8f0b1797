// Package channels manages chat channel adapters: lifecycle
// (login/logout), status, capability reporting, and address
// resolution. Adapters own their platform client; message routing
// between channels and agents lives with the external channel plugins.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Account identifies the credentialed bot account behind an adapter.
type Account struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ResolveResult is a resolved channel address.
type ResolveResult struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind string `json:"kind,omitempty"` // "user", "group", "channel"
}

// Adapter is one platform integration.
type Adapter interface {
	Name() string
	// Configured reports whether credentials are present in config.
	Configured() bool
	Running() bool
	// Start logs the adapter in and verifies the credential with a probe.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Capabilities() []string
	// Probe checks connectivity and returns the bot account.
	Probe(ctx context.Context) (Account, error)
	// Resolve maps a human address (username, chat id) to a canonical id.
	Resolve(ctx context.Context, target string) (*ResolveResult, error)
}

// LogSink receives adapter log lines. The history store satisfies it.
type LogSink interface {
	AppendChannelLog(channel, level, message string)
}

// StatusRow is one channel in the channels.status reply.
type StatusRow struct {
	Channel      string   `json:"channel"`
	Configured   bool     `json:"configured"`
	Running      bool     `json:"running"`
	Account      *Account `json:"account,omitempty"`
	Capabilities []string `json:"capabilities"`
	LastError    string   `json:"lastError,omitempty"`
}

// Registry tracks registered adapters in registration order.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]Adapter
	order    []string
	lastErr  map[string]string
	sink     LogSink
}

// NewRegistry creates an empty registry. sink may be nil.
func NewRegistry(sink LogSink) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		lastErr:  make(map[string]string),
		sink:     sink,
	}
}

// Register adds an adapter. Later registrations replace earlier ones
// with the same name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Name()]; !exists {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns registered channel names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Status reports every registered channel. Running adapters are probed
// for their account; probe failures degrade to LastError.
func (r *Registry) Status(ctx context.Context) []StatusRow {
	rows := make([]StatusRow, 0, len(r.Names()))
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		row := StatusRow{
			Channel:      name,
			Configured:   a.Configured(),
			Running:      a.Running(),
			Capabilities: a.Capabilities(),
		}
		if a.Running() {
			if acct, err := a.Probe(ctx); err == nil {
				row.Account = &acct
			} else {
				row.LastError = err.Error()
			}
		} else {
			r.mu.Lock()
			row.LastError = r.lastErr[name]
			r.mu.Unlock()
		}
		rows = append(rows, row)
	}
	return rows
}

// Login starts one adapter.
func (r *Registry) Login(ctx context.Context, name string) error {
	a, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown channel %q", name)
	}
	if !a.Configured() {
		return fmt.Errorf("channel %q has no credentials configured", name)
	}
	if a.Running() {
		return nil
	}
	if err := a.Start(ctx); err != nil {
		r.recordError(name, err)
		return fmt.Errorf("start %s: %w", name, err)
	}
	r.recordError(name, nil)
	r.log(name, "info", "logged in")
	slog.Info("channel.login", "channel", name)
	return nil
}

// Logout stops one adapter.
func (r *Registry) Logout(ctx context.Context, name string) error {
	a, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown channel %q", name)
	}
	if !a.Running() {
		return nil
	}
	if err := a.Stop(ctx); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	r.log(name, "info", "logged out")
	slog.Info("channel.logout", "channel", name)
	return nil
}

// StartConfigured logs in every adapter with credentials. Failures are
// recorded per channel and do not block the rest.
func (r *Registry) StartConfigured(ctx context.Context) {
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		if !a.Configured() || a.Running() {
			continue
		}
		if err := r.Login(ctx, name); err != nil {
			slog.Warn("channel.start", "channel", name, "error", err)
		}
	}
}

// StopAll stops every running adapter.
func (r *Registry) StopAll(ctx context.Context) {
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		if !a.Running() {
			continue
		}
		if err := a.Stop(ctx); err != nil {
			slog.Warn("channel.stop", "channel", name, "error", err)
		}
	}
}

func (r *Registry) recordError(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.lastErr, name)
		return
	}
	r.lastErr[name] = err.Error()
}

func (r *Registry) log(channel, level, msg string) {
	if r.sink != nil {
		r.sink.AppendChannelLog(channel, level, msg)
	}
}
