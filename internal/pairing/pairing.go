// Package pairing tracks unapproved channel principals. A message from
// an unknown sender parks a pairing request here; approving it appends
// the principal to the channel's allow_from list.
package pairing

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openclaw/clawd/internal/config"
)

// TTL bounds how long an unapproved request is kept.
const TTL = time.Hour

// Request is one pending pairing.
type Request struct {
	ID          string `json:"id"`
	Channel     string `json:"channel"`
	Principal   string `json:"principal"`
	DisplayName string `json:"displayName,omitempty"`
	Code        string `json:"code"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Service holds pending requests in memory. Approvals write through to
// the config store; pending state does not survive a restart.
type Service struct {
	store *config.Store

	mu      sync.Mutex
	pending map[string]*Request // id -> request
	now     func() time.Time
}

// NewService creates an empty pairing service.
func NewService(store *config.Store) *Service {
	return &Service{
		store:   store,
		pending: make(map[string]*Request),
		now:     time.Now,
	}
}

// Add records a pairing request for an unknown principal. Repeated
// requests from the same channel/principal return the existing entry.
func (s *Service) Add(channel, principal, displayName string) (Request, error) {
	if channel == "" || principal == "" {
		return Request{}, fmt.Errorf("channel and principal are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	for _, req := range s.pending {
		if req.Channel == channel && req.Principal == principal {
			return *req, nil
		}
	}

	req := &Request{
		ID:          channel + ":" + principal,
		Channel:     channel,
		Principal:   principal,
		DisplayName: displayName,
		Code:        newCode(),
		CreatedAtMs: s.now().UnixMilli(),
	}
	s.pending[req.ID] = req
	slog.Info("pairing.requested", "channel", channel, "principal", principal)
	return *req, nil
}

// List returns pending requests, oldest first.
func (s *Service) List() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	out := make([]Request, 0, len(s.pending))
	for _, req := range s.pending {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMs < out[j].CreatedAtMs })
	return out
}

// Approve commits one request: the principal joins the channel's
// allow_from list and the request is removed.
func (s *Service) Approve(id string) (Request, error) {
	s.mu.Lock()
	req, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return Request{}, fmt.Errorf("pairing request %q not found", id)
	}

	if err := s.allowPrincipal(req.Channel, req.Principal); err != nil {
		// Put it back so the approval can be retried.
		s.mu.Lock()
		s.pending[req.ID] = req
		s.mu.Unlock()
		return Request{}, err
	}

	slog.Info("pairing.approved", "channel", req.Channel, "principal", req.Principal)
	return *req, nil
}

// allowPrincipal appends the principal to channels.<channel>.allow_from
// via a config patch.
func (s *Service) allowPrincipal(channel, principal string) error {
	snap, err := s.store.ReadSnapshot()
	if err != nil {
		return err
	}
	if !snap.Valid || snap.Config == nil {
		return fmt.Errorf("config invalid, cannot approve pairing")
	}

	var current []string
	switch channel {
	case "telegram":
		current = snap.Config.Channels.Telegram.AllowFrom
	case "discord":
		current = snap.Config.Channels.Discord.AllowFrom
	default:
		return fmt.Errorf("channel %q does not support pairing", channel)
	}

	for _, p := range current {
		if p == principal {
			return nil
		}
	}
	next := append(append([]string{}, current...), principal)

	patch := map[string]interface{}{
		"channels": map[string]interface{}{
			channel: map[string]interface{}{
				"allow_from": next,
			},
		},
	}
	_, _, err = s.store.Patch(patch, snap.Hash)
	return err
}

func (s *Service) pruneLocked() {
	cutoff := s.now().Add(-TTL).UnixMilli()
	for id, req := range s.pending {
		if req.CreatedAtMs < cutoff {
			delete(s.pending, id)
		}
	}
}

// newCode generates a short confirmation code shown on both ends.
func newCode() string {
	const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 6)
	rand.Read(buf)
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf)
}
