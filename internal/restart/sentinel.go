// Package restart implements the cooperative self-restart machinery:
// a one-shot on-disk sentinel consumed after the next boot, and a
// scheduler that signals the process after a short delay so in-flight
// responses can drain first.
package restart

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DeliveryContext mirrors the session store's delivery routing triple so
// a restarted daemon can resume the conversation where it stopped.
type DeliveryContext struct {
	Channel   string `json:"channel,omitempty"`
	To        string `json:"to,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// SentinelStats records why the restart happened.
type SentinelStats struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason,omitempty"`
}

// Sentinel is the restart payload. Written best-effort before the
// signal fires; consumed exactly once after startup.
type Sentinel struct {
	Kind            string           `json:"kind"` // always "restart"
	Status          string           `json:"status"`
	Ts              int64            `json:"ts"`
	SessionKey      string           `json:"sessionKey,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
	ThreadID        string           `json:"threadId,omitempty"`
	Message         string           `json:"message,omitempty"`
	DoctorHint      string           `json:"doctorHint"`
	Stats           SentinelStats    `json:"stats"`
}

// NewSentinel builds a sentinel stamped with the current time.
func NewSentinel(status, mode, reason string) *Sentinel {
	return &Sentinel{
		Kind:       "restart",
		Status:     status,
		Ts:         time.Now().UnixMilli(),
		DoctorHint: "run `clawd doctor` if the gateway does not come back",
		Stats:      SentinelStats{Mode: mode, Reason: reason},
	}
}

// WriteSentinel persists the payload atomically. Failures here never
// block a restart; callers log and move on.
func WriteSentinel(path string, s *Sentinel) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sentinel: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "restart-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp sentinel: %w", err)
	}
	tmpPath := tmpFile.Name()

	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// ConsumeSentinel reads and deletes the sentinel in one motion. A
// missing file returns (nil, nil). A corrupt file is still consumed so
// it cannot replay on the boot after next.
func ConsumeSentinel(path string) (*Sentinel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sentinel: %w", err)
	}

	// Delete first so a parse failure below cannot leave a poisoned
	// sentinel behind.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("consume sentinel: %w", err)
	}

	var s Sentinel
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse sentinel: %w", err)
	}
	return &s, nil
}
