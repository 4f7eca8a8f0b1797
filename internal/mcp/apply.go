package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/secrets"
)

// ProviderApply is the requested end state for one provider. Nil
// pointer fields mean "leave as is"; Configured=false removes the
// provider and its secrets.
type ProviderApply struct {
	ProviderID      string                     `json:"providerId"`
	Configured      *bool                      `json:"configured,omitempty"`
	Enabled         *bool                      `json:"enabled,omitempty"`
	Label           *string                    `json:"label,omitempty"`
	Source          *string                    `json:"source,omitempty"`
	QualifiedName   *string                    `json:"qualifiedName,omitempty"`
	Connection      *config.ProviderConnection `json:"connection,omitempty"`
	Fields          map[string]interface{}     `json:"fields,omitempty"`
	RequiredSecrets []string                   `json:"requiredSecrets,omitempty"`
	StatusHints     map[string]string          `json:"statusHints,omitempty"`
	SecretValues    map[string]string          `json:"secretValues,omitempty"` // field -> plain value, written to the secret store
	DiscoverTools   bool                       `json:"discoverTools,omitempty"`
}

// ApplyRequest mutates the provider set under optimistic concurrency.
// Providers are processed in request order.
type ApplyRequest struct {
	BaseHash  string          `json:"baseHash"`
	Providers []ProviderApply `json:"providers"`
}

// removed reports whether the row asks for the provider to be deleted.
func (p ProviderApply) removed() bool {
	return p.Configured != nil && !*p.Configured
}

// FieldError addresses one rejected field on one provider.
type FieldError struct {
	ProviderID string `json:"providerId"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
}

// ApplyResult reports the outcome. FieldErrors non-empty means nothing
// was committed: no config write, all secret writes undone.
type ApplyResult struct {
	Snapshot        *Snapshot    `json:"snapshot,omitempty"`
	FieldErrors     []FieldError `json:"fieldErrors,omitempty"`
	RestartRequired bool         `json:"restartRequired"`
}

// secretUndo remembers how to put one secret ref back.
type secretUndo struct {
	ref     string
	prev    string
	existed bool
}

// Apply commits the requested provider changes as a unit. Secret values
// are written to the store first; any later failure, including a stale
// base hash or a validation error, rolls every one of them back before
// returning. The config file is written once, at the end.
func (h *Hub) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	snap, err := h.cfgStore.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	if !snap.Valid {
		return nil, fmt.Errorf("config invalid: %d issue(s)", len(snap.Issues))
	}
	if req.BaseHash != "" && req.BaseHash != snap.Hash {
		return nil, config.ErrStaleHash
	}

	next, err := cloneConfig(snap.Config)
	if err != nil {
		return nil, err
	}
	if next.MCP.Providers == nil {
		next.MCP.Providers = map[string]*config.ProviderEntry{}
	}

	var undo []secretUndo
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			u := undo[i]
			var err error
			if u.existed {
				err = h.secrets.Set(u.ref, u.prev)
			} else {
				err = h.secrets.Delete(u.ref)
			}
			if err != nil {
				slog.Error("mcp.apply.rollback_failed", "ref", u.ref, "error", err)
			}
		}
	}

	var fieldErrors []FieldError
	now := time.Now().UnixMilli()

	for _, spec := range req.Providers {
		id := config.NormalizeProviderID(spec.ProviderID)
		if id == "" {
			fieldErrors = append(fieldErrors, FieldError{ProviderID: spec.ProviderID, Field: "providerId", Message: "providerId is required"})
			continue
		}

		if spec.removed() {
			entry := next.MCP.Providers[id]
			if entry != nil {
				for _, ref := range entry.SecretRefs {
					prev, existed := h.secrets.Get(ref)
					if err := h.secrets.Delete(ref); err != nil {
						fieldErrors = append(fieldErrors, FieldError{ProviderID: id, Message: "delete secret: " + err.Error()})
						continue
					}
					undo = append(undo, secretUndo{ref: ref, prev: prev, existed: existed})
				}
				delete(next.MCP.Providers, id)
			}
			continue
		}

		entry := next.MCP.Providers[id]
		if entry == nil {
			entry = &config.ProviderEntry{InstalledAt: now}
			next.MCP.Providers[id] = entry
		}
		if entry.SecretRefs == nil {
			entry.SecretRefs = map[string]string{}
		}

		if spec.Enabled != nil {
			entry.Enabled = *spec.Enabled
		}
		if spec.Label != nil {
			entry.Label = strings.TrimSpace(*spec.Label)
		}
		if spec.Source != nil {
			entry.Source = *spec.Source
		}
		if spec.QualifiedName != nil {
			entry.QualifiedName = *spec.QualifiedName
		}
		if spec.Connection != nil {
			conn := *spec.Connection
			if conn.Type == "" {
				conn.Type = "http"
			}
			if conn.Type != "http" {
				fieldErrors = append(fieldErrors, FieldError{ProviderID: id, Field: "connection.type", Message: "only http connections are supported"})
			} else if strings.TrimSpace(conn.DeploymentURL) == "" {
				fieldErrors = append(fieldErrors, FieldError{ProviderID: id, Field: "connection.deploymentUrl", Message: "deploymentUrl is required"})
			} else {
				conn.DeploymentURL = strings.TrimSpace(conn.DeploymentURL)
				entry.Connection = &conn
			}
		}
		if spec.Fields != nil {
			entry.Fields = spec.Fields
		}
		if spec.RequiredSecrets != nil {
			entry.RequiredSecrets = spec.RequiredSecrets
		}
		if spec.StatusHints != nil {
			if entry.StatusHints == nil {
				entry.StatusHints = map[string]string{}
			}
			for k, v := range spec.StatusHints {
				if v == "" {
					delete(entry.StatusHints, k)
					continue
				}
				entry.StatusHints[k] = v
			}
		}

		secretFields := make([]string, 0, len(spec.SecretValues))
		for field := range spec.SecretValues {
			secretFields = append(secretFields, field)
		}
		sort.Strings(secretFields)
		for _, field := range secretFields {
			value := spec.SecretValues[field]
			ref := entry.SecretRefs[field]
			if ref == "" {
				ref = secrets.BuildRef(id, field)
			}
			prev, existed := h.secrets.Get(ref)
			if value == "" {
				if err := h.secrets.Delete(ref); err != nil {
					fieldErrors = append(fieldErrors, FieldError{ProviderID: id, Field: field, Message: "delete secret: " + err.Error()})
					continue
				}
				delete(entry.SecretRefs, field)
			} else {
				if err := h.secrets.Set(ref, value); err != nil {
					fieldErrors = append(fieldErrors, FieldError{ProviderID: id, Field: field, Message: "store secret: " + err.Error()})
					continue
				}
				entry.SecretRefs[field] = ref
			}
			undo = append(undo, secretUndo{ref: ref, prev: prev, existed: existed})
		}

		entry.UpdatedAt = now
		if entry.InstalledAt == 0 {
			entry.InstalledAt = now
		}
	}

	if len(fieldErrors) > 0 {
		rollback()
		return &ApplyResult{FieldErrors: fieldErrors}, nil
	}

	// Discovery runs after secrets land, so fresh tokens are usable.
	for _, spec := range req.Providers {
		if spec.removed() || !spec.DiscoverTools {
			continue
		}
		id := config.NormalizeProviderID(spec.ProviderID)
		entry := next.MCP.Providers[id]
		if entry == nil {
			continue
		}
		tools, err := h.Discover(ctx, id, entry, 0)
		if err != nil {
			rollback()
			return &ApplyResult{FieldErrors: []FieldError{{
				ProviderID: id,
				Message:    "tool discovery: " + truncate(err.Error(), remoteErrorMax),
			}}}, nil
		}
		entry.Tools = tools
	}

	if _, err := h.cfgStore.Apply(next, req.BaseHash); err != nil {
		rollback()
		return nil, err
	}

	if h.restarter != nil {
		h.restarter.ScheduleAfterApply("mcp providers changed")
	}

	fresh, err := h.ProvidersSnapshot()
	if err != nil {
		return nil, err
	}
	slog.Info("mcp.apply.committed", "providers", len(req.Providers), "hash", fresh.Hash)
	return &ApplyResult{Snapshot: fresh, RestartRequired: true}, nil
}

// cloneConfig deep-copies via a JSON round-trip so the apply mutates a
// private tree until the final write.
func cloneConfig(src *config.Config) (*config.Config, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("clone config: %w", err)
	}
	out := config.Default()
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("clone config: %w", err)
	}
	return out, nil
}
