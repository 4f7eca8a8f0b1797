package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/secrets"
)

// secretAliases are interchangeable when checking required secrets: a
// provider requiring "token" is satisfied by a stored "apiKey".
var secretAliases = []string{"token", "apiKey", "authToken"}

// ProviderRow is the materialized view of one configured provider,
// safe to show in UIs: secret values never appear, only presence.
type ProviderRow struct {
	ProviderID       string                     `json:"providerId"`
	Enabled          bool                       `json:"enabled"`
	Configured       bool                       `json:"configured"`
	Label            string                     `json:"label,omitempty"`
	Source           string                     `json:"source,omitempty"`
	QualifiedName    string                     `json:"qualifiedName,omitempty"`
	Connection       *config.ProviderConnection `json:"connection,omitempty"`
	Fields           map[string]interface{}     `json:"fields,omitempty"`
	RequiredSecrets  []string                   `json:"requiredSecrets,omitempty"`
	SecretState      map[string]bool            `json:"secretState,omitempty"` // field -> non-empty value stored
	SecretsSatisfied bool                       `json:"secretsSatisfied"`
	ToolCount        int                        `json:"toolCount"`
	Tools            []config.ProviderToolSchema `json:"tools,omitempty"`
	UpdatedAt        int64                      `json:"updatedAt,omitempty"`
	InstalledAt      int64                      `json:"installedAt,omitempty"`
}

// Snapshot pairs the provider rows with the config hash they came
// from, the optimistic-concurrency token for the next apply.
type Snapshot struct {
	Rows []ProviderRow `json:"rows"`
	Hash string        `json:"hash"`
}

// Restarter schedules a daemon restart after a successful apply. The
// concrete implementation is restart.Scheduler.
type Restarter interface {
	ScheduleAfterApply(reason string)
}

// Hub owns the registry-installed HTTP providers: snapshots, atomic
// apply, market proxying, discovery, and invocation.
type Hub struct {
	cfgStore  *config.Store
	secrets   *secrets.Store
	client    *HTTPClient
	market    *MarketClient
	restarter Restarter
}

// NewHub wires the hub. restarter may be nil in tests.
func NewHub(cfgStore *config.Store, sec *secrets.Store, client *HTTPClient, market *MarketClient, restarter Restarter) *Hub {
	return &Hub{
		cfgStore:  cfgStore,
		secrets:   sec,
		client:    client,
		market:    market,
		restarter: restarter,
	}
}

// Market exposes the registry proxy for the market handlers.
func (h *Hub) Market() *MarketClient { return h.market }

// Client exposes the HTTP client for preflight handlers.
func (h *Hub) Client() *HTTPClient { return h.client }

// ProvidersSnapshot materializes all configured providers against the
// current config snapshot.
func (h *Hub) ProvidersSnapshot() (*Snapshot, error) {
	snap, err := h.cfgStore.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	if !snap.Valid {
		return nil, fmt.Errorf("config invalid: %d issue(s)", len(snap.Issues))
	}

	out := &Snapshot{Hash: snap.Hash}
	for id, entry := range snap.Config.MCP.Providers {
		if entry == nil {
			continue
		}
		out.Rows = append(out.Rows, h.buildRow(id, entry))
	}
	sort.Slice(out.Rows, func(i, j int) bool { return out.Rows[i].ProviderID < out.Rows[j].ProviderID })
	return out, nil
}

func (h *Hub) buildRow(id string, entry *config.ProviderEntry) ProviderRow {
	row := ProviderRow{
		ProviderID:      id,
		Enabled:         entry.Enabled,
		Configured:      entry.Connection != nil && entry.Connection.DeploymentURL != "",
		Label:           entry.Label,
		Source:          entry.Source,
		QualifiedName:   entry.QualifiedName,
		Connection:      entry.Connection,
		Fields:          entry.Fields,
		RequiredSecrets: entry.RequiredSecrets,
		Tools:           entry.Tools,
		ToolCount:       len(entry.Tools),
		UpdatedAt:       entry.UpdatedAt,
		InstalledAt:     entry.InstalledAt,
	}

	row.SecretState = make(map[string]bool, len(entry.SecretRefs))
	for field, ref := range entry.SecretRefs {
		row.SecretState[field] = h.secrets.Has(ref)
	}
	row.SecretsSatisfied = h.requiredSecretsSatisfied(id, entry)
	return row
}

// requiredSecretsSatisfied reports whether every required secret has a
// non-empty stored value, applying the token alias rule.
func (h *Hub) requiredSecretsSatisfied(providerID string, entry *config.ProviderEntry) bool {
	for _, required := range entry.RequiredSecrets {
		if !h.secretPresent(providerID, entry, required) {
			return false
		}
	}
	return true
}

func (h *Hub) secretPresent(providerID string, entry *config.ProviderEntry, field string) bool {
	candidates := []string{field}
	if isAliasField(field) {
		candidates = secretAliases
	}
	for _, cand := range candidates {
		ref, ok := entry.SecretRefs[cand]
		if !ok {
			ref = secrets.BuildRef(providerID, cand)
		}
		if h.secrets.Has(ref) {
			return true
		}
	}
	return false
}

func isAliasField(field string) bool {
	for _, a := range secretAliases {
		if field == a {
			return true
		}
	}
	return false
}

// endpointFor assembles the HTTP endpoint for a provider, loading its
// secret values from the store. Canonical alias refs are probed even
// when the entry never recorded them, so OAuth-written tokens work.
func (h *Hub) endpointFor(providerID string, entry *config.ProviderEntry) (Endpoint, error) {
	if entry.Connection == nil || entry.Connection.DeploymentURL == "" {
		return Endpoint{}, fmt.Errorf("provider %s has no deployment url", providerID)
	}

	ep := Endpoint{
		DeploymentURL: entry.Connection.DeploymentURL,
		AuthType:      entry.Connection.AuthType,
		Secrets:       map[string]string{},
	}
	for field, ref := range entry.SecretRefs {
		if v, ok := h.secrets.Get(ref); ok {
			ep.Secrets[field] = v
		}
	}
	for _, alias := range secretAliases {
		if _, ok := ep.Secrets[alias]; ok {
			continue
		}
		if v, ok := h.secrets.Get(secrets.BuildRef(providerID, alias)); ok {
			ep.Secrets[alias] = v
		}
	}
	return ep, nil
}

// Invoke calls one tool on one provider. The providerId is normalized;
// disabled or unsatisfied providers are rejected before any network IO.
func (h *Hub) Invoke(ctx context.Context, providerID, command string, args map[string]interface{}, timeoutMs int64) (json.RawMessage, error) {
	providerID = config.NormalizeProviderID(providerID)

	snap, err := h.cfgStore.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	if !snap.Valid {
		return nil, fmt.Errorf("config invalid")
	}
	entry := snap.Config.MCP.Providers[providerID]
	if entry == nil {
		return nil, fmt.Errorf("provider %s is not configured", providerID)
	}
	if !entry.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", providerID)
	}
	if !h.requiredSecretsSatisfied(providerID, entry) {
		return nil, fmt.Errorf("provider %s is missing required secrets", providerID)
	}

	ep, err := h.endpointFor(providerID, entry)
	if err != nil {
		return nil, err
	}
	return h.client.CallTool(ctx, ep, command, args, timeoutMs)
}

// Discover runs tools/list against a provider entry and returns the
// cacheable schema rows.
func (h *Hub) Discover(ctx context.Context, providerID string, entry *config.ProviderEntry, timeoutMs int64) ([]config.ProviderToolSchema, error) {
	ep, err := h.endpointFor(providerID, entry)
	if err != nil {
		return nil, err
	}
	tools, err := h.client.ListTools(ctx, ep, timeoutMs)
	if err != nil {
		return nil, err
	}
	out := make([]config.ProviderToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, config.ProviderToolSchema{
			Name:        t.Name,
			Command:     t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out, nil
}

// PreflightProvider runs the full preflight against a configured
// provider.
func (h *Hub) PreflightProvider(ctx context.Context, providerID string, timeoutMs int64) (PreflightResult, error) {
	providerID = config.NormalizeProviderID(providerID)
	snap, err := h.cfgStore.ReadSnapshot()
	if err != nil {
		return PreflightResult{}, err
	}
	if !snap.Valid {
		return PreflightResult{}, fmt.Errorf("config invalid")
	}
	entry := snap.Config.MCP.Providers[providerID]
	if entry == nil {
		return PreflightResult{}, fmt.Errorf("provider %s is not configured", providerID)
	}
	ep, err := h.endpointFor(providerID, entry)
	if err != nil {
		return PreflightResult{}, err
	}
	return h.client.Preflight(ctx, ep, timeoutMs), nil
}

// Presets returns the configured provider templates, sanitized: only
// the recognized fields survive, so stray config keys never leak to
// clients.
func (h *Hub) Presets() ([]config.ProviderPreset, error) {
	snap, err := h.cfgStore.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	if !snap.Valid || snap.Config == nil {
		return nil, fmt.Errorf("config invalid")
	}

	out := make([]config.ProviderPreset, 0, len(snap.Config.MCP.Presets))
	for _, p := range snap.Config.MCP.Presets {
		if strings.TrimSpace(p.ID) == "" {
			continue
		}
		out = append(out, config.ProviderPreset{
			ID:              strings.TrimSpace(p.ID),
			Label:           strings.TrimSpace(p.Label),
			Icon:            strings.TrimSpace(p.Icon),
			DocsURL:         strings.TrimSpace(p.DocsURL),
			RequiredSecrets: p.RequiredSecrets,
			ConfigSchema:    p.ConfigSchema,
		})
	}
	return out, nil
}
