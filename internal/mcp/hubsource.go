package mcp

import (
	"context"
	"log/slog"

	"github.com/openclaw/clawd/internal/tools"
)

// HubSource materializes tool definitions from enabled registry
// providers with satisfied secrets, using each provider's cached
// discovery result.
type HubSource struct {
	hub *Hub
}

// NewHubSource wraps the hub for the fabric.
func NewHubSource(hub *Hub) *HubSource {
	return &HubSource{hub: hub}
}

func (s *HubSource) Kind() string { return tools.KindMCP }

func (s *HubSource) Definitions(ctx context.Context) []tools.Definition {
	snap, err := s.hub.cfgStore.ReadSnapshot()
	if err != nil || !snap.Valid {
		if err != nil {
			slog.Debug("mcp.source.snapshot_failed", "error", err)
		}
		return nil
	}

	var out []tools.Definition
	for id, entry := range snap.Config.MCP.Providers {
		if entry == nil || !entry.Enabled {
			continue
		}
		if !s.hub.requiredSecretsSatisfied(id, entry) {
			continue
		}
		label := entry.Label
		if label == "" {
			label = id
		}
		for _, t := range entry.Tools {
			command := t.Command
			if command == "" {
				command = t.Name
			}
			out = append(out, tools.Definition{
				Name:          id + "." + command,
				ProviderID:    id,
				ProviderKind:  tools.KindMCP,
				ProviderLabel: label,
				Description:   t.Description,
				InputSchema:   t.InputSchema,
				Command:       command,
			})
		}
	}
	return out
}

func (s *HubSource) Call(ctx context.Context, def tools.Definition, args map[string]interface{}, timeoutMs int64) (interface{}, error) {
	raw, err := s.hub.Invoke(ctx, def.ProviderID, def.Command, args, timeoutMs)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
