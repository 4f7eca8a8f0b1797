// Package tools implements the tools fabric: a unified view over
// companion-node actions, MCP provider tools, and builtin handlers,
// with provider-scoped filtering and dispatch.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Provider kinds. Ordering matters for dispatch ties: companion
// sources are consulted before mcp, mcp before builtin.
const (
	KindCompanion = "companion"
	KindMCP       = "mcp"
	KindBuiltin   = "builtin"
)

// ErrToolNotFound is returned when no definition matches a call. The
// gateway maps it to the TOOL_NOT_FOUND wire code.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidCall marks calls that resolved a definition but cannot be
// dispatched (e.g. a companion tool with no bound node). Maps to
// INVALID_REQUEST.
var ErrInvalidCall = errors.New("invalid tool call")

// Definition is one callable tool as seen by clients. Derived on every
// list; never persisted.
type Definition struct {
	Name          string                 `json:"name"` // "<providerId>.<command>"
	ProviderID    string                 `json:"providerId"`
	ProviderKind  string                 `json:"providerKind"`
	ProviderLabel string                 `json:"providerLabel,omitempty"`
	Description   string                 `json:"description,omitempty"`
	InputSchema   map[string]interface{} `json:"inputSchema,omitempty"`
	Command       string                 `json:"command"`
	NodeID        string                 `json:"nodeId,omitempty"`
	NodeName      string                 `json:"nodeName,omitempty"`
}

// Source contributes definitions and executes calls that resolve to
// them. Sources are responsible for their own enablement filtering:
// a disabled provider contributes zero definitions.
type Source interface {
	Kind() string
	Definitions(ctx context.Context) []Definition
	Call(ctx context.Context, def Definition, args map[string]interface{}, timeoutMs int64) (interface{}, error)
}

// ListParams filters tools.list output.
type ListParams struct {
	ProviderKind   string   `json:"providerKind,omitempty"`
	ProviderID     string   `json:"providerId,omitempty"`
	ProviderIDs    []string `json:"providerIds,omitempty"`
	IncludeBuiltin *bool    `json:"includeBuiltin,omitempty"` // nil means included
}

// CallParams is the tools.call input after argument alias resolution.
type CallParams struct {
	ProviderID string                 `json:"providerId"`
	ToolName   string                 `json:"toolName"`
	Args       map[string]interface{} `json:"args,omitempty"`
	TimeoutMs  int64                  `json:"timeoutMs,omitempty"`
}

// CallResult echoes the resolved routing alongside the upstream result.
type CallResult struct {
	OK         bool        `json:"ok"`
	ProviderID string      `json:"providerId"`
	ToolName   string      `json:"toolName"`
	Command    string      `json:"command"`
	Result     interface{} `json:"result,omitempty"`
}

// Fabric aggregates sources. Registration order within a kind is
// preserved; kinds are ranked companion < mcp < builtin.
type Fabric struct {
	mu      sync.RWMutex
	sources []Source
}

// New creates an empty fabric.
func New() *Fabric {
	return &Fabric{}
}

// AddSource registers a source, keeping the kind ranking stable.
func (f *Fabric) AddSource(s Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, s)
	stableSortByKind(f.sources)
}

func kindRank(kind string) int {
	switch kind {
	case KindCompanion:
		return 0
	case KindMCP:
		return 1
	default:
		return 2
	}
}

func stableSortByKind(sources []Source) {
	// Insertion sort: source counts are tiny and stability matters.
	for i := 1; i < len(sources); i++ {
		for j := i; j > 0 && kindRank(sources[j].Kind()) < kindRank(sources[j-1].Kind()); j-- {
			sources[j], sources[j-1] = sources[j-1], sources[j]
		}
	}
}

func (f *Fabric) snapshot() []Source {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Source, len(f.sources))
	copy(out, f.sources)
	return out
}

// ListDefinitions returns the union of all source definitions in
// source order.
func (f *Fabric) ListDefinitions(ctx context.Context) []Definition {
	var out []Definition
	for _, s := range f.snapshot() {
		out = append(out, s.Definitions(ctx)...)
	}
	return out
}

// List applies the protocol-level filters.
func (f *Fabric) List(ctx context.Context, p ListParams) []Definition {
	want := map[string]bool{}
	if p.ProviderID != "" {
		want[normalizeProviderFilter(p.ProviderID)] = true
	}
	for _, id := range p.ProviderIDs {
		want[normalizeProviderFilter(id)] = true
	}

	out := []Definition{}
	for _, def := range f.ListDefinitions(ctx) {
		if p.ProviderKind != "" && def.ProviderKind != p.ProviderKind {
			continue
		}
		if p.IncludeBuiltin != nil && !*p.IncludeBuiltin && def.ProviderKind == KindBuiltin {
			continue
		}
		if len(want) > 0 && !want[def.ProviderID] {
			continue
		}
		out = append(out, def)
	}
	return out
}

// normalizeProviderFilter lowercases mcp-prefixed ids so filters match
// the canonical provider id form.
func normalizeProviderFilter(id string) string {
	trimmed := strings.TrimSpace(id)
	if strings.HasPrefix(strings.ToLower(trimmed), "mcp:") {
		return strings.ToLower(trimmed)
	}
	return trimmed
}

// Call resolves and dispatches one tool invocation.
func (f *Fabric) Call(ctx context.Context, p CallParams) (*CallResult, error) {
	if p.ToolName == "" {
		return nil, fmt.Errorf("%w: toolName is required", ErrInvalidCall)
	}

	providerID := normalizeProviderFilter(p.ProviderID)

	// Strip a leading "<providerId>." so fully-qualified names resolve
	// to the underlying command.
	command := p.ToolName
	if providerID != "" {
		command = strings.TrimPrefix(command, providerID+".")
	}

	def, src, ok := f.resolve(ctx, providerID, p.ToolName, command)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrToolNotFound, p.ToolName, providerID)
	}

	result, err := src.Call(ctx, def, p.Args, p.TimeoutMs)
	if err != nil {
		return nil, err
	}
	return &CallResult{
		OK:         true,
		ProviderID: def.ProviderID,
		ToolName:   p.ToolName,
		Command:    def.Command,
		Result:     result,
	}, nil
}

// resolve finds the definition for a call. Exact name matches win over
// command matches; ties go to the earlier source.
func (f *Fabric) resolve(ctx context.Context, providerID, toolName, command string) (Definition, Source, bool) {
	var (
		prefixDef Definition
		prefixSrc Source
		havePref  bool
	)
	for _, s := range f.snapshot() {
		for _, def := range s.Definitions(ctx) {
			if providerID != "" && def.ProviderID != providerID {
				continue
			}
			if def.Name == toolName {
				return def, s, true
			}
			if !havePref && (def.Command == command || def.Name == command) {
				prefixDef, prefixSrc, havePref = def, s, true
			}
		}
	}
	if havePref {
		return prefixDef, prefixSrc, true
	}
	return Definition{}, nil, false
}

// ResolveArgs picks the tool arguments from the aliases clients use:
// toolArgs, params, and arguments. The first non-empty object wins;
// otherwise nil.
func ResolveArgs(raw map[string]interface{}) map[string]interface{} {
	for _, key := range []string{"toolArgs", "params", "arguments"} {
		if obj, ok := raw[key].(map[string]interface{}); ok && len(obj) > 0 {
			return obj
		}
	}
	return nil
}
