package tools

import (
	"context"
	"errors"
	"testing"
)

// stubSource is a fixed set of definitions with a recording Call.
type stubSource struct {
	kind   string
	defs   []Definition
	called *Definition
	result interface{}
}

func (s *stubSource) Kind() string                                  { return s.kind }
func (s *stubSource) Definitions(ctx context.Context) []Definition  { return s.defs }
func (s *stubSource) Call(ctx context.Context, def Definition, args map[string]interface{}, timeoutMs int64) (interface{}, error) {
	s.called = &def
	return s.result, nil
}

func newTestFabric() (*Fabric, *stubSource, *stubSource, *BuiltinSource) {
	mcpSrc := &stubSource{
		kind: KindMCP,
		defs: []Definition{
			{Name: "mcp:exa.search", ProviderID: "mcp:exa", ProviderKind: KindMCP, Command: "search"},
			{Name: "mcp:exa.read", ProviderID: "mcp:exa", ProviderKind: KindMCP, Command: "read"},
		},
		result: map[string]interface{}{"hits": 3},
	}
	compSrc := &stubSource{
		kind: KindCompanion,
		defs: []Definition{
			{Name: "companion:mac.screenshot", ProviderID: "companion:mac", ProviderKind: KindCompanion, Command: "screenshot", NodeID: "mac"},
		},
		result: "png-bytes",
	}
	builtins := NewBuiltinSource()
	builtins.Register(Builtin{
		Command: "time.now",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "now", nil
		},
	})

	f := New()
	f.AddSource(builtins)
	f.AddSource(mcpSrc)
	f.AddSource(compSrc)
	return f, mcpSrc, compSrc, builtins
}

func TestListFiltering(t *testing.T) {
	f, _, _, _ := newTestFabric()
	no := false

	tests := []struct {
		name   string
		params ListParams
		want   []string
	}{
		{
			name:   "all",
			params: ListParams{},
			want:   []string{"companion:mac.screenshot", "mcp:exa.search", "mcp:exa.read", "builtin.time.now"},
		},
		{
			name:   "kind mcp only",
			params: ListParams{ProviderKind: KindMCP},
			want:   []string{"mcp:exa.search", "mcp:exa.read"},
		},
		{
			name:   "excludeBuiltin",
			params: ListParams{IncludeBuiltin: &no},
			want:   []string{"companion:mac.screenshot", "mcp:exa.search", "mcp:exa.read"},
		},
		{
			name:   "providerId filter normalizes case",
			params: ListParams{ProviderID: "MCP:Exa"},
			want:   []string{"mcp:exa.search", "mcp:exa.read"},
		},
		{
			name:   "providerIds union",
			params: ListParams{ProviderIDs: []string{"companion:mac", "builtin"}},
			want:   []string{"companion:mac.screenshot", "builtin.time.now"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.List(context.Background(), tt.params)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d definitions, want %d: %+v", len(got), len(tt.want), got)
			}
			seen := map[string]bool{}
			for _, d := range got {
				seen[d.Name] = true
			}
			for _, name := range tt.want {
				if !seen[name] {
					t.Errorf("missing definition %q", name)
				}
			}
		})
	}
}

func TestCallStripsProviderPrefix(t *testing.T) {
	f, mcpSrc, _, _ := newTestFabric()

	res, err := f.Call(context.Background(), CallParams{
		ProviderID: "mcp:exa",
		ToolName:   "mcp:exa.search",
		Args:       map[string]interface{}{"q": "hello"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.OK || res.Command != "search" || res.ProviderID != "mcp:exa" {
		t.Errorf("unexpected result: %+v", res)
	}
	if mcpSrc.called == nil || mcpSrc.called.Command != "search" {
		t.Errorf("dispatched to wrong definition: %+v", mcpSrc.called)
	}
}

func TestCallBareCommand(t *testing.T) {
	f, _, _, _ := newTestFabric()

	res, err := f.Call(context.Background(), CallParams{ProviderID: "MCP:EXA", ToolName: "search"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Command != "search" {
		t.Errorf("Command = %q, want search", res.Command)
	}
}

func TestCallUnknownTool(t *testing.T) {
	f, _, _, _ := newTestFabric()

	_, err := f.Call(context.Background(), CallParams{ProviderID: "mcp:exa", ToolName: "does-not-exist"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}

func TestExactNameBeatsCommandMatch(t *testing.T) {
	// A definition literally named "search" must win over one whose
	// command is "search".
	exact := &stubSource{
		kind: KindMCP,
		defs: []Definition{
			{Name: "search", ProviderID: "mcp:exa", ProviderKind: KindMCP, Command: "search-v2"},
		},
		result: "exact",
	}
	byCommand := &stubSource{
		kind: KindCompanion,
		defs: []Definition{
			{Name: "mcp:exa.search", ProviderID: "mcp:exa", ProviderKind: KindMCP, Command: "search", NodeID: "n"},
		},
		result: "command",
	}

	f := New()
	f.AddSource(byCommand)
	f.AddSource(exact)

	res, err := f.Call(context.Background(), CallParams{ProviderID: "mcp:exa", ToolName: "search"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Result != "exact" {
		t.Errorf("Result = %v, want the exact-name match", res.Result)
	}
}

func TestBuiltinDisabledContributesNothing(t *testing.T) {
	enabled := false
	builtins := NewBuiltinSource()
	builtins.Register(Builtin{
		Command: "web.fetch",
		Enabled: func() bool { return enabled },
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "body", nil
		},
	})

	f := New()
	f.AddSource(builtins)

	if got := f.List(context.Background(), ListParams{}); len(got) != 0 {
		t.Fatalf("disabled builtin listed: %+v", got)
	}

	enabled = true
	if got := f.List(context.Background(), ListParams{}); len(got) != 1 {
		t.Fatalf("enabled builtin not listed: %+v", got)
	}
}

func TestResolveArgsPrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]interface{}
		want string
	}{
		{
			name: "toolArgs wins",
			raw: map[string]interface{}{
				"toolArgs":  map[string]interface{}{"who": "toolArgs"},
				"params":    map[string]interface{}{"who": "params"},
				"arguments": map[string]interface{}{"who": "arguments"},
			},
			want: "toolArgs",
		},
		{
			name: "empty toolArgs falls through",
			raw: map[string]interface{}{
				"toolArgs": map[string]interface{}{},
				"params":   map[string]interface{}{"who": "params"},
			},
			want: "params",
		},
		{
			name: "arguments as last resort",
			raw: map[string]interface{}{
				"arguments": map[string]interface{}{"who": "arguments"},
			},
			want: "arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveArgs(tt.raw)
			if got == nil || got["who"] != tt.want {
				t.Errorf("ResolveArgs = %v, want who=%q", got, tt.want)
			}
		})
	}

	if got := ResolveArgs(map[string]interface{}{"other": 1}); got != nil {
		t.Errorf("ResolveArgs with no aliases = %v, want nil", got)
	}
}
