package config

import (
	"reflect"
	"testing"
)

func TestDiffPaths(t *testing.T) {
	tests := []struct {
		name string
		prev string
		next string
		want []string
	}{
		{
			name: "scalar change",
			prev: `{"gateway":{"port":1}}`,
			next: `{"gateway":{"port":2}}`,
			want: []string{"gateway.port"},
		},
		{
			name: "added key",
			prev: `{"gateway":{"port":1}}`,
			next: `{"gateway":{"port":1,"host":"0.0.0.0"}}`,
			want: []string{"gateway.host"},
		},
		{
			name: "removed key",
			prev: `{"gateway":{"port":1},"logging":{"level":"debug"}}`,
			next: `{"gateway":{"port":1}}`,
			want: []string{"logging"},
		},
		{
			name: "array compared wholesale",
			prev: `{"gateway":{"owner_ids":["a"]}}`,
			next: `{"gateway":{"owner_ids":["a","b"]}}`,
			want: []string{"gateway.owner_ids"},
		},
		{
			name: "no change",
			prev: `{"gateway":{"port":1}}`,
			next: `{"gateway":{"port":1}}`,
			want: []string{},
		},
		{
			name: "nested descent",
			prev: `{"mcp":{"providers":{"mcp:exa":{"enabled":true}}}}`,
			next: `{"mcp":{"providers":{"mcp:exa":{"enabled":false}}}}`,
			want: []string{"mcp.providers.mcp:exa.enabled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiffPaths([]byte(tt.prev), []byte(tt.next))
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DiffPaths() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanReload(t *testing.T) {
	tests := []struct {
		name        string
		mode        string
		changed     []string
		wantRestart bool
		wantHot     int
	}{
		{"hot path only", "hot", []string{"agents.defaults.verboseLevel"}, false, 1},
		{"gateway change forces restart", "hot", []string{"gateway.port"}, true, 0},
		{"mixed", "hot", []string{"gateway.port", "logging.level"}, true, 1},
		{"mode restart forces restart", "restart", []string{"logging.level"}, true, 1},
		{"mode off applies nothing", "off", []string{"gateway.port"}, false, 0},
		{"mcp providers restart", "hot", []string{"mcp.providers.mcp:exa.enabled"}, true, 0},
		{"session store restart", "hot", []string{"sessions.store"}, true, 0},
		{"no changes", "hot", nil, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanReload(tt.mode, tt.changed)
			if plan.RestartRequired != tt.wantRestart {
				t.Errorf("RestartRequired = %v, want %v", plan.RestartRequired, tt.wantRestart)
			}
			if len(plan.HotPaths) != tt.wantHot {
				t.Errorf("HotPaths = %v, want %d entries", plan.HotPaths, tt.wantHot)
			}
		})
	}
}
