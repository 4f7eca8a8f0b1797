package tools

import (
	"context"
	"fmt"
	"sync"
)

// BuiltinProviderID is the provider id all builtin tools live under.
const BuiltinProviderID = "builtin"

// BuiltinHandler executes one builtin command.
type BuiltinHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Builtin declares one process-local tool.
type Builtin struct {
	Command     string
	Description string
	InputSchema map[string]interface{}
	Enabled     func() bool // nil means always enabled
	Handler     BuiltinHandler
}

// BuiltinSource holds the builtins registered at startup.
type BuiltinSource struct {
	mu    sync.RWMutex
	tools []Builtin
}

// NewBuiltinSource creates an empty builtin source.
func NewBuiltinSource() *BuiltinSource {
	return &BuiltinSource{}
}

func (s *BuiltinSource) Kind() string { return KindBuiltin }

// Register adds a builtin. Later registrations with the same command
// shadow earlier ones on dispatch but both are listed; callers are
// expected to register each command once.
func (s *BuiltinSource) Register(b Builtin) {
	s.mu.Lock()
	s.tools = append(s.tools, b)
	s.mu.Unlock()
}

func (s *BuiltinSource) Definitions(ctx context.Context) []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Definition, 0, len(s.tools))
	for _, b := range s.tools {
		if b.Enabled != nil && !b.Enabled() {
			continue
		}
		out = append(out, Definition{
			Name:          BuiltinProviderID + "." + b.Command,
			ProviderID:    BuiltinProviderID,
			ProviderKind:  KindBuiltin,
			ProviderLabel: "Built-in",
			Description:   b.Description,
			InputSchema:   b.InputSchema,
			Command:       b.Command,
		})
	}
	return out
}

func (s *BuiltinSource) Call(ctx context.Context, def Definition, args map[string]interface{}, timeoutMs int64) (interface{}, error) {
	s.mu.RLock()
	var handler BuiltinHandler
	for i := len(s.tools) - 1; i >= 0; i-- {
		b := s.tools[i]
		if b.Command != def.Command {
			continue
		}
		if b.Enabled != nil && !b.Enabled() {
			continue
		}
		handler = b.Handler
		break
	}
	s.mu.RUnlock()

	if handler == nil {
		return nil, fmt.Errorf("%w: builtin %s", ErrToolNotFound, def.Command)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return handler(ctx, args)
}
