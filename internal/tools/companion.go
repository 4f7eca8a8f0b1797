package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/pkg/protocol"
)

// CompanionSource projects connected nodes' action catalogs into the
// fabric.
type CompanionSource struct {
	registry *nodes.Registry
}

// NewCompanionSource wraps the node registry.
func NewCompanionSource(registry *nodes.Registry) *CompanionSource {
	return &CompanionSource{registry: registry}
}

func (s *CompanionSource) Kind() string { return KindCompanion }

// Definitions derives one definition per advertised action. A node may
// republish tools on behalf of another provider by setting
// params.providerId; the kind is then inferred from the id prefix.
func (s *CompanionSource) Definitions(ctx context.Context) []Definition {
	var out []Definition
	for _, node := range s.registry.ListConnected() {
		for _, action := range node.Actions {
			command := action.Command
			if command == "" {
				command = action.ID
			}
			if command == "" {
				continue
			}

			providerID := "companion:" + node.NodeID
			if override, ok := action.Params["providerId"].(string); ok && override != "" {
				providerID = override
			}

			label := action.Label
			if label == "" {
				label = node.DisplayName
			}

			out = append(out, Definition{
				Name:          providerID + "." + command,
				ProviderID:    providerID,
				ProviderKind:  inferKind(providerID),
				ProviderLabel: label,
				Description:   action.Description,
				InputSchema:   schemaFromParams(action.Params),
				Command:       command,
				NodeID:        node.NodeID,
				NodeName:      node.DisplayName,
			})
		}
	}
	return out
}

// Call dispatches to the owning node. Node errors keep their structured
// code when the node provided one.
func (s *CompanionSource) Call(ctx context.Context, def Definition, args map[string]interface{}, timeoutMs int64) (interface{}, error) {
	if def.NodeID == "" {
		return nil, fmt.Errorf("%w: tool %s has no bound node", ErrInvalidCall, def.Name)
	}

	result, err := s.registry.Invoke(ctx, nodes.InvokeRequest{
		NodeID:    def.NodeID,
		Command:   def.Command,
		Params:    args,
		TimeoutMs: timeoutMs,
	})
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Error != nil {
			return nil, fmt.Errorf("%s: %s", result.Error.Code, result.Error.Message)
		}
		return nil, fmt.Errorf("%s: node invoke failed", protocol.ErrUnavailable)
	}
	return result.Payload, nil
}

func inferKind(providerID string) string {
	switch {
	case strings.HasPrefix(providerID, "mcp:"):
		return KindMCP
	case strings.HasPrefix(providerID, "builtin"):
		return KindBuiltin
	default:
		return KindCompanion
	}
}

// schemaFromParams reflects an example params object into a shallow
// JSON schema. The providerId routing key never appears in it.
func schemaFromParams(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return nil
	}
	props := map[string]interface{}{}
	for key, value := range params {
		if key == "providerId" {
			continue
		}
		props[key] = map[string]interface{}{"type": jsonTypeOf(value)}
	}
	if len(props) == 0 {
		return nil
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
}

func jsonTypeOf(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return "string"
	}
}
