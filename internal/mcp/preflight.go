package mcp

import (
	"context"
	"log/slog"
	"regexp"
)

// safeVerb matches tool names that are read-only by convention and safe
// to invoke once as a liveness check.
var safeVerb = regexp.MustCompile(`(^|[._-])(list|get|search|read|fetch|status|health|info)($|[._-])`)

// PreflightResult reports whether a provider deployment is usable.
type PreflightResult struct {
	OK            bool     `json:"ok"`
	ToolCount     int      `json:"toolCount"`
	ListedTools   []string `json:"listedTools,omitempty"`
	SmokeTool     string   `json:"smokeTool,omitempty"`
	DeploymentURL string   `json:"deploymentUrl"`
	Error         string   `json:"error,omitempty"`
}

// Preflight validates a provider: tools/list must return at least one
// tool. When a listed tool has no required arguments and a safe-verb
// name, it is invoked once as a smoke test; a smoke failure fails the
// preflight, since the provider is advertising a tool it cannot serve.
func (c *HTTPClient) Preflight(ctx context.Context, ep Endpoint, timeoutMs int64) PreflightResult {
	result := PreflightResult{DeploymentURL: ep.DeploymentURL}

	tools, err := c.ListTools(ctx, ep, timeoutMs)
	if err != nil {
		result.Error = truncate(err.Error(), remoteErrorMax)
		return result
	}
	if len(tools) == 0 {
		result.Error = "No tools exposed by MCP provider"
		return result
	}

	result.ToolCount = len(tools)
	for _, t := range tools {
		result.ListedTools = append(result.ListedTools, t.Name)
	}

	if smoke := pickSmokeTool(tools); smoke != "" {
		if _, err := c.CallTool(ctx, ep, smoke, nil, timeoutMs); err != nil {
			slog.Warn("mcp.preflight.smoke_failed", "tool", smoke, "error", err)
			result.Error = truncate("smoke test "+smoke+": "+err.Error(), remoteErrorMax)
			return result
		}
		result.SmokeTool = smoke
	}

	result.OK = true
	return result
}

// pickSmokeTool returns the first tool that is argument-free and named
// with a safe verb, or "" when none qualifies.
func pickSmokeTool(tools []ToolInfo) string {
	for _, t := range tools {
		if !safeVerb.MatchString(t.Name) {
			continue
		}
		if hasRequiredArgs(t.InputSchema) {
			continue
		}
		return t.Name
	}
	return ""
}

func hasRequiredArgs(schema map[string]interface{}) bool {
	if schema == nil {
		return false
	}
	required, ok := schema["required"].([]interface{})
	return ok && len(required) > 0
}
