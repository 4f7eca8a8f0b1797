package config

import "strings"

// Reload modes.
const (
	ReloadModeHot     = "hot"
	ReloadModeRestart = "restart"
	ReloadModeOff     = "off"
)

// restartPrefixes lists the dotted path prefixes that cannot be applied
// to a running daemon. Everything else is hot-reloadable.
var restartPrefixes = []string{
	"gateway",
	"tailscale",
	"mcp",
	"sessions.store",
	"telemetry",
}

// ReloadPlan classifies a set of changed config paths.
type ReloadPlan struct {
	Mode            string   `json:"mode"`
	HotPaths        []string `json:"hotPaths,omitempty"`
	RestartPaths    []string `json:"restartPaths,omitempty"`
	RestartRequired bool     `json:"restartRequired"`
}

// PlanReload splits changed paths into hot-applicable and
// restart-required buckets under the configured reload mode:
// "off" applies nothing, "restart" forces a restart for any change,
// "hot" restarts only when a restart-required path changed.
func PlanReload(mode string, changed []string) ReloadPlan {
	if mode == "" {
		mode = ReloadModeHot
	}
	plan := ReloadPlan{Mode: mode}

	if mode == ReloadModeOff || len(changed) == 0 {
		return plan
	}

	for _, p := range changed {
		if pathNeedsRestart(p) {
			plan.RestartPaths = append(plan.RestartPaths, p)
		} else {
			plan.HotPaths = append(plan.HotPaths, p)
		}
	}

	plan.RestartRequired = len(plan.RestartPaths) > 0 || mode == ReloadModeRestart
	return plan
}

func pathNeedsRestart(path string) bool {
	for _, prefix := range restartPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+".") {
			return true
		}
	}
	return false
}
