package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Validate checks a parsed config tree and returns one issue per
// violation. An empty result means the tree is safe to hand to the
// rest of the daemon.
func Validate(cfg *Config) []Issue {
	var issues []Issue
	add := func(path, format string, args ...interface{}) {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Gateway.Port < 1 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port %d out of range 1-65535", cfg.Gateway.Port)
	}
	switch cfg.Gateway.Reload.Mode {
	case "", "hot", "restart", "off":
	default:
		add("gateway.reload.mode", "unknown mode %q (expected hot, restart, or off)", cfg.Gateway.Reload.Mode)
	}
	if cfg.Gateway.RateLimitRPM < 0 {
		add("gateway.rate_limit_rpm", "must not be negative")
	}

	validateLevels(cfg.Agents.Defaults, "agents.defaults", add)
	if hb := cfg.Agents.Defaults.Heartbeat; hb != nil {
		validateHeartbeat(hb, "agents.defaults.heartbeat", add)
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		add("logging.level", "unknown level %q", cfg.Logging.Level)
	}

	switch cfg.Update.Channel {
	case "", "stable", "beta":
	default:
		add("update.channel", "unknown channel %q (expected stable or beta)", cfg.Update.Channel)
	}

	if iv := cfg.Models.RefreshInterval; iv != "" {
		if _, err := time.ParseDuration(iv); err != nil {
			add("models.refresh_interval", "not a duration: %v", err)
		}
	}

	for id, entry := range cfg.MCP.Providers {
		path := "mcp.providers." + id
		if id != NormalizeProviderID(id) {
			add(path, "provider key must be normalized (%q)", NormalizeProviderID(id))
		}
		if entry == nil {
			add(path, "entry must be an object")
			continue
		}
		if entry.Connection == nil || entry.Connection.DeploymentURL == "" {
			add(path+".connection.deploymentUrl", "required for a configured provider")
		}
		if entry.Connection != nil {
			if entry.Connection.Type != "" && entry.Connection.Type != "http" {
				add(path+".connection.type", "unknown type %q (expected http)", entry.Connection.Type)
			}
			switch entry.Connection.AuthType {
			case "", "none", "bearer":
			default:
				add(path+".connection.authType", "unknown authType %q (expected none or bearer)", entry.Connection.AuthType)
			}
		}
		switch entry.Source {
		case "", "manual", "catalog":
		default:
			add(path+".source", "unknown source %q (expected manual or catalog)", entry.Source)
		}
	}

	for name, srv := range cfg.MCP.Servers {
		path := "mcp.servers." + name
		switch srv.Type {
		case "", "stdio", "sse", "streamable-http":
		default:
			add(path+".type", "unknown type %q", srv.Type)
		}
		if (srv.Type == "" || srv.Type == "stdio") && srv.Command == "" && !srv.Disabled {
			add(path+".command", "required for a stdio server")
		}
		if (srv.Type == "sse" || srv.Type == "streamable-http") && srv.URL == "" {
			add(path+".url", "required for a %s server", srv.Type)
		}
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		add("channels.telegram.token", "required when the channel is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		add("channels.discord.token", "required when the channel is enabled")
	}

	return issues
}

func validateLevels(d AgentDefaults, prefix string, add func(string, string, ...interface{})) {
	switch d.ThinkingLevel {
	case "", "off", "low", "medium", "high":
	default:
		add(prefix+".thinkingLevel", "unknown level %q", d.ThinkingLevel)
	}
	switch d.VerboseLevel {
	case "", "on", "off":
	default:
		add(prefix+".verboseLevel", "unknown level %q", d.VerboseLevel)
	}
	switch d.ReasoningLevel {
	case "", "on", "off":
	default:
		add(prefix+".reasoningLevel", "unknown level %q", d.ReasoningLevel)
	}
	switch d.SendPolicy {
	case "", "allow", "deny":
	default:
		add(prefix+".sendPolicy", "unknown policy %q", d.SendPolicy)
	}
}

func validateHeartbeat(hb *HeartbeatConfig, prefix string, add func(string, string, ...interface{})) {
	if hb.Cron != "" {
		g := gronx.New()
		if !g.IsValid(hb.Cron) {
			add(prefix+".cron", "invalid cron expression %q", hb.Cron)
		}
	} else if hb.Every != "" {
		if _, err := time.ParseDuration(hb.Every); err != nil {
			add(prefix+".every", "not a duration: %v", err)
		}
	}
	if ah := hb.ActiveHours; ah != nil {
		for _, pair := range []struct{ field, v string }{{"start", ah.Start}, {"end", ah.End}} {
			if pair.v == "" {
				continue
			}
			if _, err := time.Parse("15:04", pair.v); err != nil {
				add(prefix+".activeHours."+pair.field, "expected HH:MM, got %q", pair.v)
			}
		}
	}
	switch hb.Target {
	case "", "last", "none":
	default:
		// Channel IDs are allowed; only flag obviously malformed values.
		if strings.ContainsAny(hb.Target, " \t") {
			add(prefix+".target", "malformed target %q", hb.Target)
		}
	}
}

// NormalizeProviderID lowercases a provider id and guarantees the
// "mcp:" prefix.
func NormalizeProviderID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return id
	}
	if !strings.HasPrefix(id, "mcp:") {
		id = "mcp:" + id
	}
	return id
}
