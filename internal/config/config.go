package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the clawd gateway.
type Config struct {
	Agents              AgentsConfig              `json:"agents"`
	Channels            ChannelsConfig            `json:"channels"`
	Gateway             GatewayConfig             `json:"gateway"`
	Tools               ToolsConfig               `json:"tools"`
	MCP                 MCPConfig                 `json:"mcp"`
	Sessions            SessionsConfig            `json:"sessions"`
	Skills              SkillsConfig              `json:"skills,omitempty"`
	Models              ModelsConfig              `json:"models,omitempty"`
	Update              UpdateConfig              `json:"update,omitempty"`
	Logging             LoggingConfig             `json:"logging,omitempty"`
	HeartbeatVisibility HeartbeatVisibilityConfig `json:"heartbeatVisibility,omitempty"`
	Telemetry           TelemetryConfig           `json:"telemetry,omitempty"`
	Tailscale           TailscaleConfig           `json:"tailscale,omitempty"`
	Bindings            []AgentBinding            `json:"bindings,omitempty"`
	mu                  sync.RWMutex
}

// GatewayConfig configures the WebSocket listener.
type GatewayConfig struct {
	Host            string       `json:"host"`
	Port            int          `json:"port"`
	Token           string       `json:"token,omitempty"`      // bearer token checked in the hello frame
	OwnerIDs        []string     `json:"owner_ids,omitempty"`  // principals allowed to approve pairing
	MaxMessageChars int          `json:"max_message_chars"`    // inbound frame size cap
	RateLimitRPM    int          `json:"rate_limit_rpm"`       // per-client request budget
	SendQueueDepth  int          `json:"send_queue_depth,omitempty"`   // per-client outbound high watermark
	DispatchWorkers int          `json:"dispatch_workers,omitempty"`   // handler pool size
	Reload          ReloadConfig `json:"reload,omitempty"`
}

// ReloadConfig controls how config file changes are applied.
type ReloadConfig struct {
	Mode string `json:"mode,omitempty"` // "hot" (default), "restart", "off"
}

// TailscaleConfig configures the optional Tailscale tsnet listener.
// Requires building with -tags tsnet. Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname"`             // Tailscale machine name (e.g. "clawd-gateway")
	StateDir  string `json:"state_dir,omitempty"`  // persistent state directory (default: os.UserConfigDir/tsnet-clawd)
	AuthKey   string `json:"-"`                    // from env OPENCLAW_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`  // remove node on exit (default false)
	EnableTLS bool   `json:"enable_tls,omitempty"` // use ListenTLS for auto HTTPS certs
}

// AgentBinding maps a channel/peer pattern to a specific agent.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies what messages this binding applies to.
type BindingMatch struct {
	Channel   string       `json:"channel"`             // "telegram", "discord", "webchat", etc.
	AccountID string       `json:"accountId,omitempty"` // bot account ID
	Peer      *BindingPeer `json:"peer,omitempty"`      // specific DM/group
	GuildID   string       `json:"guildId,omitempty"`   // Discord guild
}

// BindingPeer specifies a specific chat target.
type BindingPeer struct {
	Kind string `json:"kind"` // "direct" or "group"
	ID   string `json:"id"`
}

// AgentsConfig contains agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are default per-session levels applied when a session
// entry carries no explicit value.
type AgentDefaults struct {
	ThinkingLevel  string           `json:"thinkingLevel,omitempty"`  // "off", "low", "medium", "high"
	VerboseLevel   string           `json:"verboseLevel,omitempty"`   // "off" (default), "on"
	ReasoningLevel string           `json:"reasoningLevel,omitempty"` // "off" (default), "on"
	SendPolicy     string           `json:"sendPolicy,omitempty"`     // "allow" (default), "deny"
	Heartbeat      *HeartbeatConfig `json:"heartbeat,omitempty"`
}

// AgentSpec is the per-agent configuration override.
// All fields optional, zero values mean "inherit from defaults".
type AgentSpec struct {
	DisplayName    string `json:"displayName,omitempty"`
	ThinkingLevel  string `json:"thinkingLevel,omitempty"`
	VerboseLevel   string `json:"verboseLevel,omitempty"`
	ReasoningLevel string `json:"reasoningLevel,omitempty"`
	Default        bool   `json:"default,omitempty"`
}

// HeartbeatConfig configures periodic agent heartbeats.
type HeartbeatConfig struct {
	Every       string             `json:"every,omitempty"`       // duration string: "30m", "1h", "0m"=disabled
	Cron        string             `json:"cron,omitempty"`        // cron expression; takes precedence over Every
	ActiveHours *ActiveHoursConfig `json:"activeHours,omitempty"` // restrict to time window
	Session     string             `json:"session,omitempty"`     // "main" (default) or explicit session key
	Target      string             `json:"target,omitempty"`      // "last" (default), "none", or channel ID
	To          string             `json:"to,omitempty"`          // optional recipient override (chat ID)
	Prompt      string             `json:"prompt,omitempty"`      // custom heartbeat prompt
}

// ActiveHoursConfig restricts heartbeats to a time window.
type ActiveHoursConfig struct {
	Start    string `json:"start,omitempty"`    // "HH:MM" inclusive
	End      string `json:"end,omitempty"`      // "HH:MM" exclusive
	Timezone string `json:"timezone,omitempty"` // IANA timezone (default: local)
}

// HeartbeatVisibilityConfig controls whether uneventful heartbeat runs
// reach chat subscribers.
type HeartbeatVisibilityConfig struct {
	ShowOK *bool `json:"showOk,omitempty"` // default true
}

// ShowOKEnabled reports the effective visibility (nil means true).
func (h HeartbeatVisibilityConfig) ShowOKEnabled() bool {
	return h.ShowOK == nil || *h.ShowOK
}

// ChannelsConfig holds the per-channel adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	WebChat  WebChatConfig  `json:"webchat,omitempty"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	Token     string              `json:"token,omitempty"`
	AccountID string              `json:"accountId,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"` // user/chat IDs allowed to talk to the bot
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	Token     string              `json:"token,omitempty"`
	AccountID string              `json:"accountId,omitempty"`
	GuildID   string              `json:"guild_id,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// WebChatConfig configures the built-in web chat channel.
type WebChatConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// ToolsConfig configures the builtin tool handlers.
type ToolsConfig struct {
	Web     WebToolsConfig    `json:"web,omitempty"`
	Browser BrowserToolConfig `json:"browser,omitempty"`
	Image   ImageToolConfig   `json:"image,omitempty"`
}

// WebToolsConfig configures the builtin web fetch tool.
type WebToolsConfig struct {
	Fetch WebFetchConfig `json:"fetch,omitempty"`
}

// WebFetchConfig controls the web.fetch builtin.
type WebFetchConfig struct {
	Enabled             bool `json:"enabled,omitempty"`
	MaxChars            int  `json:"max_chars,omitempty"`             // response body cap (default 50000)
	AllowPrivateNetwork bool `json:"allow_private_network,omitempty"` // disable the SSRF guard
}

// BrowserToolConfig controls the browser.render builtin.
type BrowserToolConfig struct {
	Enabled  bool `json:"enabled,omitempty"`
	Headless bool `json:"headless,omitempty"`
}

// ImageToolConfig controls the image.probe builtin.
type ImageToolConfig struct {
	Enabled      bool `json:"enabled,omitempty"`
	MaxDimension int  `json:"max_dimension,omitempty"` // downscale bound (default 2048)
}

// MCPConfig holds both the registry-installed HTTP providers and the
// locally managed MCP server processes.
type MCPConfig struct {
	RegistryBaseURL string                       `json:"registry_base_url,omitempty"`
	Presets         []ProviderPreset             `json:"presets,omitempty"`
	Providers       map[string]*ProviderEntry    `json:"providers,omitempty"` // key: normalized providerId "mcp:<slug>"
	Servers         map[string]LocalServerConfig `json:"servers,omitempty"`   // locally launched MCP servers
}

// ProviderPreset is a template shown by mcp.presets.list.
type ProviderPreset struct {
	ID              string                 `json:"id"`
	Label           string                 `json:"label"`
	Icon            string                 `json:"icon,omitempty"`
	DocsURL         string                 `json:"docsUrl,omitempty"`
	RequiredSecrets []string               `json:"requiredSecrets,omitempty"`
	ConfigSchema    map[string]interface{} `json:"configSchema,omitempty"`
}

// ProviderEntry is one configured MCP HTTP provider.
type ProviderEntry struct {
	Enabled         bool                   `json:"enabled"`
	Label           string                 `json:"label,omitempty"`
	Source          string                 `json:"source,omitempty"` // "manual" or "catalog"
	QualifiedName   string                 `json:"qualifiedName,omitempty"`
	Connection      *ProviderConnection    `json:"connection,omitempty"`
	Fields          map[string]interface{} `json:"fields,omitempty"`
	SecretRefs      map[string]string      `json:"secretRefs,omitempty"` // field -> secret store ref
	RequiredSecrets []string               `json:"requiredSecrets,omitempty"`
	StatusHints     map[string]string      `json:"statusHints,omitempty"`
	Tools           []ProviderToolSchema   `json:"tools,omitempty"` // cached discovery result
	UpdatedAt       int64                  `json:"updatedAt,omitempty"`
	InstalledAt     int64                  `json:"installedAt,omitempty"`
}

// ProviderConnection describes how to reach the provider.
type ProviderConnection struct {
	Type          string                 `json:"type"` // always "http"
	DeploymentURL string                 `json:"deploymentUrl"`
	AuthType      string                 `json:"authType,omitempty"` // "none" or "bearer"
	ConfigSchema  map[string]interface{} `json:"configSchema,omitempty"`
}

// ProviderToolSchema is one cached tool from discovery.
type ProviderToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
	Command     string                 `json:"command"`
}

// LocalServerConfig describes one locally managed MCP server.
type LocalServerConfig struct {
	Disabled        bool              `json:"disabled,omitempty"`
	Type            string            `json:"type,omitempty"` // "stdio" (default), "sse", "streamable-http"
	Command         string            `json:"command,omitempty"`
	Args            []string          `json:"args,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	URL             string            `json:"url,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	AllowedTools    []string          `json:"allowed_tools,omitempty"`
	DisallowedTools []string          `json:"disallowed_tools,omitempty"`
}

// SessionsConfig configures the session store.
type SessionsConfig struct {
	Store   string `json:"store,omitempty"`   // path to sessions.json (default under the state dir)
	MainKey string `json:"mainKey,omitempty"` // session key heartbeats target when session="main"
}

// SkillsConfig declares the managed skill catalog.
type SkillsConfig struct {
	Entries []SkillSpec `json:"entries,omitempty"`
}

// SkillSpec is one installable skill.
type SkillSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Bins        []string `json:"bins,omitempty"` // binaries that must be on PATH when installed
	Install     string   `json:"install,omitempty"`
	Update      string   `json:"update,omitempty"`
	Uninstall   string   `json:"uninstall,omitempty"`
}

// ModelsConfig configures the model catalog cache.
type ModelsConfig struct {
	CatalogURL      string            `json:"catalog_url,omitempty"`
	RefreshInterval string            `json:"refresh_interval,omitempty"` // Go duration (default "1h")
	AuthProfiles    map[string]string `json:"auth_profiles,omitempty"`    // provider -> auth profile key
}

// UpdateConfig configures update.run.
type UpdateConfig struct {
	Endpoint string `json:"endpoint,omitempty"` // release manifest URL
	Channel  string `json:"channel,omitempty"`  // "stable" (default), "beta"
	Command  string `json:"command,omitempty"`  // optional handoff command run after a newer release is found
}

// LoggingConfig configures log verbosity and the on-disk event history.
type LoggingConfig struct {
	Level     string `json:"level,omitempty"`      // "debug", "info" (default), "warn", "error"
	MaxEvents int    `json:"max_events,omitempty"` // history retention cap (default 10000)
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS verification
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "clawd")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Channels = src.Channels
	c.Gateway = src.Gateway
	c.Tools = src.Tools
	c.MCP = src.MCP
	c.Sessions = src.Sessions
	c.Skills = src.Skills
	c.Models = src.Models
	c.Update = src.Update
	c.Logging = src.Logging
	c.HeartbeatVisibility = src.HeartbeatVisibility
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
	c.Bindings = src.Bindings
}

// ResolveAgentID returns the agent bound to a channel/account/peer triple,
// falling back to the configured default agent.
func (c *Config) ResolveAgentID(channel, accountID, peerID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, b := range c.Bindings {
		if b.Match.Channel != "" && b.Match.Channel != channel {
			continue
		}
		if b.Match.AccountID != "" && b.Match.AccountID != accountID {
			continue
		}
		if b.Match.Peer != nil && b.Match.Peer.ID != peerID {
			continue
		}
		return b.AgentID
	}

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// DefaultAgentID is used when no agent is explicitly bound.
const DefaultAgentID = "main"
