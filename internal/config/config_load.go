package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				ThinkingLevel:  "off",
				VerboseLevel:   "off",
				ReasoningLevel: "off",
				SendPolicy:     "allow",
				Heartbeat: &HeartbeatConfig{
					Every:  "30m",
					Target: "last",
				},
			},
		},
		Gateway: GatewayConfig{
			Host:            "127.0.0.1",
			Port:            18789,
			MaxMessageChars: 32000,
			RateLimitRPM:    120,
			SendQueueDepth:  64,
			DispatchWorkers: 8,
			Reload:          ReloadConfig{Mode: "hot"},
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				Fetch: WebFetchConfig{Enabled: true, MaxChars: 50000},
			},
			Browser: BrowserToolConfig{Headless: true},
			Image:   ImageToolConfig{Enabled: true, MaxDimension: 2048},
		},
		MCP: MCPConfig{
			RegistryBaseURL: "https://registry.openclaw.ai",
		},
		Channels: ChannelsConfig{
			WebChat: WebChatConfig{Enabled: true},
		},
		Models: ModelsConfig{
			RefreshInterval: "1h",
		},
		Update: UpdateConfig{
			Channel: "stable",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxEvents: 10000,
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("OPENCLAW_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("OPENCLAW_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("OPENCLAW_DISCORD_TOKEN", &c.Channels.Discord.Token)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	// Gateway host/port
	envStr("OPENCLAW_HOST", &c.Gateway.Host)
	if v := os.Getenv("OPENCLAW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Session store path
	envStr("OPENCLAW_SESSIONS_STORE", &c.Sessions.Store)

	// MCP registry
	envStr("OPENCLAW_MCP_REGISTRY_URL", &c.MCP.RegistryBaseURL)

	// Telemetry
	envStr("OPENCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("OPENCLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("OPENCLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("OPENCLAW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OPENCLAW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Owner IDs from env (comma-separated)
	if v := os.Getenv("OPENCLAW_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}

	// Tailscale (tsnet)
	envStr("OPENCLAW_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("OPENCLAW_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("OPENCLAW_TSNET_DIR", &c.Tailscale.StateDir)

	// Log level
	envStr("OPENCLAW_LOG_LEVEL", &c.Logging.Level)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after modifying config to restore runtime secrets from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by config.get to avoid exposing secrets to WebSocket clients.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Tailscale.AuthKey)

	for k, v := range cp.Telemetry.Headers {
		if v != "" {
			cp.Telemetry.Headers[k] = secretMask
		}
	}
	for name, srv := range cp.MCP.Servers {
		for k, v := range srv.Env {
			if v != "" {
				srv.Env[k] = secretMask
			}
		}
		cp.MCP.Servers[name] = srv
	}

	return cp
}

// StripMaskedSecrets strips only fields that still contain the mask value "***".
// Real values (user-entered via UI) are preserved, so secrets round-trip
// through config.get -> edit -> config.apply without being clobbered.
func (c *Config) StripMaskedSecrets() {
	stripIfMasked := func(s *string) {
		if *s == secretMask {
			*s = ""
		}
	}

	stripIfMasked(&c.Gateway.Token)
	stripIfMasked(&c.Channels.Telegram.Token)
	stripIfMasked(&c.Channels.Discord.Token)
	stripIfMasked(&c.Tailscale.AuthKey)

	for k, v := range c.Telemetry.Headers {
		if v == secretMask {
			delete(c.Telemetry.Headers, k)
		}
	}
	for _, srv := range c.MCP.Servers {
		for k, v := range srv.Env {
			if v == secretMask {
				delete(srv.Env, k)
			}
		}
	}
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
