package config

// Schema returns a JSON-schema-shaped description of the config tree.
// Served by config.schema for editor tooling; maintained by hand
// alongside the Config struct.
func Schema() map[string]interface{} {
	obj := func(desc string, props map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"type": "object", "description": desc, "properties": props}
	}
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	boolean := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "boolean", "description": desc}
	}
	num := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "integer", "description": desc}
	}
	strList := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": desc}
	}

	return map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]interface{}{
			"gateway": obj("WebSocket gateway listener", map[string]interface{}{
				"host":              str("bind host"),
				"port":              num("bind port"),
				"token":             str("bearer token checked in the hello frame; empty leaves the gateway open"),
				"owner_ids":         strList("principals allowed to approve pairing"),
				"max_message_chars": num("inbound frame size cap"),
				"rate_limit_rpm":    num("per-client request budget; 0 disables"),
				"send_queue_depth":  num("per-client outbound high watermark"),
				"dispatch_workers":  num("handler pool size"),
				"reload": obj("config reload behavior", map[string]interface{}{
					"mode": map[string]interface{}{"type": "string", "enum": []string{"hot", "restart", "off"}},
				}),
			}),
			"tailscale": obj("optional tsnet listener (build tag tsnet)", map[string]interface{}{
				"hostname":   str("tailnet machine name"),
				"state_dir":  str("tsnet state directory"),
				"ephemeral":  boolean("remove the node on exit"),
				"enable_tls": boolean("serve TLS via tailnet certs"),
			}),
			"channels": obj("chat channel adapters", map[string]interface{}{
				"telegram": obj("Telegram bot", map[string]interface{}{
					"enabled":    boolean("start on boot"),
					"token":      str("bot token"),
					"allow_from": strList("allowed user/chat ids"),
				}),
				"discord": obj("Discord bot", map[string]interface{}{
					"enabled":    boolean("start on boot"),
					"token":      str("bot token"),
					"allow_from": strList("allowed user/channel ids"),
				}),
			}),
			"mcp": obj("MCP hub", map[string]interface{}{
				"registry_url": str("market registry base url"),
				"providers":    obj("installed providers keyed by provider id", nil),
				"servers":      obj("local command/url MCP servers keyed by name", nil),
			}),
			"tools":     obj("builtin tool settings (web fetch, image, browser)", nil),
			"agents":    obj("agent defaults, heartbeat schedule", nil),
			"sessions":  obj("session store location and defaults", nil),
			"models":    obj("model catalog cache", map[string]interface{}{"catalog_url": str("remote catalog url"), "refresh_interval": str("cache TTL"), "auth_profiles": obj("provider to auth profile bindings", map[string]interface{}{})}),
			"skills":    obj("installable skill catalog", nil),
			"update":    obj("release manifest endpoint and update command", nil),
			"logging":   obj("event history retention and level", nil),
			"telemetry": obj("OpenTelemetry trace export", nil),
		},
	}
}
