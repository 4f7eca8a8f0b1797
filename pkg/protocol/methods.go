package protocol

// Method names routable over the gateway WebSocket.
const (
	// Liveness and identity
	MethodHealth          = "health"
	MethodStatus          = "status"
	MethodRestartSchedule = "restart.schedule"

	// Config surface
	MethodConfigGet    = "config.get"
	MethodConfigSchema = "config.schema"
	MethodConfigApply  = "config.apply"
	MethodConfigPatch  = "config.patch"

	// Updater
	MethodUpdateRun = "update.run"

	// MCP hub
	MethodMCPPresetsList       = "mcp.presets.list"
	MethodMCPProvidersSnapshot = "mcp.providers.snapshot"
	MethodMCPProvidersApply    = "mcp.providers.apply"
	MethodMCPMarketSearch      = "mcp.market.search"
	MethodMCPMarketDetail      = "mcp.market.detail"
	MethodMCPMarketInstall     = "mcp.market.install"
	MethodMCPMarketUninstall   = "mcp.market.uninstall"
	MethodMCPMarketRefresh     = "mcp.market.refresh"

	// Tools fabric
	MethodToolsList = "tools.list"
	MethodToolsCall = "tools.call"

	// Channels
	MethodChannelsStatus       = "channels.status"
	MethodChannelsList         = "channels.list"
	MethodChannelsAdd          = "channels.add"
	MethodChannelsRemove       = "channels.remove"
	MethodChannelsLogin        = "channels.login"
	MethodChannelsLogout       = "channels.logout"
	MethodChannelsCapabilities = "channels.capabilities"
	MethodChannelsResolve      = "channels.resolve"
	MethodChannelsLogs         = "channels.logs"

	// Device pairing
	MethodPairingList    = "pairing.list"
	MethodPairingApprove = "pairing.approve"

	// Skills surface
	MethodSkillsList      = "skills.list"
	MethodSkillsStatus    = "skills.status"
	MethodSkillsBins      = "skills.bins"
	MethodSkillsInstall   = "skills.install"
	MethodSkillsUpdate    = "skills.update"
	MethodSkillsUninstall = "skills.uninstall"

	// OAuth flows
	MethodOAuthQwenStart         = "oauth.qwen.start"
	MethodOAuthQwenPoll          = "oauth.qwen.poll"
	MethodOAuthAnthropicStart    = "oauth.anthropic.start"
	MethodOAuthAnthropicComplete = "oauth.anthropic.complete"

	// Chat
	MethodChatSend    = "chat.send"
	MethodChatAbort   = "chat.abort"
	MethodChatHistory = "chat.history"

	// Log streaming
	MethodLogsTail = "logs.tail"

	// Node registry
	MethodNodesList   = "nodes.list"
	MethodNodesInvoke = "nodes.invoke"

	// Session registry
	MethodSessionsList   = "sessions.list"
	MethodSessionsPatch  = "sessions.patch"
	MethodSessionsDelete = "sessions.delete"

	// Model catalog
	MethodModelsList = "models.list"

	// Agent ingress (nodes and runtimes push agent stream events here)
	MethodAgentEvent = "agent.event"

	// Last-gasp notice a client may send before closing.
	MethodGoodbye = "goodbye"
)
