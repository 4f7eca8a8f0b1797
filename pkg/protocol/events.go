package protocol

// Event names pushed from the gateway to connected clients.
const (
	EventAgent            = "agent"
	EventChat             = "chat"
	EventHealth           = "health"
	EventShutdown         = "shutdown"
	EventHeartbeat        = "heartbeat"
	EventOAuthUpdated     = "oauth.updated"
	EventConfigChanged    = "config.changed"
	EventNodeConnected    = "node.connected"
	EventNodeDisconnected = "node.disconnected"
	EventPresence         = "presence"
	EventChannelStatus    = "channel.status"
	EventTick             = "tick"
)

// Agent stream event types carried inside EventAgent payloads.
const (
	AgentEventDelta     = "delta"
	AgentEventToolCall  = "tool.call"
	AgentEventToolDone  = "tool.done"
	AgentEventLifecycle = "lifecycle"
	AgentEventError     = "error"
)

// Lifecycle phases carried by AgentEventLifecycle payloads.
const (
	LifecycleStart   = "start"
	LifecycleEnd     = "end"
	LifecycleError   = "error"
	LifecycleAborted = "aborted"
)

// Chat event states.
const (
	ChatStateDelta = "delta"
	ChatStateFinal = "final"
	ChatStateError = "error"
)
