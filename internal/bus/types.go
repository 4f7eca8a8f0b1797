// Package bus carries events between the agent runtime, the gateway,
// and connected clients: a process-local publisher with per-subscriber
// fanout, and the agent event bus that sequences per-run streams into
// user-facing chat events.
package bus

// Event is a server-side event delivered to subscribers.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`

	// DropIfSlow marks the event as safe to shed for consumers whose
	// send queue is over the high watermark. Deltas and ticks set it;
	// finals and lifecycle events never do.
	DropIfSlow bool `json:"-"`

	// SessionKey, when set, additionally routes the event to the
	// session's subscribers via the gateway's per-session fanout.
	SessionKey string `json:"-"`
}

// EventHandler handles one delivered event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast and subscription. The
// gateway server subscribes one handler per client connection.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// AgentEvent is one event on an agent run stream. Seq is monotone and
// positive per RunID; gaps are detected downstream.
type AgentEvent struct {
	RunID      string                 `json:"runId"`
	Stream     string                 `json:"stream"` // "assistant", "tool", "lifecycle", "error"
	Seq        int64                  `json:"seq"`
	Ts         int64                  `json:"ts"`
	SessionKey string                 `json:"sessionKey,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`

	// SessionID is the internal session the run belongs to. Runtimes
	// that know it echo it back; otherwise the bus resolves it from
	// SessionKey at ingestion.
	SessionID string `json:"sessionId,omitempty"`
}

// Agent event streams.
const (
	StreamAssistant = "assistant"
	StreamTool      = "tool"
	StreamLifecycle = "lifecycle"
	StreamError     = "error"
)

// ChatLink joins an internal agent run to the client-visible chat run
// that triggered it.
type ChatLink struct {
	SessionKey  string `json:"sessionKey"`
	ClientRunID string `json:"clientRunId"`

	// Heartbeat marks runs dispatched by the heartbeat scheduler; their
	// chat broadcasts can be suppressed by heartbeatVisibility.
	Heartbeat bool `json:"heartbeat,omitempty"`
}
