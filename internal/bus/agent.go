package bus

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/clawd/pkg/protocol"
)

// DefaultDeltaInterval rate-limits chat delta broadcasts per run.
// Finals are never throttled.
const DefaultDeltaInterval = 150 * time.Millisecond

// ChatEvent is the user-facing chat stream payload derived from agent
// run events. RunID carries the client's own run id, not the internal
// agent run id.
type ChatEvent struct {
	RunID      string   `json:"runId"`
	SessionKey string   `json:"sessionKey,omitempty"`
	State      string   `json:"state"` // "delta", "final", "error"
	Message    string   `json:"message,omitempty"`
	MediaURLs  []string `json:"mediaUrls,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// SeqGap is the payload of the synthetic agent error emitted when a
// run's sequence numbers skip.
type SeqGap struct {
	RunID    string `json:"runId"`
	Reason   string `json:"reason"`
	Expected int64  `json:"expected"`
	Received int64  `json:"received"`
}

// AgentBusOptions wires the bus to the gateway and configuration.
type AgentBusOptions struct {
	// SendToSession unicasts an event to one session's subscribers.
	SendToSession func(sessionKey, event string, payload interface{})

	// SessionID resolves a session key to its internal session id, used
	// when a wire event carries only sessionKey. May be nil.
	SessionID func(sessionKey string) (string, bool)

	// Resolve finds the chat link for a run that was never registered.
	// May be nil.
	Resolve func(runID, sessionID string) (ChatLink, bool)

	// ShowHeartbeatOK reports config.heartbeatVisibility.showOk. When it
	// returns false, heartbeat runs do not reach chat broadcast; the
	// per-session unicast still fires.
	ShowHeartbeatOK func() bool

	// Verbose reports whether tool-stream events for a session should be
	// broadcast. When false, tool events are unicast-only.
	Verbose func(sessionKey string) bool

	// DeltaInterval overrides the delta throttle. Zero means the default.
	DeltaInterval time.Duration

	// now is a test seam.
	now func() time.Time
}

type chatBuffer struct {
	text      string
	mediaURLs []string
	mediaSeen map[string]struct{}
}

// AgentBus joins agent run streams to chat runs: sequencing with gap
// detection, delta throttling, media accumulation, heartbeat
// suppression, and abort draining. All state is process-local behind
// one mutex; events are handled in arrival order per connection.
type AgentBus struct {
	pub  EventPublisher
	opts AgentBusOptions

	mu        sync.Mutex
	chatLinks map[string][]ChatLink // sessionID -> FIFO
	lastSeq   map[string]int64      // runID -> last observed seq
	buffers   map[string]*chatBuffer
	lastDelta map[string]time.Time // runID -> last delta broadcast
	aborted   map[string]struct{}  // runID set
}

// NewAgentBus creates the bus over the given publisher.
func NewAgentBus(pub EventPublisher, opts AgentBusOptions) *AgentBus {
	if opts.DeltaInterval <= 0 {
		opts.DeltaInterval = DefaultDeltaInterval
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &AgentBus{
		pub:       pub,
		opts:      opts,
		chatLinks: make(map[string][]ChatLink),
		lastSeq:   make(map[string]int64),
		buffers:   make(map[string]*chatBuffer),
		lastDelta: make(map[string]time.Time),
		aborted:   make(map[string]struct{}),
	}
}

// RegisterChatRun enqueues a chat link for a session. The next agent
// run on that session joins the front of the queue.
func (b *AgentBus) RegisterChatRun(sessionID string, link ChatLink) {
	b.mu.Lock()
	b.chatLinks[sessionID] = append(b.chatLinks[sessionID], link)
	b.mu.Unlock()
}

// MarkAborted flags a run so its remaining events are drained without a
// final chat event.
func (b *AgentBus) MarkAborted(runID string) {
	b.mu.Lock()
	b.aborted[runID] = struct{}{}
	b.mu.Unlock()
}

// HandleAgentEvent processes one agent run event end to end.
func (b *AgentBus) HandleAgentEvent(evt AgentEvent) {
	if evt.SessionID == "" && evt.SessionKey != "" && b.opts.SessionID != nil {
		if id, ok := b.opts.SessionID(evt.SessionKey); ok {
			evt.SessionID = id
		}
	}
	link := b.resolveLink(evt)

	b.mu.Lock()
	// Sequence discipline: a gap emits a synthetic error but never
	// blocks delivery. lastSeq advances to the received value so one
	// gap reports once.
	var gap *SeqGap
	expected := b.lastSeq[evt.RunID] + 1
	if evt.Seq != expected {
		gap = &SeqGap{RunID: evt.RunID, Reason: "seq gap", Expected: expected, Received: evt.Seq}
	}
	b.lastSeq[evt.RunID] = evt.Seq
	b.mu.Unlock()

	if gap != nil {
		slog.Warn("agent.seq_gap", "run", evt.RunID, "expected", gap.Expected, "received", gap.Received)
		b.pub.Broadcast(Event{Name: protocol.EventAgent, Payload: AgentEvent{
			RunID:  evt.RunID,
			Stream: StreamError,
			Ts:     b.opts.now().UnixMilli(),
			Data: map[string]interface{}{
				"reason":   gap.Reason,
				"expected": gap.Expected,
				"received": gap.Received,
			},
		}})
	}

	// Tool-stream events are broadcast only under verbose; everything
	// still reaches the owning session.
	suppressToolBroadcast := evt.Stream == StreamTool && b.opts.Verbose != nil && !b.opts.Verbose(link.SessionKey)
	if !suppressToolBroadcast {
		b.pub.Broadcast(Event{Name: protocol.EventAgent, Payload: evt, DropIfSlow: evt.Stream == StreamAssistant})
	}
	if link.SessionKey != "" && b.opts.SendToSession != nil {
		b.opts.SendToSession(link.SessionKey, protocol.EventAgent, evt)
	}

	switch evt.Stream {
	case StreamAssistant:
		b.handleAssistant(evt, link)
	case StreamLifecycle:
		b.handleLifecycle(evt, link)
	}
}

// resolveLink peeks the chat link FIFO for the event's session,
// falling back to the resolver and finally to the event's own fields.
func (b *AgentBus) resolveLink(evt AgentEvent) ChatLink {
	b.mu.Lock()
	queue := b.chatLinks[evt.SessionID]
	if len(queue) > 0 {
		link := queue[0]
		b.mu.Unlock()
		return link
	}
	b.mu.Unlock()

	if b.opts.Resolve != nil {
		if link, ok := b.opts.Resolve(evt.RunID, evt.SessionID); ok {
			return link
		}
	}
	return ChatLink{SessionKey: evt.SessionKey, ClientRunID: evt.RunID}
}

func (b *AgentBus) handleAssistant(evt AgentEvent, link ChatLink) {
	text, _ := evt.Data["text"].(string)

	b.mu.Lock()
	buf := b.buffers[link.ClientRunID]
	if buf == nil {
		buf = &chatBuffer{mediaSeen: make(map[string]struct{})}
		b.buffers[link.ClientRunID] = buf
	}
	if text != "" {
		// Assistant deltas carry the accumulated text so far; the buffer
		// keeps the latest view.
		buf.text = text
	}
	collectMediaURLs(evt.Data, buf)

	now := b.opts.now()
	throttled := now.Sub(b.lastDelta[evt.RunID]) < b.opts.DeltaInterval
	if !throttled {
		b.lastDelta[evt.RunID] = now
	}
	payload := ChatEvent{
		RunID:      link.ClientRunID,
		SessionKey: link.SessionKey,
		State:      protocol.ChatStateDelta,
		Message:    buf.text,
		MediaURLs:  append([]string(nil), buf.mediaURLs...),
	}
	b.mu.Unlock()

	if throttled {
		return
	}
	b.emitChat(link, payload, true)
}

func (b *AgentBus) handleLifecycle(evt AgentEvent, link ChatLink) {
	phase, _ := evt.Data["phase"].(string)
	if phase != protocol.LifecycleEnd && phase != protocol.LifecycleError && phase != protocol.LifecycleAborted {
		return
	}

	b.mu.Lock()
	_, wasAborted := b.aborted[evt.RunID]
	buf := b.buffers[link.ClientRunID]

	// Run teardown: buffers, throttle state, seq tracking, the consumed
	// chat link, and the abort flag all go together.
	delete(b.buffers, link.ClientRunID)
	delete(b.lastDelta, evt.RunID)
	delete(b.lastSeq, evt.RunID)
	delete(b.aborted, evt.RunID)
	if queue := b.chatLinks[evt.SessionID]; len(queue) > 0 && queue[0] == link {
		if len(queue) == 1 {
			delete(b.chatLinks, evt.SessionID)
		} else {
			b.chatLinks[evt.SessionID] = queue[1:]
		}
	}
	b.mu.Unlock()

	if wasAborted || phase == protocol.LifecycleAborted {
		slog.Debug("agent.run_drained", "run", evt.RunID)
		return
	}

	payload := ChatEvent{
		RunID:      link.ClientRunID,
		SessionKey: link.SessionKey,
		State:      protocol.ChatStateFinal,
	}
	if buf != nil {
		payload.Message = buf.text
		payload.MediaURLs = buf.mediaURLs
	}
	if phase == protocol.LifecycleError {
		payload.State = protocol.ChatStateError
		if msg, ok := evt.Data["error"].(string); ok {
			payload.Error = msg
		}
	}
	b.emitChat(link, payload, false)
}

// emitChat broadcasts a chat event (unless the run is a suppressed
// heartbeat) and always unicasts it to the owning session.
func (b *AgentBus) emitChat(link ChatLink, payload ChatEvent, dropIfSlow bool) {
	suppressed := link.Heartbeat && b.opts.ShowHeartbeatOK != nil && !b.opts.ShowHeartbeatOK()
	if !suppressed {
		b.pub.Broadcast(Event{Name: protocol.EventChat, Payload: payload, DropIfSlow: dropIfSlow})
	}
	if link.SessionKey != "" && b.opts.SendToSession != nil {
		b.opts.SendToSession(link.SessionKey, protocol.EventChat, payload)
	}
}

// collectMediaURLs gathers urls from data.mediaUrls and
// data.images[].{url,imageUrl}, deduplicating by trimmed string.
func collectMediaURLs(data map[string]interface{}, buf *chatBuffer) {
	add := func(raw interface{}) {
		s, ok := raw.(string)
		if !ok {
			return
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, seen := buf.mediaSeen[s]; seen {
			return
		}
		buf.mediaSeen[s] = struct{}{}
		buf.mediaURLs = append(buf.mediaURLs, s)
	}

	if urls, ok := data["mediaUrls"].([]interface{}); ok {
		for _, u := range urls {
			add(u)
		}
	}
	if images, ok := data["images"].([]interface{}); ok {
		for _, img := range images {
			m, ok := img.(map[string]interface{})
			if !ok {
				continue
			}
			add(m["url"])
			add(m["imageUrl"])
		}
	}
}
