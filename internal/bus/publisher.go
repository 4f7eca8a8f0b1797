package bus

import "sync"

// Publisher is the process-local EventPublisher. Broadcast iterates a
// stable snapshot of subscribers so handlers may subscribe or
// unsubscribe reentrantly without deadlocking.
type Publisher struct {
	mu   sync.RWMutex
	subs map[string]EventHandler
}

// New creates an empty publisher.
func New() *Publisher {
	return &Publisher{subs: make(map[string]EventHandler)}
}

// Subscribe registers a handler under id, replacing any previous one.
func (p *Publisher) Subscribe(id string, handler EventHandler) {
	p.mu.Lock()
	p.subs[id] = handler
	p.mu.Unlock()
}

// Unsubscribe removes the handler registered under id.
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	delete(p.subs, id)
	p.mu.Unlock()
}

// Broadcast delivers the event to every subscriber, in-line. Handlers
// are expected to enqueue, not block.
func (p *Publisher) Broadcast(event Event) {
	p.mu.RLock()
	handlers := make([]EventHandler, 0, len(p.subs))
	for _, h := range p.subs {
		handlers = append(handlers, h)
	}
	p.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
