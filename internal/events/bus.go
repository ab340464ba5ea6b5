// Package events provides typed best-effort event fan-out.
//
// The event bus:
//   - Exposes a fixed set of server event kinds to observers
//   - Delivers synchronously in subscription order
//   - Recovers and logs a panicking listener rather than propagating it
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies a server event stream.
type Kind string

const (
	Connected             Kind = "connected"
	Disconnected          Kind = "disconnected"
	ContextSwitched       Kind = "context_switched"
	BusinessEventReceived Kind = "business_event_received"
	MessageRouted         Kind = "message_routed"
	MessageUnrouted       Kind = "message_unrouted"
	MessageFailed         Kind = "message_failed"
	RouteError            Kind = "route_error"
)

// Event is a single occurrence delivered to listeners.
type Event struct {
	Kind   Kind
	At     time.Time
	Fields map[string]any
}

// Listener receives events for the kind it subscribed to.
type Listener func(Event)

// Bus fans events out to per-kind observer lists.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[Kind][]Listener
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:    logger,
		listeners: make(map[Kind][]Listener),
	}
}

// Subscribe registers a listener for one event kind.
func (b *Bus) Subscribe(kind Kind, fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[kind] = append(b.listeners[kind], fn)
}

// Emit delivers an event to every listener of its kind. Delivery is
// best-effort: a panicking listener is logged and the rest still run.
func (b *Bus) Emit(kind Kind, fields map[string]any) {
	b.mu.RLock()
	listeners := b.listeners[kind]
	b.mu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	ev := Event{Kind: kind, At: time.Now(), Fields: fields}
	for _, fn := range listeners {
		b.deliver(fn, ev)
	}
}

func (b *Bus) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "kind", ev.Kind, "panic", r)
		}
	}()
	fn(ev)
}
