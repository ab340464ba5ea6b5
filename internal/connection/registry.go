package connection

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nlowell/bizsock/internal/events"
	"github.com/nlowell/bizsock/internal/protocol"
)

// Registry tracks all live connections. It is the single owner of
// connection records; rooms hold ids, never the records themselves.
type Registry struct {
	logger *slog.Logger
	bus    *events.Bus

	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]struct{} // room name → member ids

	sendErrors int64
}

// NewRegistry creates an empty connection registry.
func NewRegistry(bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		bus:    bus,
		conns:  make(map[string]*conn),
		rooms:  make(map[string]map[string]struct{}),
	}
}

// Accept registers a new connection and returns its assigned id. The record
// starts with no rooms and the currently active context label.
func (r *Registry) Accept(t Transport, userAgent, activeContext string) string {
	c := &conn{
		id:           uuid.NewString(),
		transport:    t,
		remoteAddr:   t.RemoteAddr(),
		userAgent:    userAgent,
		connectedAt:  time.Now(),
		lastSeen:     time.Now(),
		rooms:        make(map[string]struct{}),
		contextLabel: activeContext,
	}

	r.mu.Lock()
	r.conns[c.id] = c
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("connection accepted",
		"conn_id", c.id,
		"remote_addr", c.remoteAddr,
		"context", activeContext,
		"total", total,
	)
	r.bus.Emit(events.Connected, map[string]any{
		"connId":     c.id,
		"remoteAddr": c.remoteAddr,
		"context":    activeContext,
	})

	return c.id
}

// Remove deregisters a connection, leaving every room it had joined.
// Idempotent: removing an unknown id is a no-op.
func (r *Registry) Remove(id, reason string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)

	// Cascade to room membership; collect remaining members for the
	// member_left notifications after the lock is released.
	type departure struct {
		room      string
		remaining []*conn
	}
	var departures []departure
	for room := range c.rooms {
		members := r.rooms[room]
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
			departures = append(departures, departure{room: room})
			continue
		}
		departures = append(departures, departure{room: room, remaining: r.membersLocked(room)})
	}
	r.mu.Unlock()

	c.transport.Close(reason)

	for _, d := range departures {
		if d.remaining == nil {
			r.logger.Debug("room deleted", "room", d.room)
			continue
		}
		left := protocol.NewMessage(protocol.TypeMemberLeft, map[string]any{
			"room":     d.room,
			"clientId": id,
		})
		r.fanOut(d.remaining, left, "member_left")
	}

	r.logger.Info("connection removed", "conn_id", id, "reason", reason)
	r.bus.Emit(events.Disconnected, map[string]any{
		"connId": id,
		"reason": reason,
	})
}

// TouchLiveness records an observed liveness response (pong or heartbeat).
func (r *Registry) TouchLiveness(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.lastSeen = time.Now()
	}
}

// Send delivers one message to one connection. Fails with ErrNotConnected
// if the connection is absent or its transport is closed; never retries.
func (r *Registry) Send(id string, msg *protocol.Message) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok || !c.transport.Open() {
		return ErrNotConnected
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.transport.Send(data); err != nil {
		return fmt.Errorf("send to %s: %w", id, err)
	}
	return nil
}

// Broadcast sends to every connection not in the exclusion set. Per-recipient
// failures are logged, never propagated.
func (r *Registry) Broadcast(msg *protocol.Message, exclude ...string) {
	r.fanOut(r.selectConns(func(*conn) bool { return true }, exclude), msg, "broadcast")
}

// BroadcastToRoom sends to every member of a room, minus exclusions.
func (r *Registry) BroadcastToRoom(room string, msg *protocol.Message, exclude ...string) {
	r.fanOut(r.selectConns(func(c *conn) bool {
		_, in := c.rooms[room]
		return in
	}, exclude), msg, "room broadcast")
}

// BroadcastToContext sends to every connection observing a context label.
func (r *Registry) BroadcastToContext(label string, msg *protocol.Message, exclude ...string) {
	r.fanOut(r.selectConns(func(c *conn) bool {
		return c.contextLabel == label
	}, exclude), msg, "context broadcast")
}

// SetContextAll updates the context label every live connection observes.
func (r *Registry) SetContextAll(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.contextLabel = label
	}
}

// Get returns a snapshot of one connection record.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return Info{}, false
	}
	return c.info(), true
}

// IdleSince returns ids of connections whose last observed liveness is
// older than the cutoff. Used by the server's liveness sweep.
func (r *Registry) IdleSince(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []string
	for id, c := range r.conns {
		if c.lastSeen.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

// EachTransport calls fn for every live connection's transport.
func (r *Registry) EachTransport(fn func(id string, t Transport)) {
	r.mu.RLock()
	pairs := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		pairs = append(pairs, c)
	}
	r.mu.RUnlock()

	for _, c := range pairs {
		fn(c.id, c.transport)
	}
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Connections: len(r.conns),
		Rooms:       len(r.rooms),
		SendErrors:  r.sendErrors,
	}
}

// selectConns snapshots matching connections under the read lock.
func (r *Registry) selectConns(match func(*conn) bool, exclude []string) []*conn {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*conn
	for id, c := range r.conns {
		if _, skip := excluded[id]; skip {
			continue
		}
		if match(c) {
			out = append(out, c)
		}
	}
	return out
}

// fanOut encodes once and delivers best-effort to each recipient.
func (r *Registry) fanOut(recipients []*conn, msg *protocol.Message, what string) {
	if len(recipients) == 0 {
		return
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encode failed", "what", what, "type", msg.Type, "error", err)
		return
	}

	for _, c := range recipients {
		if !c.transport.Open() {
			continue
		}
		if err := c.transport.Send(data); err != nil {
			r.mu.Lock()
			r.sendErrors++
			r.mu.Unlock()
			r.logger.Warn("send failed during fan-out",
				"what", what,
				"conn_id", c.id,
				"error", err,
			)
		}
	}
}

// membersLocked snapshots a room's member records. Caller holds r.mu.
func (r *Registry) membersLocked(room string) []*conn {
	members := r.rooms[room]
	out := make([]*conn, 0, len(members))
	for id := range members {
		if c, ok := r.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (c *conn) info() Info {
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	return Info{
		ID:          c.id,
		RemoteAddr:  c.remoteAddr,
		UserAgent:   c.userAgent,
		ConnectedAt: c.connectedAt,
		LastSeen:    c.lastSeen,
		Rooms:       rooms,
		Context:     c.contextLabel,
	}
}
