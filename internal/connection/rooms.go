package connection

import (
	"log/slog"
	"sort"

	"github.com/nlowell/bizsock/internal/protocol"
)

// Rooms is the Room Directory: room names mapped to member connection
// sets. It shares the registry's mutex, so a membership change updates
// both sides of the relation in one critical section.
type Rooms struct {
	reg    *Registry
	logger *slog.Logger
}

// NewRooms creates the room directory over a registry.
func NewRooms(reg *Registry, logger *slog.Logger) *Rooms {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rooms{reg: reg, logger: logger}
}

// Join adds a connection to a room, creating the room on first join.
// Joining a room twice is a no-op. Existing members (not the joiner) are
// notified with a member_joined message.
func (d *Rooms) Join(connID, room string) error {
	r := d.reg

	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return ErrNotConnected
	}
	if _, already := c.rooms[room]; already {
		r.mu.Unlock()
		return nil
	}

	// Notify the members present before this join.
	existing := r.membersLocked(room)

	members := r.rooms[room]
	if members == nil {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[connID] = struct{}{}
	c.rooms[room] = struct{}{}
	size := len(members)
	r.mu.Unlock()

	d.logger.Info("room joined", "room", room, "conn_id", connID, "members", size)

	if len(existing) > 0 {
		joined := protocol.NewMessage(protocol.TypeMemberJoined, map[string]any{
			"room":     room,
			"clientId": connID,
		})
		r.fanOut(existing, joined, "member_joined")
	}
	return nil
}

// Leave removes a connection from a room and deletes the room if it is now
// empty. Remaining members are notified with a member_left message. Leaving
// a room the connection is not in is a no-op.
func (d *Rooms) Leave(connID, room string) error {
	r := d.reg

	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return ErrNotConnected
	}
	if _, member := c.rooms[room]; !member {
		r.mu.Unlock()
		return nil
	}

	delete(c.rooms, room)
	delete(r.rooms[room], connID)

	var remaining []*conn
	if len(r.rooms[room]) == 0 {
		delete(r.rooms, room)
	} else {
		remaining = r.membersLocked(room)
	}
	r.mu.Unlock()

	if remaining == nil {
		d.logger.Info("room deleted", "room", room, "last_member", connID)
	} else {
		d.logger.Info("room left", "room", room, "conn_id", connID, "members", len(remaining))
		left := protocol.NewMessage(protocol.TypeMemberLeft, map[string]any{
			"room":     room,
			"clientId": connID,
		})
		r.fanOut(remaining, left, "member_left")
	}
	return nil
}

// MembersOf returns the member connection ids of a room, sorted. An unknown
// room yields an empty slice.
func (d *Rooms) MembersOf(room string) []string {
	r := d.reg

	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Names returns all current room names, sorted.
func (d *Rooms) Names() []string {
	r := d.reg

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
