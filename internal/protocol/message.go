package protocol

import (
	"strings"
	"time"
)

// ProtocolVersion is the wire protocol version spoken by this server.
// Clients must match the major component; minor/patch are ignored.
const ProtocolVersion = "1.0.0"

// Message is the single wire format: one JSON document per frame.
type Message struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	MessageID     string         `json:"messageId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	ClientID      string         `json:"clientId,omitempty"`
	TargetClient  string         `json:"targetClient,omitempty"`
	Room          string         `json:"room,omitempty"`
}

// Built-in message types. The registry is data, so deployments may add more
// via Registry.RegisterType without touching this file.
const (
	TypeSocketSwitch    = "socket_switch"
	TypeSocketStatus    = "socket_status"
	TypeBusinessEvent   = "business_event"
	TypeClientJoin      = "client_join"
	TypeClientLeave     = "client_leave"
	TypeRoomJoin        = "room_join"
	TypeRoomLeave       = "room_leave"
	TypeBroadcast       = "broadcast"
	TypeError           = "error"
	TypeHeartbeat       = "heartbeat"
	TypeAck             = "ack"
	TypeContextSwitched = "context_switched"
	TypeMemberJoined    = "member_joined"
	TypeMemberLeft      = "member_left"
)

// NewMessage builds a message of the given type with the current timestamp
// and server protocol version.
func NewMessage(msgType string, data map[string]any) *Message {
	return &Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Version:   ProtocolVersion,
	}
}

// MajorCompatible reports whether the given version string has the same
// major component as ProtocolVersion. Minor and patch are ignored.
func MajorCompatible(version string) bool {
	return majorOf(version) == majorOf(ProtocolVersion) && majorOf(version) != ""
}

func majorOf(version string) string {
	major, _, _ := strings.Cut(version, ".")
	return major
}
