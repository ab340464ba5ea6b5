package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
)

// Transport is the duplex channel underlying one connection. The WebSocket
// adapter lives in the server package; tests use in-memory fakes.
type Transport interface {
	// Send writes one encoded frame.
	Send(data []byte) error

	// Ping sends a liveness probe control frame.
	Ping(deadline time.Time) error

	// Close closes the transport, attempting to deliver the reason first.
	Close(reason string) error

	// Open reports whether the transport can still send.
	Open() bool

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// Info is a read-only snapshot of one connection record.
type Info struct {
	ID          string
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time
	LastSeen    time.Time
	Rooms       []string
	Context     string
}

// Stats summarizes registry state.
type Stats struct {
	Connections int
	Rooms       int
	SendErrors  int64
}

// conn is the registry-owned record for one live connection.
type conn struct {
	id           string
	transport    Transport
	remoteAddr   string
	userAgent    string
	connectedAt  time.Time
	lastSeen     time.Time
	rooms        map[string]struct{}
	contextLabel string
}
