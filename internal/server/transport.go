package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a gorilla websocket connection to the registry's
// Transport interface. Writes are serialized; gorilla allows only one
// concurrent writer.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Send writes one text frame.
func (t *wsTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a liveness probe control frame.
func (t *wsTransport) Ping(deadline time.Time) error {
	return t.conn.WriteControl(websocket.PingMessage, []byte("liveness"), deadline)
}

// Close attempts a normal close handshake, then closes the socket.
// Idempotent.
func (t *wsTransport) Close(reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

// Open reports whether the transport can still send.
func (t *wsTransport) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// RemoteAddr returns the peer address.
func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
