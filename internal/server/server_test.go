package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nlowell/bizsock/internal/bizcontext"
	"github.com/nlowell/bizsock/internal/connection"
	"github.com/nlowell/bizsock/internal/events"
	"github.com/nlowell/bizsock/internal/protocol"
	"github.com/nlowell/bizsock/internal/router"
)

// nopHandler is a business context that accepts everything.
type nopHandler struct{}

func (nopHandler) Activate(context.Context, map[string]any) error { return nil }
func (nopHandler) Deactivate(context.Context) error               { return nil }
func (nopHandler) HandleEvent(_ context.Context, ev bizcontext.Event) (bizcontext.Result, error) {
	return bizcontext.Result{"echo": ev.Type}, nil
}

type harness struct {
	server *Server
	bus    *events.Bus
	reg    *connection.Registry
	http   *httptest.Server
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	logger := slog.Default()
	bus := events.NewBus(logger)
	reg := connection.NewRegistry(bus, logger)
	rooms := connection.NewRooms(reg, logger)
	coord := bizcontext.NewCoordinator(reg, bus, logger)
	coord.Register("dental", nopHandler{})
	coord.Register("pizza", nopHandler{})
	if err := coord.Start(context.Background(), "dental", nil); err != nil {
		t.Fatalf("coordinator start: %v", err)
	}

	rt := router.New(router.DefaultConfig(), protocol.DefaultRegistry(), bus, logger)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("router start: %v", err)
	}
	t.Cleanup(func() { rt.Stop(context.Background()) })

	cfg.Addr = ":0" // tests talk through httptest, not this listener
	s := New(cfg, reg, rooms, coord, rt, logger)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("server start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &harness{server: s, bus: bus, reg: reg, http: ts}
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.InstanceID = "test"
	cfg.PingInterval = time.Hour // keep the sweep out of the way
	cfg.PongTimeout = 2 * time.Hour
	return cfg
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) (*protocol.Message, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("undecodable frame: %v", err)
	}
	return msg, true
}

// readUntil drains frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, ok := readMessage(t, conn, time.Until(deadline))
		if !ok {
			break
		}
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s message received", msgType)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, msg *protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestServer_StatusOnConnect(t *testing.T) {
	h := newHarness(t, quietConfig())
	conn := h.dial(t)

	status := readUntil(t, conn, protocol.TypeSocketStatus)
	if status.Data["activeContext"] != "dental" {
		t.Errorf("activeContext = %v, want dental", status.Data["activeContext"])
	}
	if id, _ := status.Data["clientId"].(string); id == "" {
		t.Error("clientId missing from status")
	}
	labels, _ := status.Data["availableContexts"].([]any)
	if len(labels) != 2 {
		t.Errorf("availableContexts = %v, want dental and pizza", labels)
	}
}

func TestServer_RoomBroadcastSelfExclusion(t *testing.T) {
	h := newHarness(t, quietConfig())

	c1 := h.dial(t)
	c2 := h.dial(t)
	readUntil(t, c1, protocol.TypeSocketStatus)
	readUntil(t, c2, protocol.TypeSocketStatus)

	join := func(conn *websocket.Conn) {
		send(t, conn, protocol.NewMessage(protocol.TypeRoomJoin, map[string]any{"room": "lobby"}))
		readUntil(t, conn, protocol.TypeAck)
	}
	join(c1)
	join(c2)

	send(t, c1, &protocol.Message{
		Type:      protocol.TypeBroadcast,
		Data:      map[string]any{"content": "hello lobby"},
		Room:      "lobby",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Version:   protocol.ProtocolVersion,
	})

	got := readUntil(t, c2, protocol.TypeBroadcast)
	if got.Data["content"] != "hello lobby" {
		t.Errorf("content = %v, want hello lobby", got.Data["content"])
	}

	// The sender must not hear its own broadcast. Drain whatever else is
	// pending (member_joined from c2's join) and check.
	for {
		msg, ok := readMessage(t, c1, 200*time.Millisecond)
		if !ok {
			break
		}
		if msg.Type == protocol.TypeBroadcast {
			t.Errorf("sender received its own broadcast: %+v", msg)
		}
	}
}

func TestServer_RoomBroadcastRequiresMembership(t *testing.T) {
	h := newHarness(t, quietConfig())

	c1 := h.dial(t)
	readUntil(t, c1, protocol.TypeSocketStatus)

	msg := protocol.NewMessage(protocol.TypeBroadcast, map[string]any{"content": "x"})
	msg.Room = "private"
	send(t, c1, msg)

	errMsg := readUntil(t, c1, protocol.TypeError)
	if code, _ := errMsg.Data["errorCode"].(float64); int(code) != protocol.CodePermissionDenied {
		t.Errorf("errorCode = %v, want %d", errMsg.Data["errorCode"], protocol.CodePermissionDenied)
	}
}

func TestServer_SocketSwitchBroadcastsOnce(t *testing.T) {
	h := newHarness(t, quietConfig())

	c1 := h.dial(t)
	c2 := h.dial(t)
	readUntil(t, c1, protocol.TypeSocketStatus)
	readUntil(t, c2, protocol.TypeSocketStatus)

	send(t, c1, protocol.NewMessage(protocol.TypeSocketSwitch, map[string]any{"context": "pizza"}))

	for _, conn := range []*websocket.Conn{c1, c2} {
		switched := readUntil(t, conn, protocol.TypeContextSwitched)
		if switched.Data["from"] != "dental" || switched.Data["to"] != "pizza" {
			t.Errorf("switch data = %v, want dental→pizza", switched.Data)
		}
	}

	// No second context_switched arrives.
	if msg, ok := readMessage(t, c2, 200*time.Millisecond); ok && msg.Type == protocol.TypeContextSwitched {
		t.Error("received a second context_switched broadcast")
	}
}

func TestServer_SwitchToUnknownContext(t *testing.T) {
	h := newHarness(t, quietConfig())

	c1 := h.dial(t)
	readUntil(t, c1, protocol.TypeSocketStatus)

	send(t, c1, protocol.NewMessage(protocol.TypeSocketSwitch, map[string]any{"context": "bakery"}))

	errMsg := readUntil(t, c1, protocol.TypeError)
	if code, _ := errMsg.Data["errorCode"].(float64); int(code) != protocol.CodeContextNotFound {
		t.Errorf("errorCode = %v, want %d", errMsg.Data["errorCode"], protocol.CodeContextNotFound)
	}
}

func TestServer_MalformedFrameGetsError(t *testing.T) {
	h := newHarness(t, quietConfig())

	c1 := h.dial(t)
	readUntil(t, c1, protocol.TypeSocketStatus)

	if err := c1.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	errMsg := readUntil(t, c1, protocol.TypeError)
	if code, _ := errMsg.Data["errorCode"].(float64); int(code) != protocol.CodeInvalidMessage {
		t.Errorf("errorCode = %v, want %d", errMsg.Data["errorCode"], protocol.CodeInvalidMessage)
	}
}

func TestServer_BusinessEventAck(t *testing.T) {
	h := newHarness(t, quietConfig())

	c1 := h.dial(t)
	readUntil(t, c1, protocol.TypeSocketStatus)

	ev := protocol.NewMessage(protocol.TypeBusinessEvent, map[string]any{"eventType": "appointment_booked"})
	ev.MessageID = "evt-1"
	send(t, c1, ev)

	ack := readUntil(t, c1, protocol.TypeAck)
	if ack.CorrelationID != "evt-1" {
		t.Errorf("CorrelationID = %q, want evt-1", ack.CorrelationID)
	}
	result, _ := ack.Data["result"].(map[string]any)
	if result["echo"] != "appointment_booked" {
		t.Errorf("result = %v, want echo=appointment_booked", result)
	}
}

func TestServer_BusinessEventInvalidRejected(t *testing.T) {
	h := newHarness(t, quietConfig())

	c1 := h.dial(t)
	readUntil(t, c1, protocol.TypeSocketStatus)

	// business_event without its required eventType field: rejected before
	// it enters the queue, sender notified, never retried.
	send(t, c1, protocol.NewMessage(protocol.TypeBusinessEvent, map[string]any{}))

	errMsg := readUntil(t, c1, protocol.TypeError)
	if code, _ := errMsg.Data["errorCode"].(float64); int(code) != protocol.CodeInvalidMessage {
		t.Errorf("errorCode = %v, want %d", errMsg.Data["errorCode"], protocol.CodeInvalidMessage)
	}
}

func TestServer_LivenessEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InstanceID = "test"
	cfg.PingInterval = 30 * time.Millisecond
	cfg.PongTimeout = 90 * time.Millisecond
	h := newHarness(t, cfg)

	var mu sync.Mutex
	disconnects := 0
	h.bus.Subscribe(events.Disconnected, func(events.Event) {
		mu.Lock()
		disconnects++
		mu.Unlock()
	})

	c1 := h.dial(t)
	// Swallow pings so the server sees no liveness responses.
	c1.SetPingHandler(func(string) error { return nil })
	readUntil(t, c1, protocol.TypeSocketStatus)

	send(t, c1, protocol.NewMessage(protocol.TypeRoomJoin, map[string]any{"room": "lonely"}))
	readUntil(t, c1, protocol.TypeAck)

	// Keep the client reading so swallowed pings are consumed, without
	// ever answering them.
	go func() {
		for {
			c1.SetReadDeadline(time.Now().Add(time.Second))
			if _, _, err := c1.ReadMessage(); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.reg.Stats().Connections == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := h.reg.Stats()
	if stats.Connections != 0 {
		t.Fatalf("connections = %d, want 0 after eviction", stats.Connections)
	}
	if stats.Rooms != 0 {
		t.Errorf("rooms = %d, want 0 (sole member evicted)", stats.Rooms)
	}

	mu.Lock()
	got := disconnects
	mu.Unlock()
	if got != 1 {
		t.Errorf("disconnected events = %d, want exactly 1", got)
	}
	if h.server.Stats().Evicted != 1 {
		t.Errorf("evicted = %d, want 1", h.server.Stats().Evicted)
	}
}
