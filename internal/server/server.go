package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nlowell/bizsock/internal/bizcontext"
	"github.com/nlowell/bizsock/internal/connection"
	"github.com/nlowell/bizsock/internal/protocol"
	"github.com/nlowell/bizsock/internal/router"
	"github.com/nlowell/bizsock/internal/version"
)

// Config holds Session Server settings.
type Config struct {
	InstanceID   string
	Addr         string
	WSPath       string
	WriteTimeout time.Duration
	ReadLimit    int64
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8090",
		WSPath:       "/ws",
		WriteTimeout: 5 * time.Second,
		ReadLimit:    1 << 20,
		PingInterval: 15 * time.Second,
		PongTimeout:  45 * time.Second,
	}
}

// Stats contains runtime server statistics.
type Stats struct {
	Accepted int64
	Evicted  int64
}

// Server accepts WebSocket connections, feeds inbound frames to the
// Message Router, and evicts connections that stop answering liveness
// probes.
type Server struct {
	cfg    Config
	logger *slog.Logger

	reg    *connection.Registry
	rooms  *connection.Rooms
	coord  *bizcontext.Coordinator
	router *router.Router

	upgrader   websocket.Upgrader
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	accepted int64
	evicted  int64
}

// New creates a Session Server and registers the built-in routes.
func New(cfg Config, reg *connection.Registry, rooms *connection.Rooms, coord *bizcontext.Coordinator, rt *router.Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		reg:    reg,
		rooms:  rooms,
		coord:  coord,
		router: rt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authentication is a collaborator's concern; accept any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler serving the WebSocket endpoint and
// the health/status endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start begins serving and launches the liveness sweep.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}

	s.wg.Add(1)
	go s.sweepLoop()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Info("session server started",
		"addr", s.cfg.Addr,
		"ws_path", s.cfg.WSPath,
		"ping_interval", s.cfg.PingInterval,
		"pong_timeout", s.cfg.PongTimeout,
	)
	return nil
}

// Stop stops accepting, closes every connection with a close frame, and
// waits for read loops to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping session server")

	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown incomplete", "error", err)
		}
	}

	s.reg.EachTransport(func(id string, _ connection.Transport) {
		s.reg.Remove(id, "server shutting down")
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("session server stopped")
	case <-ctx.Done():
		s.logger.Warn("session server stop timed out")
	}
	return nil
}

// Stats returns current server statistics.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Accepted: s.accepted, Evicted: s.evicted}
}

// handleWS upgrades one HTTP request to a connection and runs its read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	t := newWSTransport(conn, s.cfg.WriteTimeout)
	id := s.reg.Accept(t, r.UserAgent(), s.coord.Active())

	conn.SetPongHandler(func(string) error {
		s.reg.TouchLiveness(id)
		return nil
	})

	s.mu.Lock()
	s.accepted++
	s.mu.Unlock()

	s.sendStatus(id)

	s.wg.Add(1)
	go s.readLoop(id, conn)
}

// sendStatus delivers the initial status message: the assigned connection
// id, the active context, and the known context labels.
func (s *Server) sendStatus(id string) {
	status := protocol.NewMessage(protocol.TypeSocketStatus, map[string]any{
		"clientId":          id,
		"activeContext":     s.coord.Active(),
		"availableContexts": s.coord.Labels(),
		"serverVersion":     version.Version,
	})
	status.TargetClient = id

	if err := s.reg.Send(id, status); err != nil {
		s.logger.Warn("initial status send failed", "conn_id", id, "error", err)
	}
}

// readLoop decodes inbound frames and hands them to the router. Messages
// from one connection are routed in arrival order.
func (s *Server) readLoop(id string, conn *websocket.Conn) {
	defer s.wg.Done()
	defer s.reg.Remove(id, "connection closed")

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "conn_id", id, "error", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.sendError(id, protocol.CodeInvalidMessage, err.Error(), nil)
			continue
		}

		// Stamp the sender; clients cannot speak for each other.
		msg.ClientID = id

		// Business events go through the bounded queue so failed handler
		// calls are retried; everything else routes synchronously.
		rc := &router.RouteContext{SenderID: id}
		if msg.Type == protocol.TypeBusinessEvent {
			if err := s.router.Enqueue(msg, rc, priorityDefault); err != nil {
				s.sendError(id, protocol.CodeOf(err), err.Error(), msg)
			}
			continue
		}
		if err := s.router.Route(s.ctx, msg, rc); err != nil {
			s.sendError(id, protocol.CodeOf(err), err.Error(), msg)
		}
	}
}

// sendError notifies the originating connection that its own request was
// rejected or failed. Failures here are logged only; the peer may already
// be gone.
func (s *Server) sendError(id string, code int, message string, original *protocol.Message) {
	if err := s.reg.Send(id, protocol.NewErrorMessage(code, message, original)); err != nil {
		s.logger.Debug("error notification undeliverable", "conn_id", id, "error", err)
	}
}

// sweepLoop probes every open connection at a fixed interval and evicts
// connections silent past the pong timeout. A pending probe has no explicit
// cancellation; the next sweep supersedes it.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts dead connections, then probes the survivors.
func (s *Server) sweep() {
	cutoff := time.Now().Add(-s.cfg.PongTimeout)
	for _, id := range s.reg.IdleSince(cutoff) {
		s.logger.Warn("evicting unresponsive connection", "conn_id", id)
		s.reg.Remove(id, "liveness timeout")
		s.mu.Lock()
		s.evicted++
		s.mu.Unlock()
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	s.reg.EachTransport(func(id string, t connection.Transport) {
		if err := t.Ping(deadline); err != nil {
			s.logger.Debug("liveness probe failed", "conn_id", id, "error", err)
		}
	})
}

// handleHealth reports instance status and component statistics.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	regStats := s.reg.Stats()
	body := map[string]any{
		"status":        "ok",
		"instance":      s.cfg.InstanceID,
		"version":       version.String(),
		"activeContext": s.coord.Active(),
		"contexts":      s.coord.Labels(),
		"connections":   regStats.Connections,
		"rooms":         regStats.Rooms,
		"router":        s.router.Stats(),
		"server":        s.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
