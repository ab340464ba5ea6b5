package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nlowell/bizsock/internal/events"
	"github.com/nlowell/bizsock/internal/protocol"
)

// route is one registered handler entry.
type route struct {
	handler Handler
	opts    RouteOptions
	seq     int // registration order, breaks priority ties
}

// Router dispatches protocol messages to registered handlers.
type Router struct {
	cfg      Config
	logger   *slog.Logger
	bus      *events.Bus
	registry *protocol.Registry

	// Routing table
	tableMu sync.RWMutex
	routes  map[string][]route
	global  []Middleware
	regSeq  int

	// Deferred delivery
	queue *boundedQueue

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	statsMu  sync.Mutex
	routed   int64
	unrouted int64
	rejected int64
	failed   int64
	retried  int64
}

// New creates a Message Router.
func New(cfg Config, registry *protocol.Registry, bus *events.Bus, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		registry: registry,
		routes:   make(map[string][]route),
		queue:    newBoundedQueue(cfg.QueueCapacity),
	}
}

// Start launches the queue drain loop.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.drainLoop()

	r.logger.Info("message router started",
		"queue_capacity", r.cfg.QueueCapacity,
		"retry_attempts", r.cfg.RetryAttempts,
		"retry_delay", r.cfg.RetryDelay,
	)
	return nil
}

// Stop clears pending work and shuts the drain loop down.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if dropped := r.queue.Clear(); dropped > 0 {
		r.logger.Warn("dropped pending queued messages", "count", dropped)
	}
	r.queue.Close()
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}
	return nil
}

// AddRoute registers a handler for a message type. Handlers for the same
// type run in descending priority order, registration order within ties.
func (r *Router) AddRoute(msgType string, h Handler, opts RouteOptions) {
	r.tableMu.Lock()
	defer r.tableMu.Unlock()

	r.routes[msgType] = append(r.routes[msgType], route{
		handler: h,
		opts:    opts,
		seq:     r.regSeq,
	})
	r.regSeq++

	sort.SliceStable(r.routes[msgType], func(i, j int) bool {
		a, b := r.routes[msgType][i], r.routes[msgType][j]
		if a.opts.Priority != b.opts.Priority {
			return a.opts.Priority > b.opts.Priority
		}
		return a.seq < b.seq
	})
}

// Use appends a pipeline-wide middleware step, run before type routing in
// registration order.
func (r *Router) Use(mw Middleware) {
	r.tableMu.Lock()
	defer r.tableMu.Unlock()
	r.global = append(r.global, mw)
}

// Route validates and dispatches one message synchronously. Unknown types
// are not an error: they emit message_unrouted and return nil. Critical
// middleware failures abort the pipeline and surface to the caller.
func (r *Router) Route(ctx context.Context, msg *protocol.Message, rc *RouteContext) error {
	if rc == nil {
		rc = &RouteContext{}
	}

	if res := r.registry.Validate(msg); !res.Valid {
		r.count(&r.rejected)
		return protocol.NewError(protocol.CodeInvalidMessage, strings.Join(res.Errors, "; "))
	}

	global, routes := r.snapshot(msg.Type)

	for _, mw := range global {
		if err := mw(ctx, msg, rc); err != nil {
			if IsCritical(err) {
				r.count(&r.rejected)
				r.bus.Emit(events.RouteError, map[string]any{
					"type":     msg.Type,
					"senderId": rc.SenderID,
					"error":    err.Error(),
					"critical": true,
				})
				return err
			}
			r.logger.Warn("middleware failed, continuing", "type", msg.Type, "error", err)
		}
	}

	if len(routes) == 0 {
		r.count(&r.unrouted)
		r.bus.Emit(events.MessageUnrouted, map[string]any{
			"type":     msg.Type,
			"senderId": rc.SenderID,
		})
		return nil
	}

	var firstErr error
	for _, rt := range routes {
		err := r.runRoute(ctx, msg, rc, rt)
		if err == nil {
			continue
		}
		if IsCritical(err) {
			r.count(&r.rejected)
			r.bus.Emit(events.RouteError, map[string]any{
				"type":     msg.Type,
				"senderId": rc.SenderID,
				"error":    err.Error(),
				"critical": true,
			})
			return err
		}
		r.logger.Warn("route handler failed", "type", msg.Type, "error", err)
		r.bus.Emit(events.RouteError, map[string]any{
			"type":     msg.Type,
			"senderId": rc.SenderID,
			"error":    err.Error(),
		})
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	r.count(&r.routed)
	r.bus.Emit(events.MessageRouted, map[string]any{
		"type":     msg.Type,
		"senderId": rc.SenderID,
		"deferred": rc.Deferred,
	})
	return nil
}

// runRoute runs one route's middleware chain and handler.
func (r *Router) runRoute(ctx context.Context, msg *protocol.Message, rc *RouteContext, rt route) error {
	for _, mw := range rt.opts.Middleware {
		if err := mw(ctx, msg, rc); err != nil {
			if IsCritical(err) {
				return err
			}
			r.logger.Warn("route middleware failed, continuing", "type", msg.Type, "error", err)
		}
	}
	return rt.handler(ctx, msg, rc)
}

// Enqueue defers delivery through the bounded queue. The drain loop
// dispatches through the same Route call, so ordering semantics match
// synchronous routing. Invalid messages are rejected here, before they
// enter the queue: only handler failures are retryable, never protocol
// failures.
func (r *Router) Enqueue(msg *protocol.Message, rc *RouteContext, priority int) error {
	if rc == nil {
		rc = &RouteContext{}
	}
	if res := r.registry.Validate(msg); !res.Valid {
		r.count(&r.rejected)
		return protocol.NewError(protocol.CodeInvalidMessage, strings.Join(res.Errors, "; "))
	}
	err := r.queue.Push(&task{msg: msg, rc: rc, priority: priority})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.Type, err)
	}
	return nil
}

// Clear drops all pending queued messages (bulk cancellation for shutdown).
func (r *Router) Clear() int {
	return r.queue.Clear()
}

// Stats returns current router statistics.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return Stats{
		Routed:     r.routed,
		Unrouted:   r.unrouted,
		Rejected:   r.rejected,
		Failed:     r.failed,
		Retried:    r.retried,
		QueueDepth: r.queue.Depth(),
	}
}

// drainLoop processes queued tasks one at a time.
func (r *Router) drainLoop() {
	defer r.wg.Done()

	for {
		t, ok := r.queue.Pop()
		if !ok {
			return
		}
		select {
		case <-r.ctx.Done():
			return
		default:
		}
		r.deliver(t)
	}
}

// deliver dispatches one queued task and applies the retry policy.
func (r *Router) deliver(t *task) {
	rc := t.rc
	rc.Deferred = true
	rc.Attempt = t.attempts

	err := r.Route(r.ctx, t.msg, rc)
	if err == nil {
		return
	}

	if !IsCritical(err) && r.retryable(t.msg.Type) && t.attempts < r.cfg.RetryAttempts {
		t.attempts++
		r.count(&r.retried)
		r.logger.Debug("requeueing failed delivery",
			"type", t.msg.Type,
			"attempt", t.attempts,
			"delay", r.cfg.RetryDelay,
		)

		timer := time.After(r.cfg.RetryDelay)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			select {
			case <-timer:
			case <-r.ctx.Done():
				return
			}
			if perr := r.queue.Push(t); perr != nil {
				r.dropTask(t, perr)
			}
		}()
		return
	}

	r.dropTask(t, err)
}

// dropTask records a task that exhausted delivery.
func (r *Router) dropTask(t *task, err error) {
	r.count(&r.failed)
	r.logger.Error("message delivery failed",
		"type", t.msg.Type,
		"attempts", t.attempts+1,
		"error", err,
	)
	r.bus.Emit(events.MessageFailed, map[string]any{
		"type":     t.msg.Type,
		"senderId": t.rc.SenderID,
		"attempts": t.attempts + 1,
		"error":    err.Error(),
	})
}

// retryable reports whether any route for the type opted into retries.
func (r *Router) retryable(msgType string) bool {
	r.tableMu.RLock()
	defer r.tableMu.RUnlock()
	for _, rt := range r.routes[msgType] {
		if rt.opts.RetryOnError {
			return true
		}
	}
	return false
}

func (r *Router) snapshot(msgType string) ([]Middleware, []route) {
	r.tableMu.RLock()
	defer r.tableMu.RUnlock()

	global := make([]Middleware, len(r.global))
	copy(global, r.global)
	routes := make([]route, len(r.routes[msgType]))
	copy(routes, r.routes[msgType])
	return global, routes
}

func (r *Router) count(field *int64) {
	r.statsMu.Lock()
	*field++
	r.statsMu.Unlock()
}
