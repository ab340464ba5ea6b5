package bizcontext

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nlowell/bizsock/internal/connection"
	"github.com/nlowell/bizsock/internal/events"
	"github.com/nlowell/bizsock/internal/protocol"
)

// SwitchResult reports the outcome of a switch request.
type SwitchResult struct {
	From          string
	To            string
	AlreadyActive bool
}

// Coordinator owns the active business context. All reads and writes of
// the active label funnel through it; switches are mutually exclusive.
type Coordinator struct {
	logger *slog.Logger
	bus    *events.Bus
	reg    *connection.Registry

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	// switchMu serializes full four-state transitions; mu guards the
	// active label for readers.
	switchMu sync.Mutex
	mu       sync.RWMutex
	active   string

	switches int64
}

// NewCoordinator creates a coordinator with no registered contexts and no
// active context.
func NewCoordinator(reg *connection.Registry, bus *events.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:   logger,
		bus:      bus,
		reg:      reg,
		handlers: make(map[string]Handler),
	}
}

// Register adds a context handler under a label. Registration normally
// happens at startup but is allowed at any time.
func (c *Coordinator) Register(label string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[label] = h
}

// Labels returns all registered context labels, sorted.
func (c *Coordinator) Labels() []string {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()

	out := make([]string, 0, len(c.handlers))
	for label := range c.handlers {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Active returns the currently active context label ("" before Start).
func (c *Coordinator) Active() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Start activates the initial context. No deactivation or broadcast runs;
// there is no predecessor and no connections yet.
func (c *Coordinator) Start(ctx context.Context, initial string, opts map[string]any) error {
	h, ok := c.handler(initial)
	if !ok {
		return fmt.Errorf("initial context %q: %w", initial, ErrUnknownContext)
	}
	if err := h.Activate(ctx, opts); err != nil {
		return fmt.Errorf("activate initial context %q: %w", initial, err)
	}

	c.mu.Lock()
	c.active = initial
	c.mu.Unlock()

	c.logger.Info("initial context active", "context", initial)
	return nil
}

// Switch performs the ordered handoff to the target context. Switching to
// the active label is a no-op reported as AlreadyActive. Concurrent
// requests serialize: a request arriving while a switch is in flight waits
// for it and then observes its outcome.
func (c *Coordinator) Switch(ctx context.Context, target string, opts map[string]any, initiatedBy string) (SwitchResult, error) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	from := c.Active()
	if from == target {
		return SwitchResult{From: from, To: target, AlreadyActive: true}, nil
	}

	next, ok := c.handler(target)
	if !ok {
		return SwitchResult{}, fmt.Errorf("switch to %q: %w", target, ErrUnknownContext)
	}

	// Deactivating(from → target): best effort, a broken deactivate must
	// not block the handoff.
	var carried State
	if prev, ok := c.handler(from); ok {
		if err := prev.Deactivate(ctx); err != nil {
			c.logger.Warn("deactivate failed, continuing handoff", "context", from, "error", err)
		}
		if exporter, ok := prev.(StateExporter); ok {
			state, err := exporter.ExportState()
			if err != nil {
				c.logger.Warn("state export failed", "context", from, "error", err)
			} else {
				carried = state
			}
		}
	}

	if importer, ok := next.(StateImporter); ok && carried != nil {
		if err := importer.ImportState(carried); err != nil {
			c.logger.Warn("state import failed", "context", target, "error", err)
		}
	}

	// Activating(target): a failing activation aborts the switch; the
	// previous context is reactivated so the server is never left without
	// a working context.
	if err := next.Activate(ctx, opts); err != nil {
		if prev, ok := c.handler(from); ok {
			if rerr := prev.Activate(ctx, nil); rerr != nil {
				c.logger.Error("reactivation after failed switch also failed", "context", from, "error", rerr)
			}
		}
		return SwitchResult{}, fmt.Errorf("activate %q: %v: %w", target, err, ErrSwitchFailed)
	}

	c.mu.Lock()
	c.active = target
	c.switches++
	c.mu.Unlock()

	c.reg.SetContextAll(target)

	notice := protocol.NewMessage(protocol.TypeContextSwitched, map[string]any{
		"from":        from,
		"to":          target,
		"initiatedBy": initiatedBy,
	})
	c.reg.Broadcast(notice)

	c.logger.Info("context switched", "from", from, "to", target, "initiated_by", initiatedBy)
	c.bus.Emit(events.ContextSwitched, map[string]any{
		"from":        from,
		"to":          target,
		"initiatedBy": initiatedBy,
	})

	return SwitchResult{From: from, To: target}, nil
}

// HandleEvent dispatches a business event to the active context handler.
func (c *Coordinator) HandleEvent(ctx context.Context, ev Event) (Result, error) {
	label := c.Active()
	h, ok := c.handler(label)
	if !ok {
		return nil, ErrNoActiveContext
	}

	c.bus.Emit(events.BusinessEventReceived, map[string]any{
		"context":   label,
		"eventType": ev.Type,
		"clientId":  ev.ClientID,
	})

	result, err := h.HandleEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("context %q event %q: %w", label, ev.Type, err)
	}
	return result, nil
}

// Switches returns how many completed switches have run.
func (c *Coordinator) Switches() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.switches
}

func (c *Coordinator) handler(label string) (Handler, bool) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	h, ok := c.handlers[label]
	return h, ok
}
