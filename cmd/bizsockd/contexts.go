package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nlowell/bizsock/internal/bizcontext"
)

// loggingContext is the built-in business context used when no external
// handler module is plugged in. It logs lifecycle transitions, echoes
// events, and carries a simple counter across switches via state
// export/import.
type loggingContext struct {
	label  string
	logger *slog.Logger

	mu     sync.Mutex
	active bool
	events int
}

func newLoggingContext(label string, logger *slog.Logger) *loggingContext {
	return &loggingContext{label: label, logger: logger}
}

func (c *loggingContext) Activate(_ context.Context, opts map[string]any) error {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()

	c.logger.Info("context activated", "context", c.label, "options", opts)
	return nil
}

func (c *loggingContext) Deactivate(context.Context) error {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()

	c.logger.Info("context deactivated", "context", c.label)
	return nil
}

func (c *loggingContext) HandleEvent(_ context.Context, ev bizcontext.Event) (bizcontext.Result, error) {
	c.mu.Lock()
	c.events++
	count := c.events
	c.mu.Unlock()

	c.logger.Info("business event",
		"context", c.label,
		"event_type", ev.Type,
		"client_id", ev.ClientID,
		"total_events", count,
	)
	return bizcontext.Result{
		"context":   c.label,
		"eventType": ev.Type,
		"handled":   true,
	}, nil
}

func (c *loggingContext) ExportState() (bizcontext.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bizcontext.State{"events": c.events}, nil
}

func (c *loggingContext) ImportState(state bizcontext.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := state["events"].(int); ok {
		c.events = n
	}
	return nil
}
