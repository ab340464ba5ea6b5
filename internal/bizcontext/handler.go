package bizcontext

import (
	"context"
	"errors"
)

// Errors
var (
	ErrUnknownContext  = errors.New("unknown context")
	ErrNoActiveContext = errors.New("no active context")
	ErrSwitchFailed    = errors.New("context switch failed")
)

// Event is a business event dispatched to the active context handler.
type Event struct {
	Type     string
	Payload  map[string]any
	ClientID string
}

// Result is the handler's answer to a business event.
type Result map[string]any

// State is an opaque blob exported from one handler and imported into the
// next to preserve continuity across a switch.
type State map[string]any

// Handler is the capability set every business context must provide.
// Handlers are registered explicitly by label; there is no dynamic lookup.
type Handler interface {
	// Activate prepares the context to serve events.
	Activate(ctx context.Context, opts map[string]any) error

	// Deactivate tears the context down. A failing deactivate must not
	// block a handoff; the coordinator logs and continues.
	Deactivate(ctx context.Context) error

	// HandleEvent processes one business event.
	HandleEvent(ctx context.Context, ev Event) (Result, error)
}

// StateExporter is implemented by handlers that can hand their state to a
// successor during a switch.
type StateExporter interface {
	ExportState() (State, error)
}

// StateImporter is implemented by handlers that can receive a
// predecessor's state during a switch.
type StateImporter interface {
	ImportState(State) error
}
