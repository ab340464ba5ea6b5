package events

import (
	"log/slog"
	"testing"
)

func TestBus_SubscribeEmit(t *testing.T) {
	bus := NewBus(slog.Default())

	var got []Event
	bus.Subscribe(Connected, func(ev Event) {
		got = append(got, ev)
	})

	bus.Emit(Connected, map[string]any{"connId": "c-1"})
	bus.Emit(Disconnected, map[string]any{"connId": "c-1"})

	if len(got) != 1 {
		t.Fatalf("listener calls = %d, want 1", len(got))
	}
	if got[0].Fields["connId"] != "c-1" {
		t.Errorf("connId = %v, want c-1", got[0].Fields["connId"])
	}
}

func TestBus_ListenerPanicDoesNotPropagate(t *testing.T) {
	bus := NewBus(slog.Default())

	bus.Subscribe(MessageFailed, func(Event) {
		panic("boom")
	})

	calls := 0
	bus.Subscribe(MessageFailed, func(Event) {
		calls++
	})

	bus.Emit(MessageFailed, nil)

	if calls != 1 {
		t.Errorf("second listener calls = %d, want 1", calls)
	}
}

func TestBus_EmitWithoutListeners(t *testing.T) {
	bus := NewBus(nil)
	bus.Emit(RouteError, map[string]any{"error": "unhandled"})
}
