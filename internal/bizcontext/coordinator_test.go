package bizcontext

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nlowell/bizsock/internal/connection"
	"github.com/nlowell/bizsock/internal/events"
	"github.com/nlowell/bizsock/internal/protocol"
)

// stubHandler counts lifecycle calls and optionally carries state.
type stubHandler struct {
	mu          sync.Mutex
	activates   int
	deactivates int
	events      int
	state       State
	activateErr error
	slow        time.Duration
}

func (s *stubHandler) Activate(ctx context.Context, opts map[string]any) error {
	if s.slow > 0 {
		time.Sleep(s.slow)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activateErr != nil {
		return s.activateErr
	}
	s.activates++
	return nil
}

func (s *stubHandler) Deactivate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivates++
	return nil
}

func (s *stubHandler) HandleEvent(ctx context.Context, ev Event) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
	return Result{"handled": ev.Type}, nil
}

func (s *stubHandler) ExportState() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *stubHandler) ImportState(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

func (s *stubHandler) counts() (activates, deactivates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activates, s.deactivates
}

// recordTransport captures broadcast frames.
type recordTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordTransport) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
	return nil
}

func (r *recordTransport) Ping(time.Time) error { return nil }
func (r *recordTransport) Close(string) error   { return nil }
func (r *recordTransport) Open() bool           { return true }
func (r *recordTransport) RemoteAddr() string   { return "test" }

func (r *recordTransport) messages(t *testing.T) []*protocol.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*protocol.Message
	for _, f := range r.frames {
		msg, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func newTestCoordinator() (*Coordinator, *connection.Registry) {
	bus := events.NewBus(slog.Default())
	reg := connection.NewRegistry(bus, slog.Default())
	return NewCoordinator(reg, bus, slog.Default()), reg
}

func TestCoordinator_StartUnknownContext(t *testing.T) {
	coord, _ := newTestCoordinator()

	err := coord.Start(context.Background(), "dental", nil)
	if !errors.Is(err, ErrUnknownContext) {
		t.Errorf("err = %v, want ErrUnknownContext", err)
	}
}

func TestCoordinator_SwitchAlreadyActive(t *testing.T) {
	coord, _ := newTestCoordinator()
	dental := &stubHandler{}
	coord.Register("dental", dental)

	if err := coord.Start(context.Background(), "dental", nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	res, err := coord.Switch(context.Background(), "dental", nil, "test")
	if err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	if !res.AlreadyActive {
		t.Error("expected AlreadyActive")
	}

	activates, deactivates := dental.counts()
	if activates != 1 || deactivates != 0 {
		t.Errorf("activates=%d deactivates=%d, want 1/0 (no re-run)", activates, deactivates)
	}
}

func TestCoordinator_SwitchUnknownTarget(t *testing.T) {
	coord, _ := newTestCoordinator()
	coord.Register("dental", &stubHandler{})
	coord.Start(context.Background(), "dental", nil)

	_, err := coord.Switch(context.Background(), "bakery", nil, "test")
	if !errors.Is(err, ErrUnknownContext) {
		t.Errorf("err = %v, want ErrUnknownContext", err)
	}
	if coord.Active() != "dental" {
		t.Errorf("Active = %q, want dental (no state change)", coord.Active())
	}
}

func TestCoordinator_SwitchHandoff(t *testing.T) {
	coord, reg := newTestCoordinator()
	dental := &stubHandler{state: State{"patients": float64(12)}}
	pizza := &stubHandler{}
	coord.Register("dental", dental)
	coord.Register("pizza", pizza)
	coord.Start(context.Background(), "dental", nil)

	tr := &recordTransport{}
	id := reg.Accept(tr, "", "dental")

	res, err := coord.Switch(context.Background(), "pizza", map[string]any{"oven": "on"}, id)
	if err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	if res.From != "dental" || res.To != "pizza" {
		t.Errorf("result = %+v, want dental→pizza", res)
	}

	// Ordered handoff: deactivate A, carry state, activate B.
	if _, d := dental.counts(); d != 1 {
		t.Errorf("dental deactivates = %d, want 1", d)
	}
	if a, _ := pizza.counts(); a != 1 {
		t.Errorf("pizza activates = %d, want 1", a)
	}
	pizza.mu.Lock()
	carried := pizza.state
	pizza.mu.Unlock()
	if carried["patients"] != float64(12) {
		t.Errorf("carried state = %v, want patients=12", carried)
	}

	// Every connection observes the new label and exactly one broadcast.
	info, _ := reg.Get(id)
	if info.Context != "pizza" {
		t.Errorf("connection context = %q, want pizza", info.Context)
	}

	var switched []*protocol.Message
	for _, m := range tr.messages(t) {
		if m.Type == protocol.TypeContextSwitched {
			switched = append(switched, m)
		}
	}
	if len(switched) != 1 {
		t.Fatalf("context_switched broadcasts = %d, want 1", len(switched))
	}
	if switched[0].Data["from"] != "dental" || switched[0].Data["to"] != "pizza" {
		t.Errorf("broadcast data = %v, want from dental to pizza", switched[0].Data)
	}
}

func TestCoordinator_ActivateFailureRestoresPrevious(t *testing.T) {
	coord, _ := newTestCoordinator()
	dental := &stubHandler{}
	broken := &stubHandler{activateErr: errors.New("no dough")}
	coord.Register("dental", dental)
	coord.Register("pizza", broken)
	coord.Start(context.Background(), "dental", nil)

	_, err := coord.Switch(context.Background(), "pizza", nil, "test")
	if !errors.Is(err, ErrSwitchFailed) {
		t.Errorf("err = %v, want ErrSwitchFailed", err)
	}
	if coord.Active() != "dental" {
		t.Errorf("Active = %q, want dental after failed switch", coord.Active())
	}
}

func TestCoordinator_ConcurrentSwitchesSerialize(t *testing.T) {
	coord, _ := newTestCoordinator()
	dental := &stubHandler{}
	pizza := &stubHandler{slow: 50 * time.Millisecond}
	coord.Register("dental", dental)
	coord.Register("pizza", pizza)
	coord.Start(context.Background(), "dental", nil)

	var wg sync.WaitGroup
	wg.Add(2)

	// First switch dental→pizza holds the switch mutex while pizza
	// activates slowly; the second (pizza→dental) queues behind it.
	go func() {
		defer wg.Done()
		coord.Switch(context.Background(), "pizza", nil, "first")
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		coord.Switch(context.Background(), "dental", nil, "second")
	}()

	wg.Wait()

	if coord.Active() != "dental" {
		t.Errorf("final Active = %q, want dental", coord.Active())
	}
	if got := coord.Switches(); got != 2 {
		t.Errorf("completed switches = %d, want 2", got)
	}
}

func TestCoordinator_HandleEvent(t *testing.T) {
	coord, _ := newTestCoordinator()
	dental := &stubHandler{}
	coord.Register("dental", dental)
	coord.Start(context.Background(), "dental", nil)

	res, err := coord.HandleEvent(context.Background(), Event{Type: "appointment_booked"})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if res["handled"] != "appointment_booked" {
		t.Errorf("result = %v, want handled=appointment_booked", res)
	}
}

func TestCoordinator_HandleEventNoActiveContext(t *testing.T) {
	coord, _ := newTestCoordinator()

	_, err := coord.HandleEvent(context.Background(), Event{Type: "x"})
	if !errors.Is(err, ErrNoActiveContext) {
		t.Errorf("err = %v, want ErrNoActiveContext", err)
	}
}
