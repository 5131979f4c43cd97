package status

import (
	"testing"

	"github.com/DERELya/instaking-chat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Idle, Closed},
		{Connecting, Connected},
		{Connecting, Reconnecting},
		{Connecting, Offline},
		{Connected, Reconnecting},
		{Reconnecting, Connecting},
		{Reconnecting, Offline},
		{Offline, Connecting},
		{Closed, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(IDLE -> CONNECTED) should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
	}
}

// TestConnectLifecycle simulates a clean first connection:
// IDLE → CONNECTING → CONNECTED
func TestConnectLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

// TestReconnectCycle verifies the loop a dropped connection drives:
// CONNECTED → RECONNECTING → CONNECTING → CONNECTED
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	steps := []State{Reconnecting, Connecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

// TestRetryBudgetExhaustion verifies the path into OFFLINE and that a
// later Connect can leave it again.
func TestRetryBudgetExhaustion(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Reconnecting)

	if err := m.Transition(Offline); err != nil {
		t.Fatalf("RECONNECTING -> OFFLINE: %v", err)
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("OFFLINE -> CONNECTING: %v", err)
	}
}

// TestOfflineCannotSkipConnecting verifies OFFLINE never jumps straight
// back to CONNECTED; a fresh handshake is required.
func TestOfflineCannotSkipConnecting(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Reconnecting)
	if err := m.Transition(Offline); err != nil {
		t.Fatal(err)
	}

	if err := m.Transition(Connected); err == nil {
		t.Fatal("Transition(OFFLINE -> CONNECTED) should fail; must go through CONNECTING")
	}
	if m.Current() != Offline {
		t.Errorf("state = %s, want OFFLINE (should not have changed)", m.Current())
	}
}

// TestDisconnectFromAnyState verifies a local Disconnect is always
// legal.
func TestDisconnectFromAnyState(t *testing.T) {
	for _, from := range []State{Idle, Connecting, Connected, Reconnecting, Offline} {
		t.Run(string(from), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, from)
			if err := m.Transition(Closed); err != nil {
				t.Errorf("%s -> CLOSED: %v", from, err)
			}
		})
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:         {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Reconnecting: {Connecting, Connected, Reconnecting},
		Offline:      {Connecting, Reconnecting, Offline},
		Closed:       {Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
