package status

import (
	"testing"

	"github.com/opsdesk/chatd/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Open},
		{Connecting, Reconnecting},
		{Open, Reconnecting},
		{Open, Disconnected},
		{Reconnecting, Connecting},
		{Reconnecting, Disconnected},
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
	if err := m.Transition(Open); err == nil {
		t.Error("Transition(DISCONNECTED -> OPEN) should fail")
	}
}

func TestReconnectCycle(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	steps := []State{Connecting, Open, Reconnecting, Connecting, Open}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}

	for i, want := range steps {
		evt := <-ch
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("event %d payload type %T", i, evt.Payload)
		}
		if change.To != want {
			t.Errorf("event %d: To = %s, want %s", i, change.To, want)
		}
	}
}

// walkTo drives the machine to the given state through valid transitions.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	var path []State
	switch target {
	case Disconnected:
		return
	case Connecting:
		path = []State{Connecting}
	case Open:
		path = []State{Connecting, Open}
	case Reconnecting:
		path = []State{Connecting, Reconnecting}
	}
	for _, s := range path {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
