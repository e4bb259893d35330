package status

import (
	"testing"
	"time"

	"github.com/kyodoai/dealdesk/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{AuthRequired, Ready, Degraded, Ready, AuthRequired}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s) error = %v", s, err)
		}
		if m.Current() != s {
			t.Errorf("Current() = %s, want %s", m.Current(), s)
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)

	// Booting cannot jump straight to Degraded.
	if err := m.Transition(Degraded); err == nil {
		t.Error("Transition(Degraded) from Booting should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state changed on invalid transition: %s", m.Current())
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Booting); err != nil {
		t.Fatalf("self transition error = %v", err)
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event for self transition: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(AuthRequired); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if change.From != Booting || change.To != AuthRequired {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

func TestErrorRecoversViaBooting(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Error); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Ready); err == nil {
		t.Error("Error -> Ready should be invalid")
	}
	if err := m.Transition(Booting); err != nil {
		t.Errorf("Error -> Booting error = %v", err)
	}
}
