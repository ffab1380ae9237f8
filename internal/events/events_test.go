package events

import (
	"testing"

	"github.com/postalsys/wirelink/internal/state"
)

func TestEmitOrder(t *testing.T) {
	b := NewBus()

	var got []Event
	b.Subscribe(func(e Event) { got = append(got, e) })

	b.Emit(Connected{})
	b.Emit(StateChange{From: state.Disconnected, To: state.Connecting})
	b.Emit(Ready{})

	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if _, ok := got[0].(Connected); !ok {
		t.Errorf("event 0 = %T", got[0])
	}
	sc, ok := got[1].(StateChange)
	if !ok || sc.To != state.Connecting {
		t.Errorf("event 1 = %#v", got[1])
	}
	if _, ok := got[2].(Ready); !ok {
		t.Errorf("event 2 = %T", got[2])
	}
}

func TestMultipleSubscribers(t *testing.T) {
	b := NewBus()

	var order []int
	b.Subscribe(func(Event) { order = append(order, 1) })
	b.Subscribe(func(Event) { order = append(order, 2) })

	b.Emit(Ready{})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("delivery order = %v", order)
	}
}

func TestReentrantSubscribe(t *testing.T) {
	b := NewBus()

	calls := 0
	b.Subscribe(func(Event) {
		calls++
		if calls == 1 {
			b.Subscribe(func(Event) { calls += 100 })
		}
	})

	b.Emit(Ready{}) // handler added mid-emit is not in this snapshot
	if calls != 1 {
		t.Fatalf("calls = %d after first emit, want 1", calls)
	}

	b.Emit(Ready{})
	if calls != 102 {
		t.Errorf("calls = %d after second emit, want 102", calls)
	}
}

func TestNilHandlerIgnored(t *testing.T) {
	b := NewBus()
	b.Subscribe(nil)
	b.Emit(Ready{}) // must not panic
}
