package state

import (
	"errors"
	"sync"
	"testing"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "DISCONNECTED"},
		{Connecting, "CONNECTING"},
		{Connected, "CONNECTED"},
		{Authenticating, "AUTHENTICATING"},
		{Authenticated, "AUTHENTICATED"},
		{Ready, "READY"},
		{Timeout, "TIMEOUT"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestHappyPath(t *testing.T) {
	var notified [][2]State
	m := NewMachine(func(from, to State) {
		notified = append(notified, [2]State{from, to})
	})

	path := []State{Connecting, Connected, Authenticating, Authenticated, Ready}
	for _, s := range path {
		if err := m.To(s); err != nil {
			t.Fatalf("To(%s): %v", s, err)
		}
	}

	if m.Current() != Ready {
		t.Errorf("Current = %s, want READY", m.Current())
	}
	if len(notified) != len(path) {
		t.Fatalf("got %d notifications, want %d", len(notified), len(path))
	}
	if notified[0] != [2]State{Disconnected, Connecting} {
		t.Errorf("first notification = %v", notified[0])
	}
	if notified[4] != [2]State{Authenticated, Ready} {
		t.Errorf("last notification = %v", notified[4])
	}
}

func TestResumePath(t *testing.T) {
	m := NewMachine(nil)

	for _, s := range []State{Connecting, Connected, Authenticated} {
		if err := m.To(s); err != nil {
			t.Fatalf("To(%s): %v", s, err)
		}
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connected},
		{Disconnected, Ready},
		{Connecting, Authenticating},
		{Connecting, Ready},
		{Connected, Ready},
		{Authenticating, Ready},
		{Ready, Authenticated},
		{Ready, Connecting},
		{Disconnected, Disconnected},
	}

	for _, tt := range tests {
		m := &Machine{current: tt.from}
		err := m.To(tt.to)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("To(%s -> %s) err = %v, want ErrInvalidTransition", tt.from, tt.to, err)
		}
		if m.Current() != tt.from {
			t.Errorf("state changed on rejected transition: %s", m.Current())
		}
	}
}

func TestAnyStateToDisconnectedAndTimeout(t *testing.T) {
	for _, from := range []State{Connecting, Connected, Authenticating, Authenticated, Ready, Timeout} {
		m := &Machine{current: from}
		if err := m.To(Disconnected); err != nil {
			t.Errorf("To(%s -> DISCONNECTED): %v", from, err)
		}
	}
	for _, from := range []State{Disconnected, Connecting, Connected, Authenticating, Authenticated, Ready} {
		m := &Machine{current: from}
		if err := m.To(Timeout); err != nil {
			t.Errorf("To(%s -> TIMEOUT): %v", from, err)
		}
	}
}

func TestTimeoutRecovery(t *testing.T) {
	m := &Machine{current: Timeout}
	if err := m.To(Connecting); err != nil {
		t.Errorf("To(TIMEOUT -> CONNECTING): %v", err)
	}
}

func TestToIf(t *testing.T) {
	m := &Machine{current: Authenticated}

	if !m.ToIf(Authenticated, Ready) {
		t.Error("ToIf(Authenticated, Ready) = false")
	}
	if m.Current() != Ready {
		t.Errorf("Current = %s", m.Current())
	}

	// Expected state no longer matches.
	if m.ToIf(Authenticated, Ready) {
		t.Error("ToIf applied from wrong state")
	}
}

func TestIs(t *testing.T) {
	m := &Machine{current: Ready}
	if !m.Is(Authenticated, Ready) {
		t.Error("Is(Authenticated, Ready) = false")
	}
	if m.Is(Disconnected, Connecting) {
		t.Error("Is matched wrong states")
	}
}

func TestObserverMayReadDuringNotify(t *testing.T) {
	// Observers run outside the state lock, so reading the machine from the
	// callback must not deadlock and must see the applied state.
	var seen []State
	var m *Machine
	m = NewMachine(func(from, to State) {
		seen = append(seen, m.Current())
	})

	for _, s := range []State{Connecting, Connected} {
		if err := m.To(s); err != nil {
			t.Fatalf("To(%s): %v", s, err)
		}
	}
	if !m.ToIf(Connected, Authenticating) {
		t.Fatal("ToIf(Connected, Authenticating) = false")
	}

	want := []State{Connecting, Connected, Authenticating}
	if len(seen) != len(want) {
		t.Fatalf("observer ran %d times, want %d", len(seen), len(want))
	}
	for i, s := range want {
		if seen[i] != s {
			t.Errorf("observer read %s after transition %d, want %s", seen[i], i, s)
		}
	}
}

func TestConcurrentTransitions(t *testing.T) {
	// Many goroutines race Disconnected -> Connecting; exactly one wins.
	m := NewMachine(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.ToIf(Disconnected, Connecting) {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("%d goroutines applied the transition, want 1", applied)
	}
	if m.Current() != Connecting {
		t.Errorf("Current = %s, want CONNECTING", m.Current())
	}
}
