// Package state owns the canonical connection state and validates every
// transition against a fixed table.
package state

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Authenticating
	Authenticated
	Ready
	Timeout
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Authenticating:
		return "AUTHENTICATING"
	case Authenticated:
		return "AUTHENTICATED"
	case Ready:
		return "READY"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidTransition is returned when a transition is not in the table.
// The state is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the fixed table of allowed (from, to) pairs. Any state may
// fall back to Disconnected or Timeout; those edges are handled separately.
var transitions = map[State][]State{
	Disconnected:   {Connecting},
	Connecting:     {Connected},
	Connected:      {Authenticating, Authenticated}, // direct to Authenticated on session resume
	Authenticating: {Authenticated},
	Authenticated:  {Ready},
	Ready:          {},
	Timeout:        {Connecting},
}

// allowed reports whether from -> to is a legal transition.
func allowed(from, to State) bool {
	if to == Disconnected || to == Timeout {
		return from != to
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine validates and applies state transitions and notifies an observer
// of every applied change. It is safe for concurrent use.
type Machine struct {
	notifyMu sync.Mutex // serializes observer callbacks in transition order
	mu       sync.Mutex
	current  State
	onEnter  func(from, to State)
}

// NewMachine creates a machine in the Disconnected state. The onEnter
// callback, if non-nil, is invoked for every applied transition after the
// state lock is released, so observers may read the machine; they must not
// transition it.
func NewMachine(onEnter func(from, to State)) *Machine {
	return &Machine{current: Disconnected, onEnter: onEnter}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Is reports whether the machine is in any of the given states.
func (m *Machine) Is(states ...State) bool {
	cur := m.Current()
	for _, s := range states {
		if cur == s {
			return true
		}
	}
	return false
}

// To transitions to the target state. Illegal transitions are rejected with
// ErrInvalidTransition and the state does not change.
func (m *Machine) To(target State) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if !allowed(m.current, target) {
		err := fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, target)
		m.mu.Unlock()
		return err
	}
	from := m.current
	m.current = target
	m.mu.Unlock()

	if m.onEnter != nil {
		m.onEnter(from, target)
	}
	return nil
}

// ToIf transitions to target only if the machine is currently in the
// expected state. Returns true if the transition was applied.
func (m *Machine) ToIf(expected, target State) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.current != expected || !allowed(m.current, target) {
		m.mu.Unlock()
		return false
	}
	from := m.current
	m.current = target
	m.mu.Unlock()

	if m.onEnter != nil {
		m.onEnter(from, target)
	}
	return true
}
