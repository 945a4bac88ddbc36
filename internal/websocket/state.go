package websocket

import (
	"fmt"
	"slices"
	"sync"
)

// State is the lifecycle stage of a duplex session.
type State string

const (
	Unauthenticated State = "UNAUTHENTICATED"
	Authenticated   State = "AUTHENTICATED"
	Closed          State = "CLOSED"
)

var validTransitions = map[State][]State{
	Unauthenticated: {Authenticated, Closed},
	Authenticated:   {Closed},
	Closed:          {},
}

type machine struct {
	mu      sync.RWMutex
	current State
}

func newMachine() *machine {
	return &machine{current: Unauthenticated}
}

func (m *machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to the given state, or fails when the table forbids it.
func (m *machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to
	return nil
}
