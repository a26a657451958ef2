package runner

import (
	"fmt"
	"sync"
)

// State is the lifecycle of one trigger's handler set.
//
//	IDLE -> DISPATCHED -> ALL_SUCCEEDED | ONE_OR_MORE_FAILED -> DONE
type State string

const (
	StateIdle            State = "IDLE"
	StateDispatched      State = "DISPATCHED"
	StateAllSucceeded    State = "ALL_SUCCEEDED"
	StateOneOrMoreFailed State = "ONE_OR_MORE_FAILED"
	StateDone            State = "DONE"
)

// IsTerminal reports whether no further transition is allowed from s.
func IsTerminal(s State) bool { return s == StateDone }

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateDispatched
	case StateDispatched:
		return to == StateAllSucceeded || to == StateOneOrMoreFailed
	case StateAllSucceeded, StateOneOrMoreFailed:
		return to == StateDone
	default:
		return false
	}
}

// machine records every state a run passes through.
type machine struct {
	mu      sync.Mutex
	current State
	history []State
}

func newMachine() *machine {
	return &machine{current: StateIdle, history: []State{StateIdle}}
}

// transition moves from -> to. The expected prior state makes misuse visible.
func (m *machine) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != from {
		return fmt.Errorf("invalid transition: expected %s, got %s", from, m.current)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	m.current = to
	m.history = append(m.history, to)
	return nil
}

func (m *machine) snapshot() (State, []State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := make([]State, len(m.history))
	copy(h, m.history)
	return m.current, h
}
