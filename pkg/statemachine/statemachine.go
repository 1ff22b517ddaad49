package statemachine

import (
	"sync"
)

// Machine is a thread-safe finite state machine over string-like state and
// event types. Transitions are declared up front with Allow; Fire moves the
// machine along a declared transition and rejects everything else.
type Machine[S ~string, E ~string] struct {
	initial     S
	current     S
	transitions map[S]map[E]S
	observers   []Observer[S, E]
	mu          sync.RWMutex
}

// Observer is notified after every successful transition. It runs with the
// machine unlocked, so it may call Current.
type Observer[S ~string, E ~string] func(from, to S, event E)

// New creates a machine positioned at initial.
func New[S ~string, E ~string](initial S) *Machine[S, E] {
	return &Machine[S, E]{
		initial:     initial,
		current:     initial,
		transitions: make(map[S]map[E]S),
	}
}

// Allow declares that event moves the machine from each of froms to to.
// A later declaration for the same (from, event) pair replaces the earlier one.
func (m *Machine[S, E]) Allow(event E, to S, froms ...S) *Machine[S, E] {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, from := range froms {
		if _, ok := m.transitions[from]; !ok {
			m.transitions[from] = make(map[E]S)
		}
		m.transitions[from][event] = to
	}
	return m
}

// Observe registers fn to be called after each transition.
func (m *Machine[S, E]) Observe(fn Observer[S, E]) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func (m *Machine[S, E]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanFire reports whether event has a declared transition from the current state.
func (m *Machine[S, E]) CanFire(event E) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.transitions[m.current][event]
	return ok
}

// Fire applies event and returns the new state.
func (m *Machine[S, E]) Fire(event E) (S, error) {
	m.mu.Lock()
	from := m.current
	to, ok := m.transitions[from][event]
	if !ok {
		m.mu.Unlock()
		return from, NewErrNoTransitionAvailable(string(from), string(event))
	}
	m.current = to
	observers := m.observers
	m.mu.Unlock()

	for _, fn := range observers {
		fn(from, to, event)
	}
	return to, nil
}

// Reset puts the machine back in its initial state without notifying
// observers.
func (m *Machine[S, E]) Reset() {
	m.mu.Lock()
	m.current = m.initial
	m.mu.Unlock()
}
