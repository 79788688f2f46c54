package keystate

import (
	"fmt"
	"log/slog"
)

// Callback is invoked with the state the machine has just moved to.
type Callback func(next State)

// Machine is the state machine for one key.
//
// Machine is not safe for concurrent use; keys are mutated from the UI
// thread only.
type Machine struct {
	current   State
	history   history
	callbacks map[State][]Callback
	logger    *slog.Logger
}

// NewMachine returns a machine in the Normal state.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		current:   Normal,
		callbacks: make(map[State][]Callback),
		logger:    logger,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.current
}

// CanTransition reports whether moving to the given state is permitted from
// the current one. A move to the current state is always permitted.
func (m *Machine) CanTransition(to State) bool {
	if to == m.current {
		return true
	}
	return Allowed(m.current, to)
}

// Transition moves the machine to the given state.
//
// Moving to the current state is a no-op. A move outside the transition
// table returns a *TransitionError and leaves the machine unchanged.
func (m *Machine) Transition(to State) error {
	from := m.current
	if to == from {
		return nil
	}
	if !Allowed(from, to) {
		return &TransitionError{From: from, To: to}
	}

	m.history.push(from)
	m.current = to

	m.notify(from, to)
	m.notify(to, to)
	return nil
}

// Disable forces the machine into Disabled. Disabled is reachable from every
// state, so this never fails.
func (m *Machine) Disable() {
	// Disabled is in every row of the table.
	_ = m.Transition(Disabled)
}

// Enable moves Disabled back to Normal. It does nothing in any other state.
func (m *Machine) Enable() {
	if m.current != Disabled {
		return
	}
	_ = m.Transition(Normal)
}

// Restore puts the machine back into a previously observed state without
// recording history or notifying callbacks. It is the rollback half of the
// save/restore pattern used around Transition.
func (m *Machine) Restore(s State) {
	if !s.Valid() {
		return
	}
	m.current = s
}

// OnState registers cb to run whenever the machine leaves or enters s.
func (m *Machine) OnState(s State, cb Callback) {
	if cb == nil {
		return
	}
	m.callbacks[s] = append(m.callbacks[s], cb)
}

// History returns up to HistorySize previous states, oldest first.
func (m *Machine) History() []State {
	return m.history.items()
}

// notify runs the callbacks registered for s. A panicking callback is logged
// and does not stop the remaining ones.
func (m *Machine) notify(s, next State) {
	for _, cb := range m.callbacks[s] {
		m.invoke(s, cb, next)
	}
}

func (m *Machine) invoke(s State, cb Callback, next State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("key state callback panicked",
				"state", s.String(),
				"next", next.String(),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	cb(next)
}
