// Package keystate implements the validated interaction state machine that
// every on-screen key owns.
//
// A key is always in exactly one State. Moves between states are checked
// against a fixed transition table; anything outside the table is rejected
// with ErrInvalidTransition and leaves the machine untouched:
//
//	Normal   → Hover, Pressed, Disabled
//	Hover    → Normal, Pressed, Disabled
//	Pressed  → Normal, Hover, Locked, Disabled
//	Locked   → Normal, Disabled
//	Disabled → Normal
//
// Every accepted transition pushes the vacated state onto a bounded history
// and notifies the callbacks registered for both the vacated and the entered
// state.
package keystate

import (
	"errors"
	"fmt"
)

// State is the interaction state of a single key.
type State int

const (
	Normal State = iota
	Hover
	Pressed
	Locked
	Disabled
)

// States lists every state in declaration order.
var States = []State{Normal, Hover, Pressed, Locked, Disabled}

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Hover:
		return "hover"
	case Pressed:
		return "pressed"
	case Locked:
		return "locked"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	return s >= Normal && s <= Disabled
}

// ParseState parses a state name as produced by String.
func ParseState(name string) (State, error) {
	for _, s := range States {
		if s.String() == name {
			return s, nil
		}
	}
	return Normal, fmt.Errorf("unknown key state %q", name)
}

// ErrInvalidTransition is matched by every *TransitionError.
var ErrInvalidTransition = errors.New("invalid key state transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid key state transition %s -> %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) succeed.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// table is the fixed transition table. It is never mutated after init.
var table = map[State]map[State]bool{
	Normal:   {Hover: true, Pressed: true, Disabled: true},
	Hover:    {Normal: true, Pressed: true, Disabled: true},
	Pressed:  {Normal: true, Hover: true, Locked: true, Disabled: true},
	Locked:   {Normal: true, Disabled: true},
	Disabled: {Normal: true},
}

// Allowed reports whether the table permits from → to.
func Allowed(from, to State) bool {
	return table[from][to]
}
