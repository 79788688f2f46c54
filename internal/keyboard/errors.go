package keyboard

import "errors"

var (
	// ErrUnknownKey is returned for key ids missing from the layout.
	ErrUnknownKey = errors.New("unknown key")

	// ErrNoKeyForChar is returned by Type for characters no key produces.
	ErrNoKeyForChar = errors.New("no key for character")

	// ErrModifiersLatched is returned by Type while a modifier is latched.
	ErrModifiersLatched = errors.New("modifiers latched")
)
