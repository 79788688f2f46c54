// Package inject synthesizes hardware-level key events.
package inject

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned when no native injector exists for the
	// running OS.
	ErrUnsupported = errors.New("inject: not supported on this platform")

	// ErrNoCode is returned for a key without a code for the backend.
	ErrNoCode = errors.New("inject: key has no code for this backend")
)

// Code identifies a physical key on every backend.
type Code struct {
	// Name is the key id, used in diagnostics.
	Name string

	// VK is the Windows virtual-key code.
	VK uint16

	// Evdev is the Linux input event code.
	Evdev uint16
}

func (c Code) String() string { return c.Name }

// Injector presses and releases keys at the OS level.
type Injector interface {
	Press(c Code) error
	Release(c Code) error
	Close() error
}

// Open returns the injector named by backend. "auto" picks the native one;
// "record" returns an in-memory Recorder. codes lists every key the
// injector may be asked to send; backends that must declare their keys up
// front use it.
func Open(backend string, codes []Code) (Injector, error) {
	switch backend {
	case "record":
		return NewRecorder(), nil
	case "", "auto":
		return openNative(codes)
	default:
		inj, err := openNamed(backend, codes)
		if err != nil {
			return nil, fmt.Errorf("inject: open %q: %w", backend, err)
		}
		return inj, nil
	}
}
