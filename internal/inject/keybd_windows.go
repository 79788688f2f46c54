//go:build windows

package inject

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const (
	keyEventFExtendedKey = 0x0001
	keyEventFKeyUp       = 0x0002
)

var (
	user32         = windows.NewLazySystemDLL("user32.dll")
	procKeybdEvent = user32.NewProc("keybd_event")
)

// extended lists virtual keys that need KEYEVENTF_EXTENDEDKEY.
var extended = map[uint16]bool{
	0x21: true, 0x22: true, 0x23: true, 0x24: true, // page up/down, end, home
	0x25: true, 0x26: true, 0x27: true, 0x28: true, // arrows
	0x2D: true, 0x2E: true, // insert, delete
	0x5B: true, 0x5C: true, // windows keys
}

// KeybdEvent injects keys with user32 keybd_event.
type KeybdEvent struct{}

func openNative(codes []Code) (Injector, error) {
	return NewKeybdEvent()
}

func openNamed(backend string, codes []Code) (Injector, error) {
	switch backend {
	case "keybd_event":
		return NewKeybdEvent()
	default:
		return nil, ErrUnsupported
	}
}

func NewKeybdEvent() (*KeybdEvent, error) {
	if err := procKeybdEvent.Find(); err != nil {
		return nil, fmt.Errorf("inject: %w", err)
	}
	return &KeybdEvent{}, nil
}

func (k *KeybdEvent) Press(c Code) error { return k.send(c, 0) }

func (k *KeybdEvent) Release(c Code) error { return k.send(c, keyEventFKeyUp) }

func (k *KeybdEvent) send(c Code, flags uintptr) error {
	if c.VK == 0 {
		return fmt.Errorf("%w: %s", ErrNoCode, c.Name)
	}
	if extended[c.VK] {
		flags |= keyEventFExtendedKey
	}
	procKeybdEvent.Call(uintptr(c.VK), 0, flags, 0)
	return nil
}

func (k *KeybdEvent) Close() error { return nil }

var _ Injector = (*KeybdEvent)(nil)
