//go:build linux

package inject

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// uinput ioctls and event types, from linux/uinput.h and
// linux/input-event-codes.h.
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiDevSetup   = 0x405c5503
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565

	evSyn     = 0x00
	evKey     = 0x01
	synReport = 0

	busVirtual = 0x06
	deviceName = "nestkbd virtual keyboard"
)

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type uinputSetup struct {
	ID           inputID
	Name         [80]byte
	FFEffectsMax uint32
}

type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// UInput injects events through a virtual keyboard created on /dev/uinput.
type UInput struct {
	mu sync.Mutex
	f  *os.File
}

func openNative(codes []Code) (Injector, error) {
	return NewUInput(codes)
}

func openNamed(backend string, codes []Code) (Injector, error) {
	switch backend {
	case "uinput":
		return NewUInput(codes)
	default:
		return nil, ErrUnsupported
	}
}

// NewUInput creates a virtual keyboard able to send every code in codes.
func NewUInput(codes []Code) (*UInput, error) {
	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("inject: open /dev/uinput (is the uinput module loaded?): %w", err)
	}
	u := &UInput{f: f}

	if err := u.ioctl(uiSetEvBit, evKey); err != nil {
		f.Close()
		return nil, fmt.Errorf("inject: enable key events: %w", err)
	}
	for _, c := range codes {
		if c.Evdev == 0 {
			continue
		}
		if err := u.ioctl(uiSetKeyBit, uintptr(c.Evdev)); err != nil {
			f.Close()
			return nil, fmt.Errorf("inject: register key %s: %w", c.Name, err)
		}
	}

	setup := uinputSetup{ID: inputID{Bustype: busVirtual, Vendor: 0x1, Product: 0x1, Version: 1}}
	copy(setup.Name[:], deviceName)
	if err := u.ioctl(uiDevSetup, uintptr(unsafe.Pointer(&setup))); err != nil {
		f.Close()
		return nil, fmt.Errorf("inject: device setup: %w", err)
	}
	if err := u.ioctl(uiDevCreate, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("inject: create device: %w", err)
	}
	return u, nil
}

func (u *UInput) Press(c Code) error { return u.send(c, 1) }

func (u *UInput) Release(c Code) error { return u.send(c, 0) }

func (u *UInput) send(c Code, value int32) error {
	if c.Evdev == 0 {
		return fmt.Errorf("%w: %s", ErrNoCode, c.Name)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return os.ErrClosed
	}
	if err := u.write(evKey, c.Evdev, value); err != nil {
		return fmt.Errorf("inject: %s: %w", c.Name, err)
	}
	return u.write(evSyn, synReport, 0)
}

func (u *UInput) write(typ, code uint16, value int32) error {
	ev := inputEvent{Type: typ, Code: code, Value: value}
	return binary.Write(u.f, binary.LittleEndian, &ev)
}

func (u *UInput) ioctl(req, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, u.f.Fd(), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func (u *UInput) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return nil
	}
	_ = u.ioctl(uiDevDestroy, 0)
	err := u.f.Close()
	u.f = nil
	return err
}

var _ Injector = (*UInput)(nil)
