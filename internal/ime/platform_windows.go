//go:build windows

package ime

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sys/windows"
)

const (
	vkHangul          = 0x15
	keyEventFKeyUp    = 0x0002
	wmIMEControl      = 0x0283
	imcGetOpenStatus  = 0x0005
	keyStateToggled   = 0x0001
	handleNumericBase = 16
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	imm32  = windows.NewLazySystemDLL("imm32.dll")

	procGetForegroundWindow = user32.NewProc("GetForegroundWindow")
	procGetKeyState         = user32.NewProc("GetKeyState")
	procKeybdEvent          = user32.NewProc("keybd_event")
	procSendMessageW        = user32.NewProc("SendMessageW")
	procImmGetDefaultIMEWnd = imm32.NewProc("ImmGetDefaultIMEWnd")
)

// IMM reads the open status of the foreground window's IME and toggles it
// with the Hangul key.
type IMM struct{}

func openNative(cfg PlatformConfig) (Platform, error) {
	return NewIMM()
}

func openNamed(cfg PlatformConfig) (Platform, error) {
	switch cfg.Backend {
	case "imm":
		return NewIMM()
	default:
		return nil, fmt.Errorf("ime: unknown backend %q", cfg.Backend)
	}
}

// NewIMM loads the user32 and imm32 entry points.
func NewIMM() (*IMM, error) {
	for _, p := range []*windows.LazyProc{
		procGetForegroundWindow, procGetKeyState, procKeybdEvent,
		procSendMessageW, procImmGetDefaultIMEWnd,
	} {
		if err := p.Find(); err != nil {
			return nil, fmt.Errorf("ime: %w", err)
		}
	}
	return &IMM{}, nil
}

func (*IMM) Name() string { return "imm" }

func (*IMM) Close() error { return nil }

// ReadState asks the context's default IME window for its open status.
// Without an IME window it falls back to the Hangul key toggle state.
func (*IMM) ReadState(ctx context.Context, h Handle) (Mode, error) {
	if err := ctx.Err(); err != nil {
		return English, err
	}
	hwnd, err := strconv.ParseUint(string(h), handleNumericBase, 64)
	if err != nil {
		return English, fmt.Errorf("ime: bad window handle %q: %w", h, err)
	}

	imeWnd, _, _ := procImmGetDefaultIMEWnd.Call(uintptr(hwnd))
	if imeWnd == 0 {
		state, _, _ := procGetKeyState.Call(vkHangul)
		if state&keyStateToggled != 0 {
			return Korean, nil
		}
		return English, nil
	}

	open, _, _ := procSendMessageW.Call(imeWnd, wmIMEControl, imcGetOpenStatus, 0)
	if open != 0 {
		return Korean, nil
	}
	return English, nil
}

// Toggle taps the Hangul key.
func (*IMM) Toggle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	procKeybdEvent.Call(vkHangul, 0, 0, 0)
	procKeybdEvent.Call(vkHangul, 0, keyEventFKeyUp, 0)
	return nil
}

// CurrentContext returns the foreground window handle.
func (*IMM) CurrentContext(ctx context.Context) (Handle, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return "", errors.New("ime: no foreground window")
	}
	return Handle(strconv.FormatUint(uint64(hwnd), handleNumericBase)), nil
}

var _ Platform = (*IMM)(nil)
