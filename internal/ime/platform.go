package ime

import (
	"context"
	"errors"
)

// Handle identifies the externally focused context (a window handle, an
// input-context object path). It is opaque to the engine and only compared
// for equality.
type Handle string

// ErrUnsupported is returned by backends on platforms without IME access.
var ErrUnsupported = errors.New("ime: not supported on this platform")

// ContextReader reads the true language mode of a focused context.
type ContextReader interface {
	ReadState(ctx context.Context, h Handle) (Mode, error)
}

// Toggler issues the physical language-switch gesture.
type Toggler interface {
	Toggle(ctx context.Context) error
}

// FocusProvider reports the currently focused context.
type FocusProvider interface {
	CurrentContext(ctx context.Context) (Handle, error)
}

// Platform bundles the three collaborators a backend provides.
type Platform interface {
	ContextReader
	Toggler
	FocusProvider

	// Name returns the backend name (e.g., "ibus", "imm", "static").
	Name() string

	// Close releases OS resources held by the backend.
	Close() error
}

// PlatformConfig configures OS backends.
type PlatformConfig struct {
	// Backend selects the backend: "auto", "ibus", "imm" or "static".
	Backend string

	// IBusLatinEngine and IBusHangulEngine name the two IBus engines the
	// Linux backend switches between.
	IBusLatinEngine  string
	IBusHangulEngine string
}

// DefaultPlatformConfig returns the configuration used when none is given.
func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		Backend:          "auto",
		IBusLatinEngine:  "xkb:us::eng",
		IBusHangulEngine: "hangul",
	}
}

// OpenPlatform returns the backend selected by cfg. "auto" picks the native
// backend of the running OS.
func OpenPlatform(cfg PlatformConfig) (Platform, error) {
	switch cfg.Backend {
	case "static":
		return NewStatic(English), nil
	case "", "auto":
		return openNative(cfg)
	default:
		return openNamed(cfg)
	}
}
