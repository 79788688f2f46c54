//go:build linux

package ime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// IBus bus names.
const (
	ibusService   = "org.freedesktop.IBus"
	ibusPath      = dbus.ObjectPath("/org/freedesktop/IBus")
	ibusInterface = "org.freedesktop.IBus"
)

// IBus talks to the IBus daemon over its private D-Bus. The Korean mode is
// the Hangul engine being the global engine; a toggle switches between the
// Latin and Hangul engines.
type IBus struct {
	cfg PlatformConfig

	mu   sync.Mutex
	conn *dbus.Conn
	obj  dbus.BusObject
}

func openNative(cfg PlatformConfig) (Platform, error) {
	return NewIBus(cfg)
}

func openNamed(cfg PlatformConfig) (Platform, error) {
	switch cfg.Backend {
	case "ibus":
		return NewIBus(cfg)
	default:
		return nil, fmt.Errorf("ime: unknown backend %q", cfg.Backend)
	}
}

// NewIBus connects to the IBus daemon. The address comes from IBUS_ADDRESS
// or `ibus address`; the session bus is used when neither is available.
func NewIBus(cfg PlatformConfig) (*IBus, error) {
	if cfg.IBusLatinEngine == "" || cfg.IBusHangulEngine == "" {
		def := DefaultPlatformConfig()
		cfg.IBusLatinEngine, cfg.IBusHangulEngine = def.IBusLatinEngine, def.IBusHangulEngine
	}

	conn, err := connectIBus()
	if err != nil {
		return nil, fmt.Errorf("ime: connect to ibus: %w", err)
	}
	return &IBus{
		cfg:  cfg,
		conn: conn,
		obj:  conn.Object(ibusService, ibusPath),
	}, nil
}

func connectIBus() (*dbus.Conn, error) {
	addr := os.Getenv("IBUS_ADDRESS")
	if addr == "" {
		if out, err := exec.Command("ibus", "address").Output(); err == nil {
			addr = strings.TrimSpace(string(out))
		}
	}
	if addr == "" || addr == "(null)" {
		return dbus.SessionBus()
	}

	conn, err := dbus.Dial(addr)
	if err != nil {
		return nil, err
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (b *IBus) Name() string { return "ibus" }

func (b *IBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// ReadState reports Korean when the global engine is the Hangul engine. The
// IBus global engine is shared by all contexts, so h is not consulted.
func (b *IBus) ReadState(ctx context.Context, h Handle) (Mode, error) {
	name, err := b.globalEngine(ctx)
	if err != nil {
		return English, err
	}
	if name == b.cfg.IBusHangulEngine {
		return Korean, nil
	}
	return English, nil
}

// Toggle switches the global engine to the other language.
func (b *IBus) Toggle(ctx context.Context) error {
	name, err := b.globalEngine(ctx)
	if err != nil {
		return err
	}
	next := b.cfg.IBusHangulEngine
	if name == b.cfg.IBusHangulEngine {
		next = b.cfg.IBusLatinEngine
	}
	call := b.obj.CallWithContext(ctx, ibusInterface+".SetGlobalEngine", 0, next)
	if call.Err != nil {
		return fmt.Errorf("ime: set global engine %q: %w", next, call.Err)
	}
	return nil
}

// CurrentContext returns the object path of the focused input context.
func (b *IBus) CurrentContext(ctx context.Context) (Handle, error) {
	v, err := b.obj.GetProperty(ibusInterface + ".CurrentInputContext")
	if err == nil {
		if p, ok := v.Value().(dbus.ObjectPath); ok {
			return Handle(p), nil
		}
	}

	var path dbus.ObjectPath
	if err := b.obj.CallWithContext(ctx, ibusInterface+".CurrentInputContext", 0).Store(&path); err != nil {
		return "", fmt.Errorf("ime: current input context: %w", err)
	}
	return Handle(path), nil
}

func (b *IBus) globalEngine(ctx context.Context) (string, error) {
	v, err := b.obj.GetProperty(ibusInterface + ".GlobalEngine")
	if err != nil {
		// Older daemons only expose the method.
		var raw dbus.Variant
		if cerr := b.obj.CallWithContext(ctx, ibusInterface+".GetGlobalEngine", 0).Store(&raw); cerr != nil {
			return "", fmt.Errorf("ime: global engine: %w", errors.Join(err, cerr))
		}
		v = raw
	}
	return engineName(v)
}

// engineName extracts the engine name from a serialized IBusEngineDesc.
// The description is a struct whose first two fields are the type name and
// the attachment map; the third is the engine name.
func engineName(v any) (string, error) {
	for {
		variant, ok := v.(dbus.Variant)
		if !ok {
			break
		}
		v = variant.Value()
	}
	fields, ok := v.([]any)
	if !ok {
		return "", fmt.Errorf("ime: unexpected engine description %T", v)
	}
	if len(fields) < 3 {
		return "", fmt.Errorf("ime: engine description has %d fields", len(fields))
	}
	name, ok := fields[2].(string)
	if !ok {
		return "", fmt.Errorf("ime: engine name is %T", fields[2])
	}
	return name, nil
}

var _ Platform = (*IBus)(nil)
