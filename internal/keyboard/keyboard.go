// Package keyboard is the root of the virtual keyboard core. It owns the
// key registry and composes the IME sync engine, the modifier coordinator
// and the label resolver behind the operations the UI layer calls.
package keyboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"nestkbd/internal/ime"
	"nestkbd/internal/inject"
	"nestkbd/internal/keystate"
	"nestkbd/internal/label"
	"nestkbd/internal/layout"
	"nestkbd/internal/metrics"
	"nestkbd/internal/modifier"
)

// Options configures a Keyboard.
type Options struct {
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	// ShiftKeys are the modifier ids that select shifted labels. Defaults
	// to "shift".
	ShiftKeys []string

	// LongPress replaces the layout-wide long-press threshold. Keys that
	// set their own threshold keep it.
	LongPress time.Duration
}

// KeyListener is notified after a key enters a new state.
type KeyListener func(id string, s keystate.State)

type keyChange struct {
	id    string
	state keystate.State
}

// Keyboard is the UI-facing entry point. Its methods may be called from
// several goroutines, but listeners must not assume which one.
type Keyboard struct {
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Recorder
	engine    *ime.Engine
	shiftKeys []string

	// keys and order are fixed at construction.
	keys  map[string]*Key
	order []string

	mu        sync.Mutex
	labels    *label.Resolver
	mods      *modifier.Coordinator
	hovered   string
	pending   []keyChange
	listeners []KeyListener
}

// New builds a keyboard over a validated layout. Injection goes through inj
// and IME changes through engine.
func New(l *layout.Layout, engine *ime.Engine, inj inject.Injector, opts Options) *Keyboard {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder(metrics.Options{Clock: opts.Clock})
	}
	if len(opts.ShiftKeys) == 0 {
		opts.ShiftKeys = []string{"shift"}
	}

	kb := &Keyboard{
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		engine:    engine,
		shiftKeys: opts.ShiftKeys,
		keys:      make(map[string]*Key, len(l.Keys)),
		labels:    label.NewResolver(l.Labels()),
		mods:      modifier.New(inj, l.CodeMap(), opts.Logger),
	}

	for _, lk := range l.Keys {
		longPress := l.LongPress(lk)
		if opts.LongPress > 0 && lk.LongPressMS == 0 {
			longPress = opts.LongPress
		}
		k := &Key{
			ID:        lk.ID,
			Code:      lk.Code(),
			Role:      lk.Role,
			LongPress: longPress,
			Colors:    l.Colors(lk),
			machine:   keystate.NewMachine(opts.Logger.With("key", lk.ID)),
		}
		id := lk.ID
		for _, s := range keystate.States {
			s := s
			k.machine.OnState(s, func(next keystate.State) {
				if next == s {
					kb.pending = append(kb.pending, keyChange{id: id, state: s})
				}
			})
		}
		kb.keys[id] = k
		kb.order = append(kb.order, id)
	}
	return kb
}

// lock and unlock guard key state. unlock delivers the key changes queued
// while the lock was held.
func (kb *Keyboard) lock() { kb.mu.Lock() }

func (kb *Keyboard) unlock() {
	pending := kb.pending
	kb.pending = nil
	listeners := append([]KeyListener(nil), kb.listeners...)
	kb.mu.Unlock()

	for _, c := range pending {
		for _, fn := range listeners {
			kb.deliver(fn, c)
		}
	}
}

func (kb *Keyboard) deliver(fn KeyListener, c keyChange) {
	defer func() {
		if r := recover(); r != nil {
			kb.logger.Error("key listener panicked", "key", c.id, "state", c.state.String(), "panic", fmt.Sprint(r))
		}
	}()
	fn(c.id, c.state)
}

func (kb *Keyboard) key(id string) (*Key, error) {
	k, ok := kb.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, id)
	}
	return k, nil
}

// Keys returns the key ids in layout order.
func (kb *Keyboard) Keys() []string {
	return append([]string(nil), kb.order...)
}

// Engine returns the IME sync engine.
func (kb *Keyboard) Engine() *ime.Engine { return kb.engine }

// Press handles a key going down.
func (kb *Keyboard) Press(ctx context.Context, id string) error {
	return kb.metrics.Observe("press", func() error {
		return kb.press(ctx, id)
	})
}

func (kb *Keyboard) press(ctx context.Context, id string) error {
	k, err := kb.key(id)
	if err != nil {
		return err
	}

	switch k.Role {
	case layout.LanguageToggle:
		if err := kb.checkEnabled(k); err != nil {
			return err
		}
		kb.engine.Toggle(ctx)
		return nil

	case layout.CapsLock:
		if err := kb.checkEnabled(k); err != nil {
			return err
		}
		kb.engine.ForceState(ctx, ime.Base)
		kb.lock()
		defer kb.unlock()
		kb.mods.Tap(id)
		on := kb.labels.ToggleCapsLock()
		kb.logger.Debug("caps lock", "on", on)
		return nil
	}

	kb.lock()
	defer kb.unlock()

	saved := k.machine.Current()
	if saved == keystate.Pressed {
		return nil
	}

	if k.Role == layout.Modifier && saved == keystate.Locked {
		if err := k.machine.Transition(keystate.Normal); err != nil {
			k.machine.Restore(saved)
			return fmt.Errorf("unlock %s: %w", id, err)
		}
		kb.mods.KeyUp(id)
		kb.mods.Unlatch(id)
		kb.logger.Debug("modifier unlocked", "key", id)
		return nil
	}

	if err := k.machine.Transition(keystate.Pressed); err != nil {
		k.machine.Restore(saved)
		return fmt.Errorf("press %s: %w", id, err)
	}
	k.press(kb.clock.Now(), saved)

	if k.Role == layout.Modifier {
		kb.mods.Latch(id)
		kb.mods.KeyDown(id)
	} else {
		kb.mods.AssertLatched()
		kb.mods.KeyDown(id)
	}
	kb.logger.Debug("key pressed", "key", id, "latched", kb.mods.Latched())
	return nil
}

// checkEnabled rejects presses on disabled keys that bypass the state
// machine.
func (kb *Keyboard) checkEnabled(k *Key) error {
	kb.lock()
	defer kb.unlock()
	if k.machine.Current() == keystate.Disabled {
		return fmt.Errorf("press %s: %w", k.ID, &keystate.TransitionError{From: keystate.Disabled, To: keystate.Pressed})
	}
	return nil
}

// Release handles a key going up. Releasing a key that is not held is a
// no-op.
func (kb *Keyboard) Release(ctx context.Context, id string) error {
	return kb.metrics.Observe("release", func() error {
		return kb.release(id)
	})
}

func (kb *Keyboard) release(id string) error {
	k, err := kb.key(id)
	if err != nil {
		return err
	}
	if k.Role == layout.LanguageToggle || k.Role == layout.CapsLock {
		return nil
	}

	kb.lock()
	defer kb.unlock()

	if !k.held {
		return nil
	}
	elapsed := kb.clock.Since(k.pressedAt)
	target := k.prePress
	if k.Role == layout.Modifier && elapsed >= k.LongPress {
		target = keystate.Locked
	}
	k.lift()

	var terr error
	if err := k.machine.Transition(target); err != nil {
		terr = fmt.Errorf("release %s: %w", id, err)
		_ = k.machine.Transition(keystate.Normal)
	}
	kb.mods.KeyUp(id)

	if k.Role != layout.Modifier {
		released := kb.mods.ReleaseLatched(kb.isLocked)
		kb.logger.Debug("key released", "key", id, "modifiers", released)
		return terr
	}

	if target == keystate.Locked {
		// An ordinary key released mid-hold may already have unlatched it.
		kb.mods.Latch(id)
		kb.logger.Debug("modifier locked", "key", id, "held", elapsed)
		return terr
	}
	if kb.mods.Unlatch(id) && kb.mods.Len() == 0 {
		kb.restoreChord()
	}
	return terr
}

func (kb *Keyboard) isLocked(id string) bool {
	k, ok := kb.keys[id]
	return ok && k.machine.Current() == keystate.Locked
}

// restoreChord returns keys still held mid-chord to their pre-press state
// once the last modifier is gone.
func (kb *Keyboard) restoreChord() {
	for _, id := range kb.order {
		k := kb.keys[id]
		if k.Role == layout.Modifier || !k.held {
			continue
		}
		kb.mods.KeyUp(id)
		k.lift()
		if err := k.machine.Transition(k.prePress); err != nil {
			kb.logger.Warn("restore failed", "key", id, "error", err)
			k.machine.Restore(keystate.Normal)
		}
	}
}

// Hover moves the pointer highlight to id. An empty id clears it.
func (kb *Keyboard) Hover(id string) error {
	return kb.metrics.Observe("hover", func() error {
		return kb.hover(id)
	})
}

func (kb *Keyboard) hover(id string) error {
	var k *Key
	if id != "" {
		var err error
		if k, err = kb.key(id); err != nil {
			return err
		}
	}

	kb.lock()
	defer kb.unlock()

	if kb.hovered == id {
		return nil
	}
	if prev, ok := kb.keys[kb.hovered]; ok {
		switch prev.machine.Current() {
		case keystate.Hover:
			if err := prev.machine.Transition(keystate.Normal); err != nil {
				return err
			}
		case keystate.Pressed:
			prev.prePress = keystate.Normal
		}
	}
	kb.hovered = id
	if k != nil && k.machine.Current() == keystate.Normal {
		return k.machine.Transition(keystate.Hover)
	}
	return nil
}

// Disable disables id. A held key is lifted first.
func (kb *Keyboard) Disable(id string) error {
	return kb.metrics.Observe("disable", func() error {
		k, err := kb.key(id)
		if err != nil {
			return err
		}
		kb.lock()
		defer kb.unlock()
		if k.held || k.machine.Current() == keystate.Locked {
			kb.mods.KeyUp(id)
			kb.mods.Unlatch(id)
			k.lift()
		}
		k.machine.Disable()
		return nil
	})
}

// Enable re-enables a disabled key.
func (kb *Keyboard) Enable(id string) error {
	return kb.metrics.Observe("enable", func() error {
		k, err := kb.key(id)
		if err != nil {
			return err
		}
		kb.lock()
		defer kb.unlock()
		k.machine.Enable()
		return nil
	})
}

// State returns the state of id.
func (kb *Keyboard) State(id string) (keystate.State, error) {
	s := keystate.Normal
	err := kb.metrics.Observe("state", func() error {
		k, err := kb.key(id)
		if err != nil {
			return err
		}
		kb.lock()
		defer kb.unlock()
		s = k.machine.Current()
		return nil
	})
	return s, err
}

// History returns the previous states of id, oldest first.
func (kb *Keyboard) History(id string) ([]keystate.State, error) {
	k, err := kb.key(id)
	if err != nil {
		return nil, err
	}
	kb.lock()
	defer kb.unlock()
	return k.History(), nil
}

// Label returns the text id displays now. Unknown ids label themselves.
func (kb *Keyboard) Label(id string) string {
	var text string
	_ = kb.metrics.Observe("label", func() error {
		mode := kb.engine.Mode()

		kb.lock()
		defer kb.unlock()
		text = kb.labels.Resolve(id, kb.shiftActive(), mode)
		return nil
	})
	return text
}

func (kb *Keyboard) shiftActive() bool {
	for _, id := range kb.shiftKeys {
		if kb.mods.IsLatched(id) {
			return true
		}
	}
	return false
}

// Color returns the display color of id.
func (kb *Keyboard) Color(id string) (layout.RGB, error) {
	var c layout.RGB
	err := kb.metrics.Observe("color", func() error {
		k, err := kb.key(id)
		if err != nil {
			return err
		}
		kb.lock()
		defer kb.unlock()
		s := k.machine.Current()
		if k.Role == layout.CapsLock && kb.labels.CapsLock() && s != keystate.Disabled {
			s = keystate.Locked
		}
		c = k.Colors[s]
		return nil
	})
	return c, err
}

// IsActive reports whether id is engaged: held or locked, Caps Lock on, or
// the non-base language selected.
func (kb *Keyboard) IsActive(id string) bool {
	var active bool
	_ = kb.metrics.Observe("is_active", func() error {
		active = kb.isActive(id)
		return nil
	})
	return active
}

func (kb *Keyboard) isActive(id string) bool {
	k, ok := kb.keys[id]
	if !ok {
		return false
	}
	if k.Role == layout.LanguageToggle {
		return kb.engine.Mode() != ime.Base
	}

	kb.lock()
	defer kb.unlock()
	if k.Role == layout.CapsLock {
		return kb.labels.CapsLock()
	}
	s := k.machine.Current()
	return s == keystate.Pressed || s == keystate.Locked
}

// CapsLock reports the Caps Lock flag.
func (kb *Keyboard) CapsLock() bool {
	kb.lock()
	defer kb.unlock()
	return kb.labels.CapsLock()
}

// Latched returns the latched modifier ids in acquisition order.
func (kb *Keyboard) Latched() []string {
	kb.lock()
	defer kb.unlock()
	return kb.mods.Latched()
}

// SubscribeIMEChange registers fn for IME mode changes.
func (kb *Keyboard) SubscribeIMEChange(fn func(ime.Mode)) ime.ListenerID {
	return kb.engine.AddListener(fn)
}

// UnsubscribeIMEChange removes a registration made by SubscribeIMEChange.
func (kb *Keyboard) UnsubscribeIMEChange(id ime.ListenerID) bool {
	return kb.engine.RemoveListener(id)
}

// SubscribeKeyChange registers fn for key state changes. fn runs after the
// keyboard lock is released and may call back into the keyboard.
func (kb *Keyboard) SubscribeKeyChange(fn KeyListener) {
	kb.lock()
	defer kb.unlock()
	kb.listeners = append(kb.listeners, fn)
}

// Sync reconciles the IME mirror if it is due. It reports whether the
// believed mode changed.
func (kb *Keyboard) Sync(ctx context.Context) bool {
	var changed bool
	_ = kb.metrics.Observe("sync", func() error {
		changed = kb.engine.SyncIfNeeded(ctx)
		return nil
	})
	return changed
}

// CheckHealth combines operation metrics with the IME sync health.
func (kb *Keyboard) CheckHealth() (bool, string) {
	var (
		ok     bool
		detail string
	)
	_ = kb.metrics.Observe("check_health", func() error {
		ok, detail = kb.checkHealth()
		return nil
	})
	return ok, detail
}

func (kb *Keyboard) checkHealth() (bool, string) {
	ok, detail := kb.metrics.Check()

	h := kb.engine.Health()
	state := kb.engine.SyncState()
	switch {
	case state == ime.Recovering:
		ok = false
		detail += "; ime recovering"
	case h.ConsecutiveFailures > 0:
		ok = false
		detail += fmt.Sprintf("; ime %s with %d consecutive sync failures", state, h.ConsecutiveFailures)
	default:
		detail += "; ime " + state.String()
	}
	return ok, detail
}

// Close lifts every key the keyboard pressed at the OS level. It does not
// close the injector.
func (kb *Keyboard) Close() error {
	kb.lock()
	defer kb.unlock()
	kb.mods.ReleaseAll()
	for _, k := range kb.keys {
		if k.held {
			k.lift()
		}
	}
	return nil
}
