package ime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Engine defaults.
const (
	DefaultSyncInterval     = 500 * time.Millisecond
	DefaultReadAttempts     = 3
	DefaultRetryDelay       = 100 * time.Millisecond
	DefaultFailureThreshold = 3
)

var (
	// ErrSyncFailure wraps every failed read of the external state.
	ErrSyncFailure = errors.New("ime: sync failure")

	// ErrRecoveryExhausted is logged when logical recovery fails and the
	// physical double toggle is issued.
	ErrRecoveryExhausted = errors.New("ime: recovery exhausted")
)

// Options configures an Engine. Zero values select the defaults unless
// noted otherwise.
type Options struct {
	// SyncInterval is the minimum time between two reconciliation checks.
	SyncInterval time.Duration

	// ReadAttempts bounds the reads per initialize/sync/recover cycle.
	ReadAttempts int

	// RetryDelay is the fixed wait between attempts. Zero retries at
	// once; a negative value selects DefaultRetryDelay.
	RetryDelay time.Duration

	// FailureThreshold is the number of consecutive failed cycles that
	// triggers recovery.
	FailureThreshold int

	Clock    clockwork.Clock
	Logger   *slog.Logger
	Observer Observer
}

func (o *Options) setDefaults() {
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if o.ReadAttempts <= 0 {
		o.ReadAttempts = DefaultReadAttempts
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Health is the engine's sync bookkeeping.
type Health struct {
	// ConsecutiveFailures counts failed cycles since the last successful
	// reconciliation.
	ConsecutiveFailures int

	// LastReconciledAt is when the believed mode was last confirmed.
	LastReconciledAt time.Time

	// LastContext is the focused context at the last reconciliation.
	LastContext Handle
}

// Engine mirrors the external IME mode. All methods are safe for concurrent
// use; at most one reconciliation, toggle or recovery runs at a time.
type Engine struct {
	reader  ContextReader
	toggler Toggler
	focus   FocusProvider

	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger

	mu        sync.Mutex
	mode      Mode
	state     SyncState
	health    Health
	lastCheck time.Time
	checked   bool
	// dirty forces the next check past the context gate; set after a
	// toggle or a fallback whose outcome was not verified.
	dirty bool
	// recoverDue is set once failures reach the threshold. Recovery runs
	// from RecoverIfDue, never from the sync path.
	recoverDue bool
	observer   Observer

	listeners listenerSet
}

// New returns an engine in the Unsynced state believing the base mode.
func New(reader ContextReader, toggler Toggler, focus FocusProvider, opts Options) *Engine {
	opts.setDefaults()
	return &Engine{
		reader:   reader,
		toggler:  toggler,
		focus:    focus,
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger,
		mode:     Base,
		state:    Unsynced,
		observer: opts.Observer,
	}
}

// NewWithPlatform returns an engine backed by a single Platform.
func NewWithPlatform(p Platform, opts Options) *Engine {
	return New(p, p, p, opts)
}

// changes collects believed-mode changes made while the lock is held, so
// listeners run after it is released.
type changes []Mode

// Initialize reads the true mode. On failure it settles on the base mode
// and counts one failed cycle; it never returns an error.
func (e *Engine) Initialize(ctx context.Context) {
	var c changes
	e.mu.Lock()
	e.lastCheck = e.clock.Now()
	e.checked = true

	m, h, err := e.readTruth(ctx)
	if err != nil {
		e.setMode(Base, &c)
		e.logger.Warn("ime initialize failed; assuming base mode",
			"mode", Base.String(),
			"attempts", e.opts.ReadAttempts,
			"error", err,
		)
		e.fail(err)
	} else {
		e.reconciled(m, h, &c)
		e.emit(EventInitialized, nil)
	}
	e.mu.Unlock()

	e.notify(c)
}

// SyncIfNeeded reconciles the believed mode with the external one when at
// least SyncInterval has passed since the previous check and the focused
// context changed. It reports whether the believed mode changed. A failed
// cycle that reaches the threshold only marks recovery as due; the call is
// bounded by one read cycle.
func (e *Engine) SyncIfNeeded(ctx context.Context) bool {
	var c changes
	e.mu.Lock()
	if !e.due() {
		e.mu.Unlock()
		return false
	}

	h, err := e.focus.CurrentContext(ctx)
	if err == nil && h == e.health.LastContext && e.state == Synced && !e.dirty {
		e.mu.Unlock()
		return false
	}

	e.reconcile(ctx, &c)
	e.mu.Unlock()

	e.notify(c)
	return len(c) > 0
}

// due applies the rate limit and records the check time.
func (e *Engine) due() bool {
	now := e.clock.Now()
	if e.checked && now.Sub(e.lastCheck) < e.opts.SyncInterval {
		return false
	}
	e.lastCheck = now
	e.checked = true
	return true
}

func (e *Engine) reconcile(ctx context.Context, c *changes) {
	m, h, err := e.readTruth(ctx)
	if err != nil {
		e.fail(err)
		return
	}
	drift := m != e.mode
	e.reconciled(m, h, c)
	if drift {
		e.logger.Info("ime drift corrected", "mode", m.String(), "context", string(h))
		e.emit(EventDrift, nil)
		return
	}
	e.emit(EventReconciled, nil)
}

// Toggle issues the physical toggle gesture and flips the believed mode
// without re-reading it. A failed gesture leaves the believed mode alone
// and marks the mirror stale.
func (e *Engine) Toggle(ctx context.Context) {
	var c changes
	e.mu.Lock()
	e.toggle(ctx, &c)
	e.mu.Unlock()

	e.notify(c)
}

func (e *Engine) toggle(ctx context.Context, c *changes) {
	e.dirty = true
	if err := e.toggler.Toggle(ctx); err != nil {
		e.health.ConsecutiveFailures++
		e.logger.Warn("ime toggle failed",
			"mode", e.mode.String(),
			"failures", e.health.ConsecutiveFailures,
			"error", err,
		)
		e.emit(EventToggleFailed, err)
		return
	}
	e.setMode(e.mode.Next(), c)
	e.emit(EventToggled, nil)
}

// ForceState moves the believed mode to target with a single toggle. It
// does nothing when the engine already believes target.
func (e *Engine) ForceState(ctx context.Context, target Mode) {
	var c changes
	e.mu.Lock()
	if e.mode != target {
		e.toggle(ctx, &c)
	}
	e.mu.Unlock()

	e.notify(c)
}

// Recover runs the staged recovery: force the base mode, re-read the truth,
// and if that fails issue a physical double toggle.
func (e *Engine) Recover(ctx context.Context) {
	var c changes
	e.mu.Lock()
	e.recover(ctx, &c)
	e.mu.Unlock()

	e.notify(c)
}

// RecoverIfDue runs Recover when failed cycles have reached the threshold
// since the last recovery. It reports whether recovery ran. Run calls it
// before every sync; callers that do not use Run should call it off the
// event path.
func (e *Engine) RecoverIfDue(ctx context.Context) bool {
	var c changes
	e.mu.Lock()
	due := e.recoverDue
	if due {
		e.recover(ctx, &c)
	}
	e.mu.Unlock()

	e.notify(c)
	return due
}

// RecoveryDue reports whether the failure threshold has been reached.
func (e *Engine) RecoveryDue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recoverDue
}

func (e *Engine) recover(ctx context.Context, c *changes) {
	e.recoverDue = false
	e.state = Recovering
	e.logger.Warn("ime recovering", "failures", e.health.ConsecutiveFailures)
	e.emit(EventRecovering, nil)

	if e.mode != Base {
		if err := e.toggler.Toggle(ctx); err != nil {
			e.logger.Warn("ime recovery could not force base mode", "error", err)
		} else {
			e.setMode(Base, c)
		}
	}

	m, h, err := e.readTruth(ctx)
	if err == nil {
		e.reconciled(m, h, c)
		e.logger.Info("ime recovered", "mode", m.String())
		e.emit(EventRecovered, nil)
		return
	}

	// Best effort only. The believed mode is left as is; the next check
	// is forced past the context gate.
	err = errors.Join(ErrRecoveryExhausted, err)
	e.logger.Warn("ime recovery exhausted; issuing physical double toggle", "error", err)
	e.doubleToggle(ctx)
	e.state = Synced
	e.dirty = true
	e.emit(EventFallback, err)
}

func (e *Engine) doubleToggle(ctx context.Context) {
	if err := e.toggler.Toggle(ctx); err != nil {
		e.logger.Warn("ime fallback toggle failed", "step", 1, "error", err)
		return
	}
	if err := wait(ctx, e.clock, e.opts.RetryDelay); err != nil {
		e.logger.Warn("ime fallback interrupted", "error", err)
		return
	}
	if err := e.toggler.Toggle(ctx); err != nil {
		e.logger.Warn("ime fallback toggle failed", "step", 2, "error", err)
	}
}

// readTruth reads the focused context and its mode, retrying with the
// configured bound and delay.
func (e *Engine) readTruth(ctx context.Context) (Mode, Handle, error) {
	var (
		mode   Mode
		handle Handle
	)
	err := retry(ctx, e.clock, e.opts.ReadAttempts, e.opts.RetryDelay, func() error {
		h, err := e.focus.CurrentContext(ctx)
		if err != nil {
			return fmt.Errorf("%w: focus: %w", ErrSyncFailure, err)
		}
		m, err := e.reader.ReadState(ctx, h)
		if err != nil {
			return fmt.Errorf("%w: read %q: %w", ErrSyncFailure, h, err)
		}
		mode, handle = m, h
		return nil
	})
	return mode, handle, err
}

// reconciled records a confirmed read.
func (e *Engine) reconciled(m Mode, h Handle, c *changes) {
	e.setMode(m, c)
	e.state = Synced
	e.dirty = false
	e.health.ConsecutiveFailures = 0
	e.recoverDue = false
	e.health.LastReconciledAt = e.clock.Now()
	e.health.LastContext = h
}

// fail counts a failed cycle and marks recovery due at the threshold.
func (e *Engine) fail(err error) {
	e.health.ConsecutiveFailures++
	e.logger.Warn("ime sync failed",
		"failures", e.health.ConsecutiveFailures,
		"error", err,
	)
	e.emit(EventSyncFailed, err)

	if e.health.ConsecutiveFailures >= e.opts.FailureThreshold && !e.recoverDue {
		e.recoverDue = true
		e.logger.Warn("ime recovery due", "failures", e.health.ConsecutiveFailures)
	}
}

func (e *Engine) setMode(m Mode, c *changes) {
	if m == e.mode {
		return
	}
	e.mode = m
	*c = append(*c, m)
}

func (e *Engine) emit(kind EventKind, err error) {
	if e.observer == nil {
		return
	}
	e.observer.ObserveSync(Event{
		Kind:      kind,
		Mode:      e.mode,
		State:     e.state,
		Failures:  e.health.ConsecutiveFailures,
		Context:   e.health.LastContext,
		Err:       err,
		Timestamp: e.clock.Now(),
	})
}

func (e *Engine) notify(c changes) {
	for _, m := range c {
		e.listeners.broadcast(e.logger, m)
	}
}

// Mode returns the believed mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SyncState returns the engine's sync state.
func (e *Engine) SyncState() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Health returns a copy of the sync bookkeeping.
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

// SetObserver replaces the event observer. nil disables events.
func (e *Engine) SetObserver(o Observer) {
	e.mu.Lock()
	e.observer = o
	e.mu.Unlock()
}

// AddListener registers fn for believed-mode changes.
func (e *Engine) AddListener(fn Listener) ListenerID {
	return e.listeners.add(fn)
}

// RemoveListener unregisters a listener. It reports whether id was known.
func (e *Engine) RemoveListener(id ListenerID) bool {
	return e.listeners.remove(id)
}
