// Package modifier tracks latched modifier keys and orders the synthetic
// key events sent around an ordinary keystroke.
package modifier

import (
	"log/slog"
	"sort"

	"nestkbd/internal/inject"
)

// Coordinator owns the latched set and the set of keys it has pressed at
// the OS level. Injection failures are logged and never returned. A
// Coordinator is owned by one goroutine.
type Coordinator struct {
	inj    inject.Injector
	codes  map[string]inject.Code
	logger *slog.Logger

	latched []string // acquisition order
	down    map[string]bool
}

// New returns a coordinator that injects through inj. codes maps key ids to
// their physical codes.
func New(inj inject.Injector, codes map[string]inject.Code, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		inj:    inj,
		codes:  codes,
		logger: logger,
		down:   make(map[string]bool),
	}
}

// Latch adds id to the latched set. It reports false if id was already
// latched.
func (c *Coordinator) Latch(id string) bool {
	if c.IsLatched(id) {
		return false
	}
	c.latched = append(c.latched, id)
	return true
}

// Unlatch removes id from the latched set.
func (c *Coordinator) Unlatch(id string) bool {
	for i, l := range c.latched {
		if l == id {
			c.latched = append(c.latched[:i:i], c.latched[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coordinator) IsLatched(id string) bool {
	for _, l := range c.latched {
		if l == id {
			return true
		}
	}
	return false
}

// Latched returns the latched ids in acquisition order.
func (c *Coordinator) Latched() []string {
	out := make([]string, len(c.latched))
	copy(out, c.latched)
	return out
}

func (c *Coordinator) Len() int { return len(c.latched) }

// IsDown reports whether id is pressed at the OS level.
func (c *Coordinator) IsDown(id string) bool { return c.down[id] }

// KeyDown presses id unless it is already down.
func (c *Coordinator) KeyDown(id string) {
	if c.down[id] {
		return
	}
	code, ok := c.code(id)
	if !ok {
		return
	}
	if err := c.inj.Press(code); err != nil {
		c.logger.Warn("key down failed", "key", id, "error", err)
		return
	}
	c.down[id] = true
}

// KeyUp releases id if it is down.
func (c *Coordinator) KeyUp(id string) {
	if !c.down[id] {
		return
	}
	code, ok := c.code(id)
	if !ok {
		return
	}
	if err := c.inj.Release(code); err != nil {
		c.logger.Warn("key up failed", "key", id, "error", err)
		return
	}
	delete(c.down, id)
}

// Tap sends a down/up pair for id regardless of its tracked state.
func (c *Coordinator) Tap(id string) {
	code, ok := c.code(id)
	if !ok {
		return
	}
	if err := c.inj.Press(code); err != nil {
		c.logger.Warn("key tap failed", "key", id, "error", err)
		return
	}
	if err := c.inj.Release(code); err != nil {
		c.logger.Warn("key tap failed", "key", id, "error", err)
	}
}

// AssertLatched presses every latched modifier that is not already down,
// in acquisition order.
func (c *Coordinator) AssertLatched() {
	for _, id := range c.latched {
		c.KeyDown(id)
	}
}

// ReleaseLatched lifts latched modifiers in reverse acquisition order.
// Modifiers for which locked reports true stay latched; the others are
// unlatched and returned in release order.
func (c *Coordinator) ReleaseLatched(locked func(id string) bool) []string {
	var released []string
	for i := len(c.latched) - 1; i >= 0; i-- {
		id := c.latched[i]
		c.KeyUp(id)
		if locked != nil && locked(id) {
			continue
		}
		released = append(released, id)
	}
	for _, id := range released {
		c.Unlatch(id)
	}
	return released
}

// ReleaseAll lifts every key that is down and clears the latched set.
func (c *Coordinator) ReleaseAll() {
	ids := make([]string, 0, len(c.down))
	for id := range c.down {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.KeyUp(id)
	}
	c.latched = nil
}

func (c *Coordinator) code(id string) (inject.Code, bool) {
	code, ok := c.codes[id]
	if !ok {
		c.logger.Warn("no key code", "key", id)
	}
	return code, ok
}
