package keyboard

import (
	"time"

	"nestkbd/internal/inject"
	"nestkbd/internal/keystate"
	"nestkbd/internal/layout"
)

// Key is one physical key position. Its state changes only through the
// Keyboard operations.
type Key struct {
	ID        string
	Code      inject.Code
	Role      layout.Role
	LongPress time.Duration
	Colors    map[keystate.State]layout.RGB

	machine *keystate.Machine

	// Set while the key is held.
	held      bool
	pressedAt time.Time
	prePress  keystate.State
}

func (k *Key) State() keystate.State { return k.machine.Current() }

// History returns the key's previous states, oldest first.
func (k *Key) History() []keystate.State { return k.machine.History() }

// Held reports whether a press is in progress.
func (k *Key) Held() bool { return k.held }

func (k *Key) press(at time.Time, prev keystate.State) {
	k.held = true
	k.pressedAt = at
	k.prePress = prev
}

func (k *Key) lift() {
	k.held = false
	k.pressedAt = time.Time{}
}
