package keyboard

import (
	"context"
	"errors"
	"fmt"

	"nestkbd/internal/label"
)

// stroke is one key tap, chorded with shift when shift is set.
type stroke struct {
	id    string
	shift string
}

// Type taps the keys that produce text. Hangul is typed as its two-set
// keystrokes, so it composes only while the IME is in the language mode.
// Nothing is pressed when a character has no key or a modifier is latched.
// It returns the Latin keystrokes for text.
func (kb *Keyboard) Type(ctx context.Context, text string) (string, error) {
	keys := label.Keystrokes(text)
	err := kb.metrics.Observe("type", func() error {
		plan, err := kb.plan(keys)
		if err != nil {
			return err
		}
		for _, s := range plan {
			if err := kb.tap(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
	return keys, err
}

func (kb *Keyboard) plan(keys string) ([]stroke, error) {
	kb.lock()
	defer kb.unlock()

	if kb.mods.Len() > 0 {
		return nil, fmt.Errorf("type: %w: %v", ErrModifiersLatched, kb.mods.Latched())
	}
	shiftKey := ""
	for _, id := range kb.shiftKeys {
		if _, ok := kb.keys[id]; ok {
			shiftKey = id
			break
		}
	}

	plan := make([]stroke, 0, len(keys))
	for _, r := range keys {
		if r == ' ' {
			if _, ok := kb.keys["space"]; ok {
				plan = append(plan, stroke{id: "space"})
				continue
			}
		}
		id, shift, ok := kb.labels.Produce(string(r), kb.order)
		if !ok || (shift && shiftKey == "") {
			return nil, fmt.Errorf("type: %w: %q", ErrNoKeyForChar, r)
		}
		s := stroke{id: id}
		if shift {
			s.shift = shiftKey
		}
		plan = append(plan, s)
	}
	return plan, nil
}

// tap presses and releases one stroke. The shift key is always released,
// even when the tap fails.
func (kb *Keyboard) tap(ctx context.Context, s stroke) error {
	if s.shift != "" {
		if err := kb.press(ctx, s.shift); err != nil {
			return err
		}
	}
	err := kb.press(ctx, s.id)
	if err == nil {
		err = kb.release(s.id)
	}
	if s.shift != "" {
		err = errors.Join(err, kb.release(s.shift))
	}
	return err
}
