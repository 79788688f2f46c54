package ime

import (
	"context"
	"sync"
)

// Static is an in-memory backend. It never fails and is used for dry runs
// and on platforms without IME access.
type Static struct {
	mu      sync.Mutex
	mode    Mode
	handle  Handle
	toggles int
}

// NewStatic returns a Static backend starting in the given mode.
func NewStatic(initial Mode) *Static {
	return &Static{mode: initial, handle: "static"}
}

func (s *Static) Name() string { return "static" }

func (s *Static) Close() error { return nil }

func (s *Static) ReadState(ctx context.Context, h Handle) (Mode, error) {
	if err := ctx.Err(); err != nil {
		return English, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, nil
}

func (s *Static) Toggle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = s.mode.Next()
	s.toggles++
	return nil
}

func (s *Static) CurrentContext(ctx context.Context) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, nil
}

// SetMode changes the simulated OS mode, as if the user switched it with a
// physical keyboard.
func (s *Static) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// SetContext changes the simulated focused context.
func (s *Static) SetContext(h Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// Toggles returns how many toggle gestures were issued.
func (s *Static) Toggles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toggles
}

var _ Platform = (*Static)(nil)
