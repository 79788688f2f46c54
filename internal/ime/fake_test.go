package ime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var errUnreachable = errors.New("ime unreachable")

// scripted is a Platform whose reads can be made to fail.
type scripted struct {
	mu         sync.Mutex
	mode       Mode
	handle     Handle
	failReads  int // remaining reads to fail; -1 fails forever
	failToggle bool
	reads      int
	focuses    int
	toggles    int
}

func (s *scripted) Name() string { return "scripted" }
func (s *scripted) Close() error { return nil }

func (s *scripted) ReadState(ctx context.Context, h Handle) (Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failReads != 0 {
		if s.failReads > 0 {
			s.failReads--
		}
		return English, errUnreachable
	}
	return s.mode, nil
}

func (s *scripted) Toggle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failToggle {
		return errUnreachable
	}
	s.toggles++
	s.mode = s.mode.Next()
	return nil
}

func (s *scripted) CurrentContext(ctx context.Context) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focuses++
	return s.handle, nil
}

func (s *scripted) set(f func(s *scripted)) {
	s.mu.Lock()
	f(s)
	s.mu.Unlock()
}

func (s *scripted) counts() (reads, toggles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.toggles
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) ObserveSync(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine returns an engine with zero retry delay, so retries never
// wait on the fake clock.
func newTestEngine(t *testing.T, p Platform) (*Engine, *clockwork.FakeClock, *recorder) {
	t.Helper()
	return newDelayedEngine(t, p, 0)
}

// newDelayedEngine returns an engine whose retries wait delay on the fake
// clock.
func newDelayedEngine(t *testing.T, p Platform, delay time.Duration) (*Engine, *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	e := NewWithPlatform(p, Options{
		SyncInterval: 500 * time.Millisecond,
		RetryDelay:   delay,
		Clock:        clock,
		Logger:       quietLogger(),
		Observer:     rec,
	})
	return e, clock, rec
}
