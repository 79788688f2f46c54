package ime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeReadsTruth(t *testing.T) {
	p := &scripted{mode: Korean, handle: "win-1"}
	e, _, rec := newTestEngine(t, p)

	var got []Mode
	e.AddListener(func(m Mode) { got = append(got, m) })

	e.Initialize(context.Background())

	assert.Equal(t, Korean, e.Mode())
	assert.Equal(t, Synced, e.SyncState())
	assert.Equal(t, []Mode{Korean}, got)
	assert.Equal(t, Handle("win-1"), e.Health().LastContext)
	assert.Equal(t, []EventKind{EventInitialized}, rec.kinds())
}

func TestInitializeFailureAssumesBase(t *testing.T) {
	p := &scripted{mode: Korean, handle: "win-1", failReads: -1}
	e, _, rec := newTestEngine(t, p)

	var calls int
	e.AddListener(func(Mode) { calls++ })

	e.Initialize(context.Background())

	reads, _ := p.counts()
	assert.Equal(t, DefaultReadAttempts, reads)
	assert.Equal(t, English, e.Mode())
	assert.Equal(t, Unsynced, e.SyncState())
	assert.Equal(t, 1, e.Health().ConsecutiveFailures)
	assert.Zero(t, calls)

	require.Len(t, rec.events, 1)
	assert.Equal(t, EventSyncFailed, rec.events[0].Kind)
	assert.ErrorIs(t, rec.events[0].Err, ErrSyncFailure)
	assert.ErrorIs(t, rec.events[0].Err, errUnreachable)
}

func TestSyncIsRateLimited(t *testing.T) {
	p := &scripted{handle: "win-1"}
	e, clock, _ := newTestEngine(t, p)
	ctx := context.Background()
	e.Initialize(ctx)

	p.set(func(s *scripted) { s.handle = "win-2" })
	focuses := p.focuses

	assert.False(t, e.SyncIfNeeded(ctx))
	clock.Advance(499 * time.Millisecond)
	assert.False(t, e.SyncIfNeeded(ctx))
	assert.Equal(t, focuses, p.focuses, "no external call inside the interval")

	clock.Advance(time.Millisecond)
	e.SyncIfNeeded(ctx)
	assert.Equal(t, Handle("win-2"), e.Health().LastContext)
}

func TestSyncSkipsUnchangedContext(t *testing.T) {
	p := &scripted{handle: "win-1"}
	e, clock, _ := newTestEngine(t, p)
	ctx := context.Background()
	e.Initialize(ctx)
	readsBefore, _ := p.counts()

	clock.Advance(time.Second)
	assert.False(t, e.SyncIfNeeded(ctx))

	reads, _ := p.counts()
	assert.Equal(t, readsBefore, reads)
}

func TestSyncCorrectsDriftOnContextChange(t *testing.T) {
	p := &scripted{handle: "win-1"}
	e, clock, rec := newTestEngine(t, p)
	ctx := context.Background()
	e.Initialize(ctx)

	var got []Mode
	e.AddListener(func(m Mode) { got = append(got, m) })

	p.set(func(s *scripted) {
		s.handle = "win-2"
		s.mode = Korean
	})
	clock.Advance(time.Second)

	assert.True(t, e.SyncIfNeeded(ctx))
	assert.Equal(t, Korean, e.Mode())
	assert.Equal(t, []Mode{Korean}, got)
	assert.Contains(t, rec.kinds(), EventDrift)

	// Same context, same mode: no further notification.
	clock.Advance(time.Second)
	assert.False(t, e.SyncIfNeeded(ctx))
	assert.Len(t, got, 1)
}

func TestToggleFlipsWithoutReading(t *testing.T) {
	p := &scripted{handle: "win-1"}
	e, clock, _ := newTestEngine(t, p)
	ctx := context.Background()
	e.Initialize(ctx)
	readsBefore, _ := p.counts()

	var got []Mode
	e.AddListener(func(m Mode) { got = append(got, m) })

	e.Toggle(ctx)

	reads, toggles := p.counts()
	assert.Equal(t, readsBefore, reads)
	assert.Equal(t, 1, toggles)
	assert.Equal(t, Korean, e.Mode())
	assert.Equal(t, []Mode{Korean}, got)

	// The next check re-reads even though the context is unchanged, and
	// finds the toggle took effect.
	clock.Advance(time.Second)
	assert.False(t, e.SyncIfNeeded(ctx))
	reads, _ = p.counts()
	assert.Equal(t, readsBefore+1, reads)
	assert.Len(t, got, 1)
}

func TestToggleFailureKeepsMode(t *testing.T) {
	p := &scripted{handle: "win-1", failToggle: true}
	e, _, rec := newTestEngine(t, p)
	ctx := context.Background()
	e.Initialize(ctx)

	var calls int
	e.AddListener(func(Mode) { calls++ })

	e.Toggle(ctx)

	assert.Equal(t, English, e.Mode())
	assert.Equal(t, 1, e.Health().ConsecutiveFailures)
	assert.Zero(t, calls)
	assert.Contains(t, rec.kinds(), EventToggleFailed)
}

func TestForceState(t *testing.T) {
	p := &scripted{handle: "win-1"}
	e, _, _ := newTestEngine(t, p)
	ctx := context.Background()
	e.Initialize(ctx)

	e.ForceState(ctx, English)
	_, toggles := p.counts()
	assert.Zero(t, toggles)

	e.ForceState(ctx, Korean)
	_, toggles = p.counts()
	assert.Equal(t, 1, toggles)
	assert.Equal(t, Korean, e.Mode())
}

func TestRecoveryAfterThreshold(t *testing.T) {
	// Three failed cycles of three reads each, then reads succeed.
	p := &scripted{handle: "win-1", failReads: 3 * DefaultReadAttempts}
	e, clock, rec := newTestEngine(t, p)
	ctx := context.Background()

	e.Initialize(ctx)
	assert.Equal(t, 1, e.Health().ConsecutiveFailures)

	clock.Advance(time.Second)
	e.SyncIfNeeded(ctx)
	assert.Equal(t, 2, e.Health().ConsecutiveFailures)
	assert.False(t, e.RecoveryDue())

	clock.Advance(time.Second)
	e.SyncIfNeeded(ctx)

	// The sync that reaches the threshold does not recover inline.
	assert.Equal(t, 3, e.Health().ConsecutiveFailures)
	assert.Equal(t, Unsynced, e.SyncState())
	assert.True(t, e.RecoveryDue())
	assert.NotContains(t, rec.kinds(), EventRecovering)

	require.True(t, e.RecoverIfDue(ctx))

	assert.Equal(t, 0, e.Health().ConsecutiveFailures)
	assert.Equal(t, Synced, e.SyncState())
	assert.False(t, e.RecoveryDue())
	assert.False(t, e.RecoverIfDue(ctx))

	var recovering *Event
	for i := range rec.events {
		if rec.events[i].Kind == EventRecovering {
			recovering = &rec.events[i]
		}
	}
	require.NotNil(t, recovering)
	assert.Equal(t, Recovering, recovering.State)
	assert.Equal(t, 3, recovering.Failures)
	assert.Equal(t, EventRecovered, rec.kinds()[len(rec.events)-1])
}

func TestRecoveryFallbackDoubleToggle(t *testing.T) {
	p := &scripted{handle: "win-1", failReads: -1}
	e, clock, rec := newTestEngine(t, p)
	ctx := context.Background()

	e.Initialize(ctx)
	for i := 0; i < 2; i++ {
		clock.Advance(time.Second)
		e.SyncIfNeeded(ctx)
	}
	_, toggles := p.counts()
	require.Zero(t, toggles)

	require.True(t, e.RecoverIfDue(ctx))

	_, toggles = p.counts()
	assert.Equal(t, 2, toggles)
	assert.Equal(t, English, e.Mode())
	assert.Equal(t, Synced, e.SyncState())
	assert.Equal(t, 3, e.Health().ConsecutiveFailures)
	assert.False(t, e.RecoveryDue())

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, EventFallback, last.Kind)
	assert.ErrorIs(t, last.Err, ErrRecoveryExhausted)

	// The fallback is unverified, so the next failed cycle is due again.
	clock.Advance(time.Second)
	e.SyncIfNeeded(ctx)
	assert.Equal(t, 4, e.Health().ConsecutiveFailures)
	assert.True(t, e.RecoveryDue())
}

func TestInitializeRetriesOnClock(t *testing.T) {
	p := &scripted{mode: Korean, handle: "win-1", failReads: DefaultReadAttempts - 1}
	e, clock, rec := newDelayedEngine(t, p, 100*time.Millisecond)
	start := clock.Now()

	done := make(chan struct{})
	go func() {
		e.Initialize(context.Background())
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 1; i < DefaultReadAttempts; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		reads, _ := p.counts()
		assert.Equal(t, i, reads)
		clock.Advance(100 * time.Millisecond)
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("initialize did not finish after the last retry")
	}

	reads, _ := p.counts()
	assert.Equal(t, DefaultReadAttempts, reads)
	assert.Equal(t, Korean, e.Mode())
	assert.Equal(t, Synced, e.SyncState())
	assert.Equal(t, 200*time.Millisecond, clock.Since(start))
	assert.Equal(t, []EventKind{EventInitialized}, rec.kinds())
}

func TestFallbackWaitStopsOnCancel(t *testing.T) {
	p := &scripted{handle: "win-1", failReads: -1}
	e, clock, rec := newDelayedEngine(t, p, 100*time.Millisecond)

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Recover(runCtx)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Two waits between the three failed reads.
	for i := 1; i < DefaultReadAttempts; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(100 * time.Millisecond)
	}
	// Then the wait between the two fallback toggles.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	_, toggles := p.counts()
	require.Equal(t, 1, toggles)
	stop()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("recovery ignored cancellation")
	}

	_, toggles = p.counts()
	assert.Equal(t, 1, toggles)
	assert.Equal(t, Synced, e.SyncState())
	assert.Equal(t, EventFallback, rec.kinds()[len(rec.kinds())-1])
}

func TestRecoveryForcesBase(t *testing.T) {
	p := &scripted{mode: Korean, handle: "win-1"}
	e, _, _ := newTestEngine(t, p)
	ctx := context.Background()
	e.Initialize(ctx)
	require.Equal(t, Korean, e.Mode())

	var got []Mode
	e.AddListener(func(m Mode) { got = append(got, m) })

	e.Recover(ctx)

	_, toggles := p.counts()
	assert.Equal(t, 1, toggles)
	assert.Equal(t, English, e.Mode())
	assert.Equal(t, []Mode{English}, got)
	assert.Equal(t, Synced, e.SyncState())
}

func TestListenerPanicIsIsolated(t *testing.T) {
	p := &scripted{handle: "win-1"}
	e, _, _ := newTestEngine(t, p)
	ctx := context.Background()

	var second int
	e.AddListener(func(Mode) { panic("boom") })
	e.AddListener(func(Mode) { second++ })

	assert.NotPanics(t, func() { e.Toggle(ctx) })
	assert.Equal(t, 1, second)
}

func TestRemoveListener(t *testing.T) {
	p := &scripted{handle: "win-1"}
	e, _, _ := newTestEngine(t, p)

	var calls int
	id := e.AddListener(func(Mode) { calls++ })
	assert.True(t, e.RemoveListener(id))
	assert.False(t, e.RemoveListener(id))

	e.Toggle(context.Background())
	assert.Zero(t, calls)
}

func TestListenerMayQueryEngine(t *testing.T) {
	p := &scripted{handle: "win-1"}
	e, _, _ := newTestEngine(t, p)

	var seen Mode
	e.AddListener(func(Mode) { seen = e.Mode() })

	done := make(chan struct{})
	go func() {
		e.Toggle(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener deadlocked on engine lock")
	}
	assert.Equal(t, Korean, seen)
}

func TestRunDrivesSync(t *testing.T) {
	p := &scripted{handle: "win-1"}
	e, clock, _ := newTestEngine(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Initialize(ctx)
	p.set(func(s *scripted) {
		s.handle = "win-2"
		s.mode = Korean
	})

	var changed atomic.Bool
	e.AddListener(func(m Mode) { changed.Store(m == Korean) })

	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(500 * time.Millisecond)

	require.Eventually(t, changed.Load, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-errc, context.Canceled))
}

func TestRunRecoversWhenDue(t *testing.T) {
	p := &scripted{handle: "win-1", failReads: -1}
	e, clock, rec := newTestEngine(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Initialize(ctx)
	for i := 0; i < 2; i++ {
		clock.Advance(time.Second)
		e.SyncIfNeeded(ctx)
	}
	require.True(t, e.RecoveryDue())

	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool {
		_, toggles := p.counts()
		return toggles == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, rec.kinds(), EventFallback)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestStaticBackend(t *testing.T) {
	s := NewStatic(English)
	e := NewWithPlatform(s, Options{Logger: quietLogger(), RetryDelay: 0})
	ctx := context.Background()

	s.SetMode(Korean)
	e.Initialize(ctx)
	assert.Equal(t, Korean, e.Mode())

	e.ForceState(ctx, English)
	assert.Equal(t, English, e.Mode())
	assert.Equal(t, 1, s.Toggles())

	m, err := s.ReadState(ctx, "static")
	require.NoError(t, err)
	assert.Equal(t, English, m)
}

func TestModeParsing(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Mode
	}{
		{"english", English},
		{"en", English},
		{"korean", Korean},
		{"ko", Korean},
	} {
		got, err := ParseMode(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseMode("klingon")
	assert.Error(t, err)
	assert.Equal(t, English, Korean.Next())
}

func TestOpenPlatformStatic(t *testing.T) {
	p, err := OpenPlatform(PlatformConfig{Backend: "static"})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "static", p.Name())
}
