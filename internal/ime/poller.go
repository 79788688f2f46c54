package ime

import (
	"context"
	"sync"
)

// Run calls SyncIfNeeded once per SyncInterval until ctx is done, running a
// due recovery in place of the sync. The rate limit inside SyncIfNeeded
// still applies, so Run may share the engine with callers that sync on key
// events.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if !e.RecoverIfDue(ctx) {
				e.SyncIfNeeded(ctx)
			}
		}
	}
}

// Poller runs an engine in the background and hands mode changes to a
// consumer on another goroutine. Updates holds at most one pending mode;
// a newer change replaces an unread one.
type Poller struct {
	engine  *Engine
	updates chan Mode
	id      ListenerID

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller subscribes to e. Call Stop to unsubscribe.
func NewPoller(e *Engine) *Poller {
	p := &Poller{
		engine:  e,
		updates: make(chan Mode, 1),
	}
	p.id = e.AddListener(p.publish)
	return p
}

func (p *Poller) publish(m Mode) {
	for {
		select {
		case p.updates <- m:
			return
		default:
		}
		select {
		case <-p.updates:
		default:
		}
	}
}

// Updates delivers the latest believed mode after each change.
func (p *Poller) Updates() <-chan Mode {
	return p.updates
}

// Start runs the engine's sync loop until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = p.engine.Run(ctx)
	}(p.done)
}

// Stop ends the sync loop, waits for it and unsubscribes.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	p.engine.RemoveListener(p.id)
}
