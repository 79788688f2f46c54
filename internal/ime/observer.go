package ime

import "time"

// EventKind classifies engine events.
type EventKind string

const (
	EventInitialized  EventKind = "initialized"
	EventReconciled   EventKind = "reconciled"
	EventDrift        EventKind = "drift"
	EventSyncFailed   EventKind = "sync_failed"
	EventToggled      EventKind = "toggled"
	EventToggleFailed EventKind = "toggle_failed"
	EventRecovering   EventKind = "recovering"
	EventRecovered    EventKind = "recovered"
	EventFallback     EventKind = "fallback"
)

// Event describes something the engine did. Events are informational;
// they are emitted for the journal and diagnostics, not for UI updates.
type Event struct {
	Kind      EventKind
	Mode      Mode
	State     SyncState
	Failures  int
	Context   Handle
	Err       error
	Timestamp time.Time
}

// Observer receives engine events. Implementations must not call back into
// the engine.
type Observer interface {
	ObserveSync(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) ObserveSync(e Event) { f(e) }

// Observers fans each event out to every non-nil observer in order.
type Observers []Observer

func (obs Observers) ObserveSync(e Event) {
	for _, o := range obs {
		if o != nil {
			o.ObserveSync(e)
		}
	}
}
