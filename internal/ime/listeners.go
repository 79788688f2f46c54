package ime

import (
	"fmt"
	"log/slog"
	"sync"
)

// Listener is notified with the newly believed mode.
type Listener func(Mode)

// ListenerID identifies a registered listener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// listenerSet is an ordered observer list. Delivery isolates each listener:
// a panic is logged and the remaining listeners still run.
type listenerSet struct {
	mu      sync.Mutex
	nextID  ListenerID
	entries []listenerEntry
}

func (s *listenerSet) add(fn Listener) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.entries = append(s.entries, listenerEntry{id: s.nextID, fn: fn})
	return s.nextID
}

func (s *listenerSet) remove(id ListenerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (s *listenerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// broadcast delivers m to a snapshot of the listeners, so listeners may add
// or remove registrations while being notified.
func (s *listenerSet) broadcast(logger *slog.Logger, m Mode) {
	s.mu.Lock()
	snapshot := make([]listenerEntry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	for _, e := range snapshot {
		deliver(logger, e, m)
	}
}

func deliver(logger *slog.Logger, e listenerEntry, m Mode) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("ime listener panicked",
				"listener", uint64(e.id),
				"mode", m.String(),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	e.fn(m)
}
