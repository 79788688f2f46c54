package inject

import (
	"sync"
)

// Event is one recorded key transition.
type Event struct {
	Code Code
	Down bool
}

func (e Event) String() string {
	if e.Down {
		return e.Code.Name + "-down"
	}
	return e.Code.Name + "-up"
}

// Recorder is an Injector that records events in memory. It backs dry runs
// and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	fail   error
	closed bool
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Press(c Code) error { return r.record(c, true) }

func (r *Recorder) Release(c Code) error { return r.record(c, false) }

func (r *Recorder) record(c Code, down bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, Event{Code: c, Down: down})
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Fail makes every following event fail with err. nil restores recording.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Trace returns the recorded events as "name-down"/"name-up" strings.
func (r *Recorder) Trace() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.String()
	}
	return out
}

// Reset clears the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

var _ Injector = (*Recorder)(nil)
