// Package metrics instruments keyboard operations: a bounded ring of recent
// samples backs a rate-limited health check, and Prometheus collectors
// export the same measurements.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Defaults for Options.
const (
	DefaultCapacity      = 100
	DefaultMaxErrorRate  = 0.10
	DefaultMaxLatency    = 100 * time.Millisecond
	DefaultCheckInterval = 5 * time.Second
)

// Sample is one recorded operation.
type Sample struct {
	Op      string
	Latency time.Duration
	OK      bool
	At      time.Time
}

// Options configures a Recorder. Zero values select the defaults.
type Options struct {
	Capacity      int
	MaxErrorRate  float64
	MaxLatency    time.Duration
	CheckInterval time.Duration
	Clock         clockwork.Clock

	// Collectors, if set, receive every sample.
	Collectors *Collectors
}

// Recorder keeps the most recent samples and judges health from them.
type Recorder struct {
	mu      sync.Mutex
	opts    Options
	clock   clockwork.Clock
	samples []Sample
	next    int
	full    bool

	checked   bool
	lastCheck time.Time
	healthy   bool
	detail    string
}

func NewRecorder(opts Options) *Recorder {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxErrorRate <= 0 {
		opts.MaxErrorRate = DefaultMaxErrorRate
	}
	if opts.MaxLatency <= 0 {
		opts.MaxLatency = DefaultMaxLatency
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Recorder{
		opts:    opts,
		clock:   opts.Clock,
		samples: make([]Sample, opts.Capacity),
	}
}

// Observe runs fn and records its latency and outcome under op. fn's error
// is returned unchanged.
func (r *Recorder) Observe(op string, fn func() error) error {
	start := r.clock.Now()
	err := fn()
	r.Record(op, r.clock.Since(start), err)
	return err
}

// Record adds a sample.
func (r *Recorder) Record(op string, latency time.Duration, err error) {
	s := Sample{Op: op, Latency: latency, OK: err == nil, At: r.clock.Now()}

	r.mu.Lock()
	r.samples[r.next] = s
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
	c := r.opts.Collectors
	r.mu.Unlock()

	if c != nil {
		c.observe(s)
	}
}

// Samples returns the retained samples, oldest first.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Recorder) snapshot() []Sample {
	if !r.full {
		out := make([]Sample, r.next)
		copy(out, r.samples[:r.next])
		return out
	}
	out := make([]Sample, 0, len(r.samples))
	out = append(out, r.samples[r.next:]...)
	return append(out, r.samples[:r.next]...)
}

// SetThresholds replaces the health thresholds. Non-positive values keep
// the current ones. The cached verdict is discarded.
func (r *Recorder) SetThresholds(maxErrorRate float64, maxLatency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxErrorRate > 0 {
		r.opts.MaxErrorRate = maxErrorRate
	}
	if maxLatency > 0 {
		r.opts.MaxLatency = maxLatency
	}
	r.checked = false
}

// Check reports whether the recent error rate and average latency are
// within the thresholds, with a diagnostic string. The verdict is computed
// at most once per CheckInterval and cached in between.
func (r *Recorder) Check() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if r.checked && now.Sub(r.lastCheck) < r.opts.CheckInterval {
		return r.healthy, r.detail
	}
	r.checked = true
	r.lastCheck = now
	r.healthy, r.detail = r.evaluate()
	return r.healthy, r.detail
}

func (r *Recorder) evaluate() (bool, string) {
	samples := r.snapshot()
	if len(samples) == 0 {
		return true, "no samples"
	}

	var (
		failed int
		total  time.Duration
	)
	for _, s := range samples {
		if !s.OK {
			failed++
		}
		total += s.Latency
	}
	rate := float64(failed) / float64(len(samples))
	avg := total / time.Duration(len(samples))

	switch {
	case rate > r.opts.MaxErrorRate:
		return false, fmt.Sprintf("error rate %.1f%% exceeds %.1f%% over %d operations",
			rate*100, r.opts.MaxErrorRate*100, len(samples))
	case avg > r.opts.MaxLatency:
		return false, fmt.Sprintf("average latency %s exceeds %s over %d operations",
			avg, r.opts.MaxLatency, len(samples))
	default:
		return true, fmt.Sprintf("%d operations, error rate %.1f%%, average latency %s",
			len(samples), rate*100, avg)
	}
}
