package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nestkbd/internal/ime"
)

const namespace = "nestkbd"

// Collectors are the Prometheus series exported by the keyboard.
type Collectors struct {
	OpDuration  *prometheus.HistogramVec
	OpErrors    *prometheus.CounterVec
	IMEEvents   *prometheus.CounterVec
	IMEFailures prometheus.Gauge
	IMEKorean   prometheus.Gauge
}

// NewCollectors creates the collectors and registers them with reg.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of keyboard operations.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		OpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Keyboard operations that returned an error.",
		}, []string{"op"}),
		IMEEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ime",
			Name:      "events_total",
			Help:      "IME sync engine events by kind.",
		}, []string{"kind"}),
		IMEFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ime",
			Name:      "consecutive_failures",
			Help:      "Consecutive failed IME sync cycles.",
		}),
		IMEKorean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ime",
			Name:      "korean_mode",
			Help:      "1 when the believed IME mode is Korean.",
		}),
	}

	for _, col := range []prometheus.Collector{c.OpDuration, c.OpErrors, c.IMEEvents, c.IMEFailures, c.IMEKorean} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collectors) observe(s Sample) {
	c.OpDuration.WithLabelValues(s.Op).Observe(s.Latency.Seconds())
	if !s.OK {
		c.OpErrors.WithLabelValues(s.Op).Inc()
	}
}

// ObserveSync exports IME engine events.
func (c *Collectors) ObserveSync(e ime.Event) {
	c.IMEEvents.WithLabelValues(string(e.Kind)).Inc()
	c.IMEFailures.Set(float64(e.Failures))
	if e.Mode == ime.Korean {
		c.IMEKorean.Set(1)
	} else {
		c.IMEKorean.Set(0)
	}
}

// Handler serves the gathered metrics in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var _ ime.Observer = (*Collectors)(nil)
