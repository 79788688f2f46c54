package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestkbd/internal/ime"
)

func TestCollectorsReceiveSamples(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollectors(reg)
	require.NoError(t, err)

	r := NewRecorder(Options{Clock: clockwork.NewFakeClock(), Collectors: c})
	r.Record("press", time.Millisecond, nil)
	r.Record("press", time.Millisecond, errBoom)
	r.Record("release", time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.OpErrors.WithLabelValues("press")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.OpErrors.WithLabelValues("release")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.OpDuration))
}

func TestCollectorsObserveSync(t *testing.T) {
	c, err := NewCollectors(prometheus.NewRegistry())
	require.NoError(t, err)

	c.ObserveSync(ime.Event{Kind: ime.EventSyncFailed, Failures: 2})
	c.ObserveSync(ime.Event{Kind: ime.EventToggled, Mode: ime.Korean, Failures: 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.IMEFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.IMEKorean))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.IMEEvents.WithLabelValues("sync_failed")))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollectors(reg)
	require.NoError(t, err)
	_, err = NewCollectors(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollectors(reg)
	require.NoError(t, err)
	c.IMEFailures.Set(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "nestkbd_ime_consecutive_failures 3"))
}
