package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	m := NewPrometheus()

	m.RecordClose("closed", "", 120*time.Millisecond)
	m.RecordClose("unknown", "timeout", 15*time.Second)
	m.RecordClose("unknown", "timeout", 15*time.Second)
	m.RecordSync("sort", true, 40*time.Millisecond)
	m.RecordSyncDropped("search")
	m.RecordBid("42")
	m.RecordBid("43")
	m.SetActiveTimers(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.closesTotal.WithLabelValues("closed", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.closesTotal.WithLabelValues("unknown", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncsTotal.WithLabelValues("sort", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncsDropped.WithLabelValues("search")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bidsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeTimers))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestPrometheusHandler(t *testing.T) {
	m := NewPrometheus()
	m.SetActiveTimers(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "auctionsync_active_countdowns 2")
}

func TestNoOpSatisfiesCollector(t *testing.T) {
	var c Collector = NoOp{}
	c.RecordClose("closed", "", time.Second)
	c.SetActiveTimers(1)
}
