// Package metrics records close outcomes, sync cycles and timer counts.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for collecting client metrics
type Collector interface {
	RecordClose(outcome, reason string, duration time.Duration)
	RecordSync(action string, success bool, duration time.Duration)
	RecordSyncDropped(action string)
	RecordBid(auctionID string)
	SetActiveTimers(n int)
}

// NoOp is a no-op implementation for when metrics aren't needed
type NoOp struct{}

func (NoOp) RecordClose(outcome, reason string, duration time.Duration)     {}
func (NoOp) RecordSync(action string, success bool, duration time.Duration) {}
func (NoOp) RecordSyncDropped(action string)                                {}
func (NoOp) RecordBid(auctionID string)                                     {}
func (NoOp) SetActiveTimers(n int)                                          {}

const namespace = "auctionsync"

// Prometheus implements Collector with a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	closesTotal   *prometheus.CounterVec
	closeDuration *prometheus.HistogramVec
	syncsTotal    *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	syncsDropped  *prometheus.CounterVec
	bidsTotal     prometheus.Counter
	activeTimers  prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	m := &Prometheus{
		registry: registry,
		closesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "close_requests_total",
			Help:      "Close requests by outcome and reason.",
		}, []string{"outcome", "reason"}),
		closeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "close_request_duration_seconds",
			Help:      "Round trip of finish_auction calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		syncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Listing sync cycles by action and result.",
		}, []string{"action", "success"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Round trip of listing sync cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		syncsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_responses_superseded_total",
			Help:      "Responses discarded because a newer cycle was issued.",
		}, []string{"action"}),
		bidsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_relayed_total",
			Help:      "Bids received from the authority's bid channels.",
		}),
		activeTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_countdowns",
			Help:      "Live countdown timers.",
		}),
	}

	registry.MustRegister(
		m.closesTotal,
		m.closeDuration,
		m.syncsTotal,
		m.syncDuration,
		m.syncsDropped,
		m.bidsTotal,
		m.activeTimers,
	)
	return m
}

func (m *Prometheus) RecordClose(outcome, reason string, duration time.Duration) {
	m.closesTotal.WithLabelValues(outcome, reason).Inc()
	m.closeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Prometheus) RecordSync(action string, success bool, duration time.Duration) {
	m.syncsTotal.WithLabelValues(action, strconv.FormatBool(success)).Inc()
	m.syncDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (m *Prometheus) RecordSyncDropped(action string) {
	m.syncsDropped.WithLabelValues(action).Inc()
}

// RecordBid counts relayed bids. Auction ids are not used as labels to keep
// cardinality bounded.
func (m *Prometheus) RecordBid(auctionID string) {
	m.bidsTotal.Inc()
}

func (m *Prometheus) SetActiveTimers(n int) {
	m.activeTimers.Set(float64(n))
}

// Registry exposes the underlying registry, for tests.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
