// Package metrics exposes Prometheus instrumentation of the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "feed_mirror"

// Fetch results
const (
	ResultOK        = "ok"
	ResultNetwork   = "network"
	ResultMalformed = "malformed"
)

// Batch results
const (
	BatchAdvanced    = "advanced"
	BatchStoreFailed = "store_failed"
)

// Reconciliation results
const (
	ReconcileUnchanged    = "unchanged"
	ReconcileUpdated      = "updated"
	ReconcileSourceFailed = "source_failed"
	ReconcileStoreFailed  = "store_failed"
)

// Metrics holds all collectors of the sync engine. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ItemsFetched    *prometheus.CounterVec
	ItemsMissing    prometheus.Counter
	FanoutTimeouts  prometheus.Counter
	FanoutDuration  prometheus.Histogram
	Batches         *prometheus.CounterVec
	HighWaterMark   prometheus.Gauge
	Reconciliations *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Item fetches by result",
		}, []string{"result"}),
		ItemsMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_missing_total",
			Help:      "Ids requested by catch-up batches that were not returned",
		}),
		FanoutTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_timeouts_total",
			Help:      "Fan-out calls that returned at the deadline with fetches still in flight",
		}),
		FanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_duration_seconds",
			Help:      "Wall-clock duration of fan-out calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Catch-up batches by result",
		}, []string{"result"}),
		HighWaterMark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "high_water_mark",
			Help:      "Largest item id durably captured",
		}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Change reconciliation passes by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.ItemsFetched,
		m.ItemsMissing,
		m.FanoutTimeouts,
		m.FanoutDuration,
		m.Batches,
		m.HighWaterMark,
		m.Reconciliations,
	)
	return m
}

// FetchDone records the result of a single item fetch
func (m *Metrics) FetchDone(result string) {
	if m == nil {
		return
	}
	m.ItemsFetched.WithLabelValues(result).Inc()
}

// FanoutDone records a finished fan-out call
func (m *Metrics) FanoutDone(elapsed time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.FanoutDuration.Observe(elapsed.Seconds())
	if timedOut {
		m.FanoutTimeouts.Inc()
	}
}

// Missing records ids a batch asked for but did not get
func (m *Metrics) Missing(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsMissing.Add(float64(n))
}

// BatchDone records the outcome of a catch-up batch
func (m *Metrics) BatchDone(result string) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(result).Inc()
}

// Advanced records the new high-water mark
func (m *Metrics) Advanced(hwm int64) {
	if m == nil {
		return
	}
	m.HighWaterMark.Set(float64(hwm))
}

// ReconcileDone records the outcome of a reconciliation pass
func (m *Metrics) ReconcileDone(result string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(result).Inc()
}
