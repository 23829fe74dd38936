// Package observability provides Prometheus metrics for the refresh engine.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes used as the status label.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusStale     = "stale"     // Rejected by the store as older than the last commit
	StatusDiscarded = "discarded" // Epoch changed while the fetch was in flight
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Refresh metrics
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	TriggersDropped *prometheus.CounterVec
	CyclesTotal     *prometheus.CounterVec

	// Store metrics
	StoreGeneration prometheus.Gauge
	LastCommit      *prometheus.GaugeVec

	// Valuation metrics
	ValueUSD         *prometheus.GaugeVec
	UnknownPositions *prometheus.GaugeVec
	StaleTotals      *prometheus.GaugeVec

	// Sink metrics
	SinkErrors *prometheus.CounterVec
}

// NewMetrics registers every metric on reg. Tests pass a fresh prometheus.NewRegistry().
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tvl"
	}
	factory := promauto.With(reg)

	return &Metrics{
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "fetches_total",
			Help:      "Total number of collection fetches by outcome",
		}, []string{"collection", "scope", "status"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of one collection fetch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection", "scope"}),
		TriggersDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "triggers_dropped_total",
			Help:      "Refresh triggers dropped because a fetch of the collection was already in flight",
		}, []string{"collection", "scope"}),
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "cycles_total",
			Help:      "Total number of refresh cycles by scope",
		}, []string{"scope"}),

		StoreGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "generation",
			Help:      "Generation of the latest committed snapshot",
		}),
		LastCommit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "last_commit_timestamp",
			Help:      "Unix timestamp of the last commit per collection and scope",
		}, []string{"collection", "scope"}),

		ValueUSD: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "value_usd",
			Help:      "Latest USD value per deployment and component (farms, pools, total)",
		}, []string{"deployment", "component"}),
		UnknownPositions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "unknown_positions",
			Help:      "Farms excluded from the total because their liquidity is unknown",
		}, []string{"deployment"}),
		StaleTotals: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "stale",
			Help:      "1 when the deployment total is stale",
		}, []string{"deployment"}),

		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Errors publishing or recording totals by sink",
		}, []string{"sink"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordFetch records one fetch outcome and its duration.
func (m *Metrics) RecordFetch(collection, scope, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(collection, scope, status).Inc()
	m.FetchDuration.WithLabelValues(collection, scope).Observe(d.Seconds())
}

// RecordDroppedTrigger counts a trigger that found its collection busy.
func (m *Metrics) RecordDroppedTrigger(collection, scope string) {
	if m == nil {
		return
	}
	m.TriggersDropped.WithLabelValues(collection, scope).Inc()
}

// RecordCycle counts a refresh cycle.
func (m *Metrics) RecordCycle(scope string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(scope).Inc()
}

// RecordCommit updates store gauges after a successful apply.
func (m *Metrics) RecordCommit(collection, scope string, generation uint64, at time.Time) {
	if m == nil {
		return
	}
	m.StoreGeneration.Set(float64(generation))
	m.LastCommit.WithLabelValues(collection, scope).Set(float64(at.Unix()))
}

// RecordValuation updates the valuation gauges of one deployment.
func (m *Metrics) RecordValuation(deployment string, farms, pools, total float64, unknown int, stale bool) {
	if m == nil {
		return
	}
	m.ValueUSD.WithLabelValues(deployment, "farms").Set(farms)
	m.ValueUSD.WithLabelValues(deployment, "pools").Set(pools)
	m.ValueUSD.WithLabelValues(deployment, "total").Set(total)
	m.UnknownPositions.WithLabelValues(deployment).Set(float64(unknown))
	staleValue := 0.0
	if stale {
		staleValue = 1
	}
	m.StaleTotals.WithLabelValues(deployment).Set(staleValue)
}

// RecordSinkError counts a failed publish or history write.
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}
