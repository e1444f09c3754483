// Package metrics holds the Prometheus instruments shared by the caches. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "annotationcache"

// Metrics groups the counters and gauges for both cache kinds.
type Metrics struct {
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	InvalidIDs         *prometheus.CounterVec
	UpstreamRequests   *prometheus.CounterVec
	PersistedDocuments *prometheus.CounterVec
	SnapshotLoads      *prometheus.CounterVec
	SnapshotRecords    *prometheus.GaugeVec
}

// New creates the instruments and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Identifiers resolved from the persistent store.",
		}, []string{"collection"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Valid identifiers that required an upstream fetch.",
		}, []string{"collection"}),
		InvalidIDs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_ids_total",
			Help:      "Identifiers dropped by the validity predicate.",
		}, []string{"collection"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream page requests by outcome.",
		}, []string{"collection", "outcome"}),
		PersistedDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_documents_total",
			Help:      "Documents upserted into the persistent store.",
		}, []string{"collection"}),
		SnapshotLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_loads_total",
			Help:      "Full snapshot loads by outcome.",
		}, []string{"cache", "outcome"}),
		SnapshotRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Records held by the in-memory snapshot index.",
		}, []string{"cache"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CacheHits,
			m.CacheMisses,
			m.InvalidIDs,
			m.UpstreamRequests,
			m.PersistedDocuments,
			m.SnapshotLoads,
			m.SnapshotRecords,
		)
	}
	return m
}

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeEmpty   = "empty"
)

func (m *Metrics) Hits(collection string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheHits.WithLabelValues(collection).Add(float64(n))
}

func (m *Metrics) Misses(collection string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheMisses.WithLabelValues(collection).Add(float64(n))
}

func (m *Metrics) Invalid(collection string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.InvalidIDs.WithLabelValues(collection).Add(float64(n))
}

func (m *Metrics) Upstream(collection, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(collection, outcome).Inc()
}

func (m *Metrics) Persisted(collection string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PersistedDocuments.WithLabelValues(collection).Add(float64(n))
}

func (m *Metrics) SnapshotLoad(cache, outcome string, records int) {
	if m == nil {
		return
	}
	m.SnapshotLoads.WithLabelValues(cache, outcome).Inc()
	if outcome == OutcomeSuccess {
		m.SnapshotRecords.WithLabelValues(cache).Set(float64(records))
	}
}
