// Package metrics exposes the log engine's operational gauges/counters via
// prometheus/promauto: the log's tail/head cursor position and the
// combiner's batching/handoff/backpressure behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the metrics one Log+Replica set needs. Each replica
// registers its own labeled instance so dashboards can break down by NUMA
// node.
type Registry struct {
	LogTail       prometheus.Gauge
	LogHead       prometheus.Gauge
	NeedSyncTotal prometheus.Counter
	CombineBatch  prometheus.Histogram
	HandoffsTotal prometheus.Counter
}

// New registers a Registry's metrics under the given replica label. It
// panics on duplicate registration, matching promauto's own behavior --
// callers are expected to construct one Registry per replica, once.
func New(reg prometheus.Registerer, replica string) *Registry {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"replica": replica}

	return &Registry{
		LogTail: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nrlog",
			Name:        "log_tail",
			Help:        "Current producer tail cursor of the shared log.",
			ConstLabels: labels,
		}),
		LogHead: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nrlog",
			Name:        "log_head",
			Help:        "Current reclamation head cursor of the shared log.",
			ConstLabels: labels,
		}),
		NeedSyncTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "nrlog",
			Name:        "need_sync_total",
			Help:        "Number of times an append hit backpressure and had to drain before retrying.",
			ConstLabels: labels,
		}),
		CombineBatch: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "nrlog",
			Name:        "combine_batch_size",
			Help:        "Number of ops gathered into a single combiner pass.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		HandoffsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "nrlog",
			Name:        "combiner_handoffs_total",
			Help:        "Number of times the combiner lock changed hands.",
			ConstLabels: labels,
		}),
	}
}
