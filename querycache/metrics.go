package querycache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the cache instruments. Counters are labelled by resource name.
type Metrics struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Fetches       *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
	Evictions     *prometheus.CounterVec
	Entries       prometheus.Gauge
}

// NewMetrics registers the cache instruments on reg. A nil reg uses a
// private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "querycache",
			Name:      name,
			Help:      help,
		}, []string{"resource"})
	}

	return &Metrics{
		Hits:          counter("hits_total", "Reads served from a fresh cached result."),
		Misses:        counter("misses_total", "Reads that found no fresh result."),
		Fetches:       counter("fetches_total", "Fetches issued to the backend."),
		FetchErrors:   counter("fetch_errors_total", "Fetches that failed after retries."),
		Retries:       counter("retries_total", "Fetch attempts repeated after a retryable failure."),
		Invalidations: counter("invalidations_total", "Entries marked stale by invalidation."),
		Evictions:     counter("evictions_total", "Entries dropped after the idle grace period."),
		Entries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "querycache",
			Name:      "entries",
			Help:      "Entries currently tracked by the cache.",
		}),
	}
}
