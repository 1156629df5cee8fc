package resource

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client request instruments.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	TokenRefreshes  *prometheus.CounterVec
}

// NewMetrics registers the client instruments on reg. A nil reg uses a
// private registry so several clients can live in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_resource_request_duration_seconds",
			Help:    "Duration of backend requests by resource, method and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource", "method", "status"}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_resource_token_refreshes_total",
			Help: "Access token refresh attempts by outcome.",
		}, []string{"outcome"}),
	}
}
