package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Search pipeline Prometheus metrics.
var (
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Registry requests by HTTP status (\"error\" for transport failures)",
		},
		[]string{"status"},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Registry request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	ResponseCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_total",
			Help:      "Response cache lookups",
		},
		[]string{"result"}, // hit / miss / store_error
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Inbound rate limiter decisions",
		},
		[]string{"decision"}, // allowed / rejected
	)

	RerankTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_total",
			Help:      "Semantic rerank outcomes",
		},
		[]string{"outcome"}, // ranked / skipped / fallback
	)

	RerankDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rerank_duration_seconds",
			Help:      "Semantic rerank duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	IndexedDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_documents_total",
			Help:      "Opportunities pushed to the vector index",
		},
		[]string{"result"}, // ok / error
	)

	SweptEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_entries_total",
			Help:      "Expired entries removed by the maintenance sweeper",
		},
		[]string{"target"},
	)
)

var searchOnce sync.Once

// RegisterSearchMetrics registers the search pipeline collectors. Safe to call
// more than once.
func RegisterSearchMetrics() {
	searchOnce.Do(func() {
		prometheus.MustRegister(
			UpstreamRequestsTotal,
			UpstreamRequestDuration,
			ResponseCacheTotal,
			RateLimitDecisionsTotal,
			RerankTotal,
			RerankDuration,
			IndexedDocumentsTotal,
			SweptEntriesTotal,
		)
	})
}
