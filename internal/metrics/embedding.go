package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "oppfinder"

// Embedding pipeline metrics, labelled by provider where the call is provider-bound.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider calls by outcome",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider call duration in seconds",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_tokens_total",
			Help:      "Embedding tokens reported by providers",
		},
		[]string{"provider", "model", "type"},
	)

	EmbeddingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_errors_total",
			Help:      "Embedding provider failures by kind",
		},
		[]string{"provider", "model", "error_type"},
	)

	EmbeddingBudgetTokensRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embedding_budget_tokens_remaining",
			Help:      "Tokens left in the current budget window, -1 when unlimited",
		},
		[]string{"provider", "period"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache lookups by tier",
		},
		[]string{"tier", "result"}, // tier: l1/l2, result: hit/miss
	)
)

var embeddingOnce sync.Once

// RegisterEmbeddingMetrics registers the embedding collectors with the default
// registry. Safe to call more than once.
func RegisterEmbeddingMetrics() {
	embeddingOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			EmbeddingBudgetTokensRemaining,
			EmbeddingCacheTotal,
		)
	})
}

// Error kinds for EmbeddingErrorsTotal.
const (
	EmbeddingErrAPI     = "api_error"
	EmbeddingErrEmpty   = "empty_response"
	EmbeddingErrTimeout = "timeout"
)

// EmbeddingCall records a single provider call.
type EmbeddingCall struct {
	provider, model string
	start           time.Time
}

// StartEmbeddingCall begins timing a call to provider with model.
func StartEmbeddingCall(provider, model string) EmbeddingCall {
	return EmbeddingCall{provider: provider, model: model, start: time.Now()}
}

// Fail counts a failed call. Deadline errors are counted as timeouts whatever kind says.
func (c EmbeddingCall) Fail(kind string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = EmbeddingErrTimeout
	}
	EmbeddingRequestsTotal.WithLabelValues(c.provider, c.model, "error").Inc()
	EmbeddingErrorsTotal.WithLabelValues(c.provider, c.model, kind).Inc()
}

// Done counts a successful call with the token usage the provider reported.
func (c EmbeddingCall) Done(promptTokens, totalTokens int) {
	EmbeddingRequestsTotal.WithLabelValues(c.provider, c.model, "success").Inc()
	EmbeddingRequestDuration.WithLabelValues(c.provider, c.model).Observe(time.Since(c.start).Seconds())
	if promptTokens > 0 {
		EmbeddingTokensTotal.WithLabelValues(c.provider, c.model, "prompt").Add(float64(promptTokens))
	}
	if totalTokens > 0 {
		EmbeddingTokensTotal.WithLabelValues(c.provider, c.model, "total").Add(float64(totalTokens))
	}
}
