package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/logger"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// InstrumentedEmbedder wraps a provider embedder with budget enforcement and logging.
// Transport metrics (requests, duration, tokens) are recorded by the provider packages;
// this layer owns the budget and the budget gauges.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider provider.Provider
	model    string
	budget   BudgetChecker
}

// NewInstrumentedEmbedder wraps inner. budget may be nil.
func NewInstrumentedEmbedder(
	inner domain.Embedder, p provider.Provider, model string, budget BudgetChecker,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: p,
		model:    model,
		budget:   budget,
	}
}

// Embed checks the budget, delegates to the inner embedder and records usage.
func (p *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	log := logger.FromContext(ctx).With(
		zap.String("provider", string(p.provider)),
		zap.String("model", p.model),
	)

	if p.budget != nil {
		if err := p.budget.Check(ctx); err != nil {
			log.Warn("Embedding budget exceeded", zap.Error(err))
			return domain.EmbeddingResult{}, fmt.Errorf("budget check: %w", err)
		}
	}

	start := time.Now()
	result, err := p.inner.Embed(ctx, text)
	duration := time.Since(start)
	if err != nil {
		log.Warn("Embedding request failed", zap.Duration("duration", duration), zap.Error(err))
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	if p.budget != nil && result.TotalTokens > 0 {
		p.budget.Record(int64(result.TotalTokens))
		remaining := metrics.EmbeddingBudgetTokensRemaining
		remaining.WithLabelValues(string(p.provider), "daily").Set(float64(p.budget.RemainingDaily()))
		remaining.WithLabelValues(string(p.provider), "monthly").Set(float64(p.budget.RemainingMonthly()))
	}

	log.Debug("Embedding request completed",
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)
	return result, nil
}
