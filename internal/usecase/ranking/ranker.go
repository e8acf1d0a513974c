// Package ranking reorders a result page by semantic similarity to a query.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/opportunity"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/logger"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

// Ranker defaults.
const (
	DefaultTopN        = 25
	DefaultPoolSize    = 100 // one worker per candidate of a full registry page
	DefaultCallTimeout = 10 * time.Second
)

// Rerank outcomes.
const (
	OutcomeRanked   = "ranked"
	OutcomeSkipped  = "skipped"
	OutcomeFallback = "fallback"
)

// embedder is the consumer interface for the embedding generator (ISP).
type embedder interface {
	Embed(ctx context.Context, p provider.Provider, creds domain.Credentials, text string) ([]float32, error)
}

// Outcome is the ranked list. Ranked is false when the input came back unchanged.
type Outcome struct {
	Opportunities []opportunity.Opportunity
	Ranked        bool
}

// Ranker scores candidates by cosine similarity between the query embedding and
// each candidate's title, description and synopsis.
type Ranker struct {
	embedder    embedder
	pool        *ants.Pool
	topN        int
	callTimeout time.Duration
}

// Option configures a Ranker.
type Option func(*config)

type config struct {
	topN        int
	poolSize    int
	callTimeout time.Duration
}

// WithTopN caps the ranked list length.
func WithTopN(n int) Option { return func(c *config) { c.topN = n } }

// WithPoolSize sets the number of concurrent embedding calls.
func WithPoolSize(n int) Option { return func(c *config) { c.poolSize = n } }

// WithCallTimeout bounds each embedding call.
func WithCallTimeout(d time.Duration) Option { return func(c *config) { c.callTimeout = d } }

// New creates a ranker with its worker pool. Call Release when done.
func New(e embedder, opts ...Option) (*Ranker, error) {
	cfg := config{topN: DefaultTopN, poolSize: DefaultPoolSize, callTimeout: DefaultCallTimeout}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.topN <= 0 {
		cfg.topN = DefaultTopN
	}
	if cfg.poolSize <= 0 {
		cfg.poolSize = DefaultPoolSize
	}
	if cfg.callTimeout <= 0 {
		cfg.callTimeout = DefaultCallTimeout
	}

	pool, err := ants.NewPool(cfg.poolSize)
	if err != nil {
		return nil, fmt.Errorf("create ranking pool: %w", err)
	}
	return &Ranker{
		embedder:    e,
		pool:        pool,
		topN:        cfg.topN,
		callTimeout: cfg.callTimeout,
	}, nil
}

// Release stops the worker pool.
func (r *Ranker) Release() { r.pool.Release() }

// Rank embeds query once and every candidate concurrently, then returns the
// candidates sorted by descending similarity and cut to the top N. Ties keep
// their upstream order. An empty query returns the input unchanged. Any embedding
// failure also returns the input unchanged; the failure is logged, not returned.
// candidates is never modified.
func (r *Ranker) Rank(
	ctx context.Context,
	candidates []opportunity.Opportunity,
	query string,
	p provider.Provider,
	creds domain.Credentials,
) Outcome {
	query = strings.TrimSpace(query)
	if query == "" || len(candidates) == 0 {
		metrics.RerankTotal.WithLabelValues(OutcomeSkipped).Inc()
		return Outcome{Opportunities: candidates}
	}

	log := logger.FromContext(ctx)
	start := time.Now()
	defer func() { metrics.RerankDuration.Observe(time.Since(start).Seconds()) }()

	scored, err := r.score(ctx, candidates, query, p, creds)
	if err != nil {
		metrics.RerankTotal.WithLabelValues(OutcomeFallback).Inc()
		log.Warn("Ranking failed, returning upstream order",
			zap.String("provider", string(p)),
			zap.Int("candidates", len(candidates)),
			zap.Error(err),
		)
		return Outcome{Opportunities: candidates}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	if len(scored) > r.topN {
		scored = scored[:r.topN]
	}

	metrics.RerankTotal.WithLabelValues(OutcomeRanked).Inc()
	log.Debug("Ranking completed",
		zap.String("provider", string(p)),
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(scored)),
		zap.Duration("duration", time.Since(start)),
	)
	return Outcome{Opportunities: scored, Ranked: true}
}

func (r *Ranker) score(
	ctx context.Context,
	candidates []opportunity.Opportunity,
	query string,
	p provider.Provider,
	creds domain.Credentials,
) ([]opportunity.Opportunity, error) {
	qv, err := r.embed(ctx, time.Now().Add(r.callTimeout), p, creds, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vectors := make([][]float32, len(candidates))
	errs := make([]error, len(candidates))
	var wg sync.WaitGroup

	// Every candidate shares one deadline, so time spent queued for a worker
	// counts against the call timeout.
	deadline := time.Now().Add(r.callTimeout)

	for i := range candidates {
		text := candidates[i].SearchText()
		if text == "" {
			continue
		}
		wg.Add(1)
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			vectors[i], errs[i] = r.embed(ctx, deadline, p, creds, text)
		})
		if submitErr != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit: %w", submitErr)
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("embed candidates: %w", err)
	}

	out := opportunity.Clone(candidates)
	for i := range out {
		out[i].RelevanceScore = CosineSimilarity(qv, vectors[i])
	}
	return out, nil
}

func (r *Ranker) embed(
	ctx context.Context, deadline time.Time, p provider.Provider, creds domain.Credentials, text string,
) ([]float32, error) {
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return r.embedder.Embed(callCtx, p, creds, text)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the lengths differ or either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
