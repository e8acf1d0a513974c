// Package search composes the rate limiter, the response cache, the registry
// client and the ranker into one search operation.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/opportunity"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/domain/search/page"
	"github.com/kailas-cloud/oppfinder/internal/domain/search/query"
	"github.com/kailas-cloud/oppfinder/internal/logger"
	"github.com/kailas-cloud/oppfinder/internal/repository/respcache"
)

// DefaultIndexTimeout bounds one background indexing run.
const DefaultIndexTimeout = time.Minute

// Request is one search call.
type Request struct {
	// Identity keys the rate limiter; empty means anonymous.
	Identity string
	Filters  query.Raw
	// UpstreamKey is the caller's registry key; empty falls back to the server key.
	UpstreamKey string

	Semantic bool
	// SemanticQuery overrides the keyword as the ranking query.
	SemanticQuery  string
	Provider       string
	EmbeddingCreds domain.Credentials
}

// Response is the assembled page.
type Response struct {
	Page     page.Page
	Cached   bool
	Ranked   bool
	StoredAt time.Time
}

// Config holds service settings.
type Config struct {
	CacheTTL     time.Duration
	UpstreamKey  string
	IndexTimeout time.Duration
}

// Service runs searches.
type Service struct {
	limiter   Limiter
	registry  Registry
	cache     ResponseCache
	ranker    Ranker
	providers Providers
	indexer   Indexer
	indexPool *ants.Pool
	cfg       Config
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRanker enables semantic ranking.
func WithRanker(r Ranker, p Providers) Option {
	return func(s *Service) {
		s.ranker = r
		s.providers = p
	}
}

// WithIndexer pushes every fetched page to idx. pool runs the pushes; nil
// starts a goroutine per push.
func WithIndexer(idx Indexer, pool *ants.Pool) Option {
	return func(s *Service) {
		s.indexer = idx
		s.indexPool = pool
	}
}

// WithClock overrides the clock used for default date windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a search service.
func New(l Limiter, r Registry, c ResponseCache, cfg Config, opts ...Option) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = respcache.DefaultTTL
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = DefaultIndexTimeout
	}
	s := &Service{
		limiter:  l,
		registry: r,
		cache:    c,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search admits the caller, normalizes the filters, serves the page from the
// cache or the registry, and ranks it when asked to.
//
// Errors: *domain.RateLimitError, *domain.ValidationError, domain.ErrUnsupportedProvider
// and *domain.UpstreamError. Ranking failures never surface; the page comes back
// in upstream order.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	ctx, log := logger.With(ctx, zap.String("identity", req.Identity))

	d := s.limiter.Admit(req.Identity)
	if !d.Allowed {
		retry := d.RetryAfter(s.limiter.Now())
		log.Info("Search rate limited", zap.Duration("retry_after", retry))
		return Response{}, &domain.RateLimitError{RetryAfter: retry}
	}

	apiKey := strings.TrimSpace(req.UpstreamKey)
	if apiKey == "" {
		apiKey = s.cfg.UpstreamKey
	}
	if apiKey == "" {
		return Response{}, domain.NewValidationError("registry api key is required")
	}

	semantic := req.Semantic && s.ranker != nil
	var p provider.Provider
	if semantic {
		var err error
		if p, err = s.providers.Resolve(req.Provider); err != nil {
			return Response{}, err
		}
		if !s.providers.HasCredentials(p, req.EmbeddingCreds) {
			return Response{}, domain.NewValidationError("embedding credentials are required for semantic ranking")
		}
	}

	canon, err := query.Normalize(req.Filters, s.now())
	if err != nil {
		return Response{}, err
	}

	ctx, log = logger.With(ctx, zap.String("fingerprint", canon.Fingerprint()))
	res, err := s.cache.GetOrCompute(ctx, canon.Fingerprint(), s.cfg.CacheTTL,
		func(ctx context.Context) (opportunity.Listing, error) {
			listing, err := s.registry.Search(ctx, canon.Params(), apiKey)
			if err != nil {
				return opportunity.Listing{}, err
			}
			s.indexAsync(ctx, listing.Opportunities)
			return listing, nil
		})
	if err != nil {
		return Response{}, err
	}

	opps := res.Value.Opportunities
	ranked := false
	if semantic {
		q := strings.TrimSpace(req.SemanticQuery)
		if q == "" {
			q = canon.Keyword()
		}
		out := s.ranker.Rank(ctx, opps, q, p, req.EmbeddingCreds)
		opps, ranked = out.Opportunities, out.Ranked
	}

	log.Debug("Search completed",
		zap.Bool("cached", res.Cached),
		zap.Bool("ranked", ranked),
		zap.Int("returned", len(opps)),
		zap.Int("total_records", res.Value.TotalRecords),
	)

	return Response{
		Page:     page.New(opps, res.Value.TotalRecords, canon.Limit(), canon.Offset()),
		Cached:   res.Cached,
		Ranked:   ranked,
		StoredAt: res.StoredAt,
	}, nil
}

// indexAsync hands opps to the indexer without waiting. Failures are logged only.
func (s *Service) indexAsync(ctx context.Context, opps []opportunity.Opportunity) {
	if s.indexer == nil || len(opps) == 0 {
		return
	}
	log := logger.FromContext(ctx)
	docs := opportunity.Clone(opps)
	bg := context.WithoutCancel(ctx)

	run := func() {
		ictx, cancel := context.WithTimeout(bg, s.cfg.IndexTimeout)
		defer cancel()
		if err := s.indexer.Index(ictx, docs); err != nil {
			log.Warn("Indexing fetched page failed", zap.Int("documents", len(docs)), zap.Error(err))
		}
	}

	if s.indexPool == nil {
		go run()
		return
	}
	if err := s.indexPool.Submit(run); err != nil {
		log.Warn("Indexing pool rejected page", zap.Error(err))
	}
}
