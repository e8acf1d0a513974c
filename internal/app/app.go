// Package app wires configuration into a running search stack. Both the HTTP
// server and the CLI build their services here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/config"
	"github.com/kailas-cloud/oppfinder/internal/db"
	"github.com/kailas-cloud/oppfinder/internal/db/memory"
	dbRedis "github.com/kailas-cloud/oppfinder/internal/db/redis"
	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/opportunity"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
	budgetrepo "github.com/kailas-cloud/oppfinder/internal/repository/budget"
	"github.com/kailas-cloud/oppfinder/internal/repository/embcache"
	"github.com/kailas-cloud/oppfinder/internal/repository/respcache"
	"github.com/kailas-cloud/oppfinder/internal/repository/vectorindex"
	ollamaEmb "github.com/kailas-cloud/oppfinder/internal/transport/ollama"
	openaiEmb "github.com/kailas-cloud/oppfinder/internal/transport/openai"
	"github.com/kailas-cloud/oppfinder/internal/transport/registry"
	voyageEmb "github.com/kailas-cloud/oppfinder/internal/transport/voyage"
	embeddinguc "github.com/kailas-cloud/oppfinder/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/oppfinder/internal/usecase/health"
	"github.com/kailas-cloud/oppfinder/internal/usecase/ranking"
	"github.com/kailas-cloud/oppfinder/internal/usecase/ratelimit"
	searchuc "github.com/kailas-cloud/oppfinder/internal/usecase/search"
	"github.com/kailas-cloud/oppfinder/internal/usecase/sweeper"
	usageuc "github.com/kailas-cloud/oppfinder/internal/usecase/usage"
)

// App is the assembled service graph.
type App struct {
	Store     db.Store
	Limiter   *ratelimit.Limiter
	Generator *embeddinguc.Generator
	Search    *searchuc.Service
	Health    *healthuc.Service
	Usage     *usageuc.Service
	Sweeper   *sweeper.Sweeper
	Index     *vectorindex.Index

	ranker    *ranking.Ranker
	indexer   searchuc.Indexer
	indexPool *ants.Pool
}

// Build connects the cache store and assembles every service described by cfg.
// The caller must Close the returned App.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	metrics.RegisterSearchMetrics()
	metrics.RegisterEmbeddingMetrics()

	store, err := openStore(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	a := &App{Store: store}

	a.Limiter = ratelimit.New(
		config.Seconds(cfg.RateLimit.WindowSec),
		cfg.RateLimit.MaxRequests,
		ratelimit.WithDecisionCounter(metrics.RateLimitDecisionsTotal),
	)

	responses := respcache.New[opportunity.Listing](store, respcache.WithCounter(metrics.ResponseCacheTotal))
	client := registry.NewClient(registry.Config{
		BaseURL:           cfg.Registry.BaseURL,
		Timeout:           config.Seconds(cfg.Registry.TimeoutSec),
		RequestsPerSecond: cfg.Registry.RequestsPerSecond,
		Burst:             cfg.Registry.Burst,
	})

	opts := []searchuc.Option{}
	budgets := map[provider.Provider]usageuc.BudgetReader{}
	if len(cfg.Embedding.Providers) > 0 {
		if err := a.buildEmbedding(ctx, cfg, budgets, logger); err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, searchuc.WithRanker(a.ranker, a.Generator))
	}
	a.indexer = vectorindex.Noop{}
	if a.Index != nil {
		a.indexer = a.Index
	}
	opts = append(opts, searchuc.WithIndexer(a.indexer, a.indexPool))

	a.Search = searchuc.New(a.Limiter, client, responses, searchuc.Config{
		CacheTTL:    config.Seconds(cfg.Registry.CacheTTLSec),
		UpstreamKey: cfg.Registry.APIKey,
	}, opts...)

	var embeddingCheck healthuc.EmbeddingChecker
	if a.Generator != nil {
		embeddingCheck = a.Generator
	}
	a.Health = healthuc.New(store, embeddingCheck, healthuc.DefaultCheckTimeout)
	a.Usage = usageuc.New(budgets)

	targets := map[string]sweeper.Sweepable{"rate_windows": a.Limiter}
	if sw, ok := store.(db.Sweeper); ok {
		targets["cache_entries"] = sw
	}
	a.Sweeper = sweeper.New(targets, config.Seconds(cfg.Cache.SweepIntervalSec), logger)

	return a, nil
}

// Close stops background work and releases every resource Build acquired.
func (a *App) Close() {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.indexPool != nil {
		a.indexPool.Release()
	}
	if a.ranker != nil {
		a.ranker.Release()
	}
	a.Store.Close()
}

func (a *App) buildEmbedding(
	ctx context.Context, cfg *config.Config, budgets map[provider.Provider]usageuc.BudgetReader, logger *zap.Logger,
) error {
	// The memory store would only duplicate the in-process tier.
	var l2 db.KVStore
	if cfg.Cache.Driver != config.DriverMemory {
		l2 = a.Store
	}
	vectors := embcache.New(
		cfg.Embedding.CacheCapacity, l2, config.Seconds(cfg.Cache.EmbeddingTTLSec),
		metrics.EmbeddingCacheTotal, logger,
	)

	counters := budgetrepo.New(a.Store, budgetrepo.DefaultDailyTTL, budgetrepo.DefaultMonthlyTTL)
	providers := make(map[provider.Provider]embeddinguc.ProviderConfig, len(cfg.Embedding.Providers))
	for name, pc := range cfg.Embedding.Providers {
		p, err := provider.Parse(name, "")
		if err != nil {
			return fmt.Errorf("embedding.providers.%s: %w", name, err)
		}
		// A nil *BudgetTracker must not become a non-nil BudgetChecker.
		var checker embeddinguc.BudgetChecker
		if t := budgetTracker(ctx, p, pc.Budget, counters, logger); t != nil {
			checker = t
			budgets[p] = t
		}
		providers[p] = embeddinguc.ProviderConfig{
			Factory:     Factory(p, pc),
			Default:     domain.Credentials{APIKey: pc.APIKey},
			RequiresKey: p != provider.Ollama,
			Model:       modelName(p, pc),
			Budget:      checker,
		}
	}

	def, err := provider.Parse(cfg.Embedding.DefaultProvider, provider.OpenAI)
	if err != nil {
		return fmt.Errorf("embedding.default_provider: %w", err)
	}
	a.Generator = embeddinguc.NewGenerator(providers, def, vectors, config.Seconds(cfg.Embedding.TimeoutSec))

	a.ranker, err = ranking.New(a.Generator,
		ranking.WithTopN(cfg.Ranking.TopN),
		ranking.WithPoolSize(cfg.Ranking.PoolSize),
		ranking.WithCallTimeout(config.Seconds(cfg.Ranking.CallTimeoutSec)),
	)
	if err != nil {
		return fmt.Errorf("create ranker: %w", err)
	}

	if !cfg.Indexing.Enabled {
		return nil
	}
	ip, err := provider.Parse(cfg.Indexing.Provider, def)
	if err != nil {
		return fmt.Errorf("indexing.provider: %w", err)
	}
	if a.Index, err = vectorindex.New(a.Generator, ip, logger); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	if a.indexPool, err = ants.NewPool(cfg.Indexing.PoolSize, ants.WithNonblocking(true)); err != nil {
		return fmt.Errorf("create index pool: %w", err)
	}
	return nil
}

// Factory returns the client constructor for one configured provider. A
// configured instruction is prepended to every text the client embeds.
func Factory(p provider.Provider, pc config.ProviderConfig) embeddinguc.Factory {
	build := func(creds domain.Credentials) (domain.Embedder, error) {
		switch p {
		case provider.OpenAI:
			return openaiEmb.NewEmbedder(openaiEmb.Config{
				APIKey:     creds.APIKey,
				BaseURL:    pc.BaseURL,
				Model:      pc.Model,
				Dimensions: pc.Dimensions,
			}), nil
		case provider.Voyage:
			return voyageEmb.NewEmbedder(voyageEmb.Config{
				APIKey:     creds.APIKey,
				BaseURL:    pc.BaseURL,
				Model:      pc.Model,
				Dimensions: pc.Dimensions,
			}), nil
		case provider.Ollama:
			return ollamaEmb.NewEmbedder(ollamaEmb.Config{
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
			})
		default:
			return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, p)
		}
	}
	return func(creds domain.Credentials) (domain.Embedder, error) {
		e, err := build(creds)
		if err != nil || pc.Instruction == "" {
			return e, err
		}
		return domain.NewInstructionEmbedder(e, pc.Instruction), nil
	}
}

func modelName(p provider.Provider, pc config.ProviderConfig) string {
	if pc.Model != "" {
		return pc.Model
	}
	switch p {
	case provider.Voyage:
		return voyageEmb.DefaultModel
	case provider.Ollama:
		return ollamaEmb.DefaultModel
	default:
		return openaiEmb.DefaultModel
	}
}

// budgetTracker returns nil when no limit is configured.
func budgetTracker(
	ctx context.Context, p provider.Provider, bc config.BudgetConfig,
	store embeddinguc.BudgetStore, logger *zap.Logger,
) *embeddinguc.BudgetTracker {
	if bc.DailyTokenLimit <= 0 && bc.MonthlyTokenLimit <= 0 {
		return nil
	}
	action := embeddinguc.BudgetActionWarn
	if bc.Action == string(embeddinguc.BudgetActionReject) {
		action = embeddinguc.BudgetActionReject
	}
	return embeddinguc.NewBudgetTracker(p, bc.DailyTokenLimit, bc.MonthlyTokenLimit, action, logger).
		WithStore(ctx, store)
}

func openStore(ctx context.Context, cc config.CacheConfig) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch cc.Driver {
	case config.DriverRedis, config.DriverValkey:
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:          cc.Addrs,
			Username:       cc.Username,
			Password:       cc.Password,
			DB:             cc.DB,
			CommandTimeout: time.Duration(cc.CommandTimeoutMs) * time.Millisecond,
		})
	case config.DriverMemory, "":
		store = memory.NewStore()
	default:
		return nil, errors.New("unknown cache driver " + cc.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", cc.Driver, err)
	}

	if err := store.WaitForReady(ctx, config.Seconds(cc.ReadinessTimeout)); err != nil {
		store.Close()
		return nil, fmt.Errorf("cache store not ready: %w", err)
	}
	return store, nil
}
