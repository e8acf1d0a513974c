// Package embedding turns text into vectors through a configured set of providers.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/logger"
)

// DefaultCallTimeout bounds one provider call when none is configured.
const DefaultCallTimeout = 15 * time.Second

// Factory builds a provider client for one set of credentials.
type Factory func(creds domain.Credentials) (domain.Embedder, error)

// ProviderConfig registers one provider with the generator.
type ProviderConfig struct {
	Factory Factory
	// Default is used when the caller supplies no credentials.
	Default domain.Credentials
	// RequiresKey rejects calls that end up with no key at all.
	RequiresKey bool
	Model       string
	Budget      BudgetChecker
}

// cache is the vector cache consumed by the generator (ISP).
type cache interface {
	Get(ctx context.Context, p provider.Provider, text string) ([]float32, bool)
	Put(ctx context.Context, p provider.Provider, text string, vec []float32)
}

// Generator embeds text with a named provider. Lookups go through the vector cache;
// concurrent misses for the same provider, key and text share one provider call.
type Generator struct {
	providers       map[provider.Provider]ProviderConfig
	defaultProvider provider.Provider
	cache           cache
	timeout         time.Duration
	group           singleflight.Group

	mu      sync.Mutex
	clients map[provider.Provider]domain.Embedder
}

// NewGenerator creates a generator. vectors may be nil to disable caching.
func NewGenerator(
	providers map[provider.Provider]ProviderConfig,
	defaultProvider provider.Provider,
	vectors cache,
	timeout time.Duration,
) *Generator {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Generator{
		providers:       providers,
		defaultProvider: defaultProvider,
		cache:           vectors,
		timeout:         timeout,
		clients:         make(map[provider.Provider]domain.Embedder),
	}
}

// DefaultProvider returns the provider used when a request names none.
func (g *Generator) DefaultProvider() provider.Provider { return g.defaultProvider }

// Resolve parses a client-supplied provider name and checks it is configured.
func (g *Generator) Resolve(name string) (provider.Provider, error) {
	p, err := provider.Parse(name, g.defaultProvider)
	if err != nil {
		return "", err
	}
	if _, ok := g.providers[p]; !ok {
		return "", fmt.Errorf("%w: %q is not configured", domain.ErrUnsupportedProvider, p)
	}
	return p, nil
}

// HasCredentials reports whether a call to p with creds would carry a key,
// either the caller's or the configured default.
func (g *Generator) HasCredentials(p provider.Provider, creds domain.Credentials) bool {
	cfg, ok := g.providers[p]
	if !ok {
		return false
	}
	return !cfg.RequiresKey || !creds.Or(cfg.Default).IsEmpty()
}

type flightResult struct {
	vec     []float32
	tokens  int
	claimed atomic.Bool
}

// Embed returns the embedding of text. Tokens consumed are added to the usage
// collector in ctx; a cached or shared result is counted with zero tokens.
func (g *Generator) Embed(
	ctx context.Context, p provider.Provider, creds domain.Credentials, text string,
) ([]float32, error) {
	cfg, ok := g.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, p)
	}
	usage := domain.UsageFromContext(ctx)

	if g.cache != nil {
		if vec, hit := g.cache.Get(ctx, p, text); hit {
			usage.AddTokens(0)
			return vec, nil
		}
	}

	creds = creds.Or(cfg.Default)
	if cfg.RequiresKey && creds.IsEmpty() {
		return nil, fmt.Errorf("%w: no %s credentials", domain.ErrEmbeddingProviderError, p)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s embedding: %w", p, err)
	}

	// The shared call is bounded by g.timeout only; each waiter stops at its own deadline.
	ch := g.group.DoChan(flightKey(p, creds, text), func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()

		res, err := g.call(callCtx, p, cfg, creds, text)
		if err != nil {
			return nil, err
		}
		if g.cache != nil {
			g.cache.Put(callCtx, p, text, res.Embedding)
		}
		return &flightResult{vec: res.Embedding, tokens: res.TotalTokens}, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("%s embedding: %w", p, ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	fr := res.Val.(*flightResult)
	if fr.claimed.CompareAndSwap(false, true) {
		usage.AddTokens(fr.tokens)
	} else {
		usage.AddTokens(0)
	}
	return fr.vec, nil
}

// HealthCheck probes the default provider when its client supports it.
func (g *Generator) HealthCheck(ctx context.Context) error {
	cfg, ok := g.providers[g.defaultProvider]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, g.defaultProvider)
	}
	client, err := g.client(g.defaultProvider, cfg, cfg.Default)
	if err != nil {
		return err
	}
	hc, ok := client.(domain.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health: %w", g.defaultProvider, err)
	}
	return nil
}

func (g *Generator) call(
	ctx context.Context, p provider.Provider, cfg ProviderConfig, creds domain.Credentials, text string,
) (domain.EmbeddingResult, error) {
	client, err := g.client(p, cfg, creds)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	res, err := NewInstrumentedEmbedder(client, p, cfg.Model, cfg.Budget).Embed(ctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.FromContext(ctx).Warn("Embedding call timed out",
				zap.String("provider", string(p)), zap.Duration("timeout", g.timeout))
		}
		return domain.EmbeddingResult{}, err
	}
	if len(res.Embedding) == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("%w: %s returned an empty vector", domain.ErrEmbeddingProviderError, p)
	}
	return res, nil
}

// client returns the provider client for creds. Clients built from the
// configured default credentials are reused; per-request keys get a fresh one.
func (g *Generator) client(p provider.Provider, cfg ProviderConfig, creds domain.Credentials) (domain.Embedder, error) {
	shared := creds == cfg.Default
	if shared {
		g.mu.Lock()
		c, ok := g.clients[p]
		g.mu.Unlock()
		if ok {
			return c, nil
		}
	}

	c, err := cfg.Factory(creds)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", p, err)
	}
	if shared {
		g.mu.Lock()
		g.clients[p] = c
		g.mu.Unlock()
	}
	return c, nil
}

func flightKey(p provider.Provider, creds domain.Credentials, text string) string {
	h := sha256.New()
	h.Write([]byte(p))
	h.Write([]byte{0})
	h.Write([]byte(creds.APIKey))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
