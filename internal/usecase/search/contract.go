package search

import (
	"context"
	"net/url"
	"time"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/opportunity"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/repository/respcache"
	"github.com/kailas-cloud/oppfinder/internal/usecase/ranking"
	"github.com/kailas-cloud/oppfinder/internal/usecase/ratelimit"
)

// Limiter admits or rejects a client before any other work.
type Limiter interface {
	Admit(identity string) ratelimit.Decision
	Now() time.Time
}

// Registry fetches one page of listings from the upstream registry.
type Registry interface {
	Search(ctx context.Context, params url.Values, apiKey string) (opportunity.Listing, error)
}

// ResponseCache memoizes registry pages by canonical-filter fingerprint.
type ResponseCache interface {
	GetOrCompute(
		ctx context.Context, fingerprint string, ttl time.Duration,
		compute respcache.ComputeFunc[opportunity.Listing],
	) (respcache.Result[opportunity.Listing], error)
}

// Ranker reorders a page by similarity to a query.
type Ranker interface {
	Rank(
		ctx context.Context, candidates []opportunity.Opportunity,
		query string, p provider.Provider, creds domain.Credentials,
	) ranking.Outcome
}

// Providers resolves embedding provider names and credential availability.
type Providers interface {
	Resolve(name string) (provider.Provider, error)
	HasCredentials(p provider.Provider, creds domain.Credentials) bool
}

// Indexer receives every freshly fetched page.
type Indexer interface {
	Index(ctx context.Context, opps []opportunity.Opportunity) error
}
