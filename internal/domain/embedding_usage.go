package domain

import (
	"context"
	"sync/atomic"
)

type embeddingUsageKey struct{}

// EmbeddingUsage collects token usage for a single HTTP request.
// The handler puts a pointer into the context before calling the service; the
// generator adds tokens from concurrent ranking calls; the handler reads it for
// response headers.
type EmbeddingUsage struct {
	totalTokens atomic.Int64
	calls       atomic.Int64
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens records one embedding call and the tokens it consumed (0 on a cache hit).
func (u *EmbeddingUsage) AddTokens(n int) {
	if u == nil {
		return
	}
	u.totalTokens.Add(int64(n))
	u.calls.Add(1)
}

// TotalTokens returns the tokens consumed so far.
func (u *EmbeddingUsage) TotalTokens() int {
	if u == nil {
		return 0
	}
	return int(u.totalTokens.Load())
}

// Used reports whether any embedding was requested, even if served from cache.
func (u *EmbeddingUsage) Used() bool {
	return u != nil && u.calls.Load() > 0
}
