package domain

import (
	"context"
	"fmt"
)

// KeyPrefix namespaces every key this service writes to a shared KV store.
const KeyPrefix = "oppfinder:"

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Credentials authenticate a single call to an external provider.
// An empty APIKey means "use the server default", if one is configured.
type Credentials struct {
	APIKey string
}

// IsEmpty reports whether no key was supplied.
func (c Credentials) IsEmpty() bool { return c.APIKey == "" }

// Or returns c when it carries a key, fallback otherwise.
func (c Credentials) Or(fallback Credentials) Credentials {
	if c.IsEmpty() {
		return fallback
	}
	return c
}

// InstructionEmbedder prepends a model-specific instruction before embedding.
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder creates a decorator that prepends instruction text.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prepends instruction and delegates to inner embedder.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (e *InstructionEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // pass-through decorator
	}
	return nil
}
