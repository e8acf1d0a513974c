// Package openai embeds text through the OpenAI embeddings API (or any compatible endpoint).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

// Defaults used when the provider block leaves them empty.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
)

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// Embedder is a single-credential client. A new one is built per API key.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
	}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		Dimensions:     e.dimensions,
	}
	call := metrics.StartEmbeddingCall(string(provider.OpenAI), string(e.model))

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		call.Fail(metrics.EmbeddingErrAPI, err)
		return domain.EmbeddingResult{}, providerError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		err := fmt.Errorf("openai returned no embedding: %w", domain.ErrEmbeddingProviderError)
		call.Fail(metrics.EmbeddingErrEmpty, err)
		return domain.EmbeddingResult{}, err
	}

	call.Done(resp.Usage.PromptTokens, resp.Usage.TotalTokens)
	return domain.EmbeddingResult{
		Embedding:    resp.Data[0].Embedding,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck lists models, which costs no tokens.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai list models: %w", err)
	}
	return nil
}

// providerError turns a client error into a readable message wrapping
// domain.ErrEmbeddingProviderError. Context errors stay matchable.
func providerError(err error) error {
	var (
		reqErr *openai.RequestError
		apiErr *openai.APIError
	)
	switch {
	case errors.As(err, &apiErr):
		return fmt.Errorf("openai embeddings %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, domain.ErrEmbeddingProviderError)
	case errors.As(err, &reqErr):
		return fmt.Errorf("openai embeddings %d: %s: %w", reqErr.HTTPStatusCode, bodyMessage(reqErr.Body), domain.ErrEmbeddingProviderError)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("openai embeddings: %w: %w", err, domain.ErrEmbeddingProviderError)
	default:
		return fmt.Errorf("openai embeddings request failed: %w", domain.ErrEmbeddingProviderError)
	}
}

// bodyMessage picks the message out of a non-standard error body. Compatible
// gateways answer with {"detail": ...} or {"message": ...}; anything else is
// returned verbatim, truncated.
func bodyMessage(body []byte) string {
	var parsed struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	const maxLen = 256
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
