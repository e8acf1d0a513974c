// Package ollama embeds text with a local Ollama server through langchaingo.
package ollama

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

// Defaults used when the provider block leaves them empty.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "nomic-embed-text"
)

// Config holds the Ollama provider settings. Ollama is unauthenticated,
// so per-request credentials are ignored.
type Config struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Embedder wraps a langchaingo embedder backed by the Ollama client.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	baseURL  string
	client   *http.Client
}

// NewEmbedder creates an Ollama embedding provider.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(cfg.HTTPClient),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}

	return &Embedder{embedder: emb, model: cfg.Model, baseURL: cfg.BaseURL, client: cfg.HTTPClient}, nil
}

// Embed implements domain.Embedder. Ollama does not report token usage.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	call := metrics.StartEmbeddingCall(string(provider.Ollama), e.model)

	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		call.Fail(metrics.EmbeddingErrAPI, err)
		return domain.EmbeddingResult{}, fmt.Errorf("ollama embed: %w: %w", err, domain.ErrEmbeddingProviderError)
	}
	if len(vec) == 0 {
		err := fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingProviderError)
		call.Fail(metrics.EmbeddingErrEmpty, err)
		return domain.EmbeddingResult{}, err
	}

	call.Done(0, 0)
	return domain.EmbeddingResult{Embedding: vec}, nil
}

// HealthCheck calls the server's version endpoint.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/version", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama health request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health: status %d", resp.StatusCode)
	}
	return nil
}
