// Package voyage embeds text through the Voyage AI embeddings REST API.
package voyage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

// Defaults used when the provider block leaves them empty.
const (
	DefaultBaseURL = "https://api.voyageai.com/v1"
	DefaultModel   = "voyage-3"

	maxErrorBody = 4 << 10
)

// Config holds the Voyage provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	// InputType is "query", "document" or empty (let the API decide).
	InputType  string
	HTTPClient *http.Client
}

type embedRequest struct {
	Input           []string `json:"input"`
	Model           string   `json:"model"`
	InputType       string   `json:"input_type,omitempty"`
	OutputDimension int      `json:"output_dimension,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Embedder is a single-credential Voyage client.
type Embedder struct {
	apiKey     string
	endpoint   string
	model      string
	dimensions int
	inputType  string
	client     *http.Client
}

// NewEmbedder creates a Voyage embedding provider.
func NewEmbedder(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Embedder{
		apiKey:     cfg.APIKey,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/embeddings",
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		inputType:  cfg.InputType,
		client:     cfg.HTTPClient,
	}
}

// Embed implements domain.Embedder. Voyage reports total tokens only.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	call := metrics.StartEmbeddingCall(string(provider.Voyage), e.model)

	vec, tokens, err := e.do(ctx, text)
	if err != nil {
		call.Fail(metrics.EmbeddingErrAPI, err)
		return domain.EmbeddingResult{}, err
	}

	call.Done(0, tokens)
	return domain.EmbeddingResult{Embedding: vec, PromptTokens: tokens, TotalTokens: tokens}, nil
}

// HealthCheck embeds a one-word probe. Voyage has no free metadata endpoint.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, _, err := e.do(ctx, "ping"); err != nil {
		return fmt.Errorf("voyage probe: %w", err)
	}
	return nil
}

func (e *Embedder) do(ctx context.Context, text string) ([]float32, int, error) {
	wrap := domain.ErrEmbeddingProviderError

	body, err := json.Marshal(embedRequest{
		Input:           []string{text},
		Model:           e.model,
		InputType:       e.inputType,
		OutputDimension: e.dimensions,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("voyage marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("voyage create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("voyage request: %w: %w", err, wrap)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, 0, fmt.Errorf("voyage embeddings %d: %s: %w", resp.StatusCode, errorMessage(raw), wrap)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("voyage decode response: %w: %w", err, wrap)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, 0, fmt.Errorf("empty embedding response: %w", wrap)
	}
	return parsed.Data[0].Embedding, parsed.Usage.TotalTokens, nil
}

func errorMessage(raw []byte) string {
	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Detail != "" {
			return parsed.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
