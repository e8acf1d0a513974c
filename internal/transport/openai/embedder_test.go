package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// embeddingResponse mirrors the OpenAI embeddings response body.
type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func embeddingServer(t *testing.T, vec []float32, tokens int, check func(r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if check != nil {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			check(r, body)
		}

		resp := embeddingResponse{Object: "list", Model: "test-model"}
		if vec != nil {
			resp.Data = []embeddingData{{Object: "embedding", Embedding: vec}}
		}
		resp.Usage.PromptTokens = tokens
		resp.Usage.TotalTokens = tokens

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedder_Embed(t *testing.T) {
	expected := []float32{0.1, 0.2, 0.3, 0.4}
	srv := embeddingServer(t, expected, 12, func(r *http.Request, body map[string]any) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		if body["model"] != "test-model" {
			t.Errorf("model = %v", body["model"])
		}
		if body["dimensions"] != float64(4) {
			t.Errorf("dimensions = %v", body["dimensions"])
		}
	})

	emb := NewEmbedder(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model", Dimensions: 4})

	result, err := emb.Embed(context.Background(), "cloud migration services")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(result.Embedding) != len(expected) {
		t.Fatalf("expected %d dimensions, got %d", len(expected), len(result.Embedding))
	}
	for i, v := range result.Embedding {
		if v != expected[i] {
			t.Errorf("vec[%d] = %f, expected %f", i, v, expected[i])
		}
	}
	if result.PromptTokens != 12 || result.TotalTokens != 12 {
		t.Errorf("usage = %d/%d, want 12/12", result.PromptTokens, result.TotalTokens)
	}
}

func TestEmbedder_OmitsZeroDimensions(t *testing.T) {
	srv := embeddingServer(t, []float32{1}, 1, func(_ *http.Request, body map[string]any) {
		if _, ok := body["dimensions"]; ok {
			t.Errorf("dimensions should be omitted, got %v", body["dimensions"])
		}
	})

	emb := NewEmbedder(Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := emb.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
}

func TestEmbedder_EmptyResponse(t *testing.T) {
	srv := embeddingServer(t, nil, 0, nil)
	emb := NewEmbedder(Config{APIKey: "k", BaseURL: srv.URL})

	_, err := emb.Embed(context.Background(), "x")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "rate limit exceeded",
				"type":    "rate_limit_error",
			},
		})
	}))
	defer srv.Close()

	emb := NewEmbedder(Config{APIKey: "k", BaseURL: srv.URL})

	_, err := emb.Embed(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry the status code: %v", err)
	}
}

func TestEmbedder_DetailErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid token"}`))
	}))
	defer srv.Close()

	emb := NewEmbedder(Config{APIKey: "bad", BaseURL: srv.URL})

	_, err := emb.Embed(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("expected detail in error, got %v", err)
	}
}

func TestEmbedder_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	emb := NewEmbedder(Config{APIKey: "k", BaseURL: srv.URL})
	if err := emb.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}

func TestBodyMessage(t *testing.T) {
	long := strings.Repeat("x", 300)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail", `{"detail":"quota exceeded"}`, "quota exceeded"},
		{"message", `{"message":"model not found"}`, "model not found"},
		{"nested error", `{"error":{"message":"x"}}`, `{"error":{"message":"x"}}`},
		{"plain text", `bad gateway`, "bad gateway"},
		{"truncated", long, long[:256] + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bodyMessage([]byte(tt.body)); got != tt.want {
				t.Errorf("bodyMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbedder_TimeoutCounted(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	emb := NewEmbedder(Config{APIKey: "k", BaseURL: srv.URL, Model: "timeout-model"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := emb.Embed(ctx, "hello")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
	got := testutil.ToFloat64(metrics.EmbeddingErrorsTotal.WithLabelValues("openai", "timeout-model", metrics.EmbeddingErrTimeout))
	if got != 1 {
		t.Errorf("timeout errors = %v, want 1", got)
	}
}
