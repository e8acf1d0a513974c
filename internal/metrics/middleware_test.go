package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/api/v1/opportunities/search", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/api/v1/opportunities/search", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	r.Get("/api/v1/opportunities/{noticeID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return r
}

func TestMiddleware_Labels(t *testing.T) {
	h := testRouter()
	tests := []struct {
		method, path string
		route        string
		status       string
		times        int
	}{
		{http.MethodGet, "/api/v1/opportunities/search", "/api/v1/opportunities/search", "200", 1},
		{http.MethodPost, "/api/v1/opportunities/search", "/api/v1/opportunities/search", "405", 1},
		{http.MethodGet, "/api/v1/opportunities/n1", "/api/v1/opportunities/{noticeID}", "404", 2},
		{http.MethodGet, "/boom", "/boom", "500", 1},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(tt.method, tt.route, tt.status))
			for range tt.times {
				h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, http.NoBody))
			}
			after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(tt.method, tt.route, tt.status))
			if got := after - before; got != float64(tt.times) {
				t.Errorf("requests_total delta = %v, want %d", got, tt.times)
			}
		})
	}

	if testutil.CollectAndCount(httpRequestDuration) == 0 {
		t.Error("expected duration observations")
	}
	if got := testutil.ToFloat64(httpRequestsInFlight); got != 0 {
		t.Errorf("in-flight = %v after all requests finished", got)
	}
}

func TestMiddleware_WithoutRouter(t *testing.T) {
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "200"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/raw", http.NoBody))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "200"))
	if after-before != 1 {
		t.Errorf("unmatched delta = %v", after-before)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	RegisterSearchMetrics()
	RegisterSearchMetrics()
	RegisterEmbeddingMetrics()
	RegisterEmbeddingMetrics()

	RateLimitDecisionsTotal.WithLabelValues("rejected").Inc()
	if got := testutil.ToFloat64(RateLimitDecisionsTotal.WithLabelValues("rejected")); got < 1 {
		t.Errorf("rate_limit_decisions_total = %f", got)
	}
}
