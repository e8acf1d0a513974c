// Package chi exposes the opportunity search over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/search/page"
	"github.com/kailas-cloud/oppfinder/internal/logger"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
	healthuc "github.com/kailas-cloud/oppfinder/internal/usecase/health"
	searchuc "github.com/kailas-cloud/oppfinder/internal/usecase/search"
	usageuc "github.com/kailas-cloud/oppfinder/internal/usecase/usage"
)

// API routes.
const (
	SearchPath = "/api/v1/opportunities/search"
	UsagePath  = "/api/v1/usage"
)

type searcher interface {
	Search(ctx context.Context, req searchuc.Request) (searchuc.Response, error)
}

type healthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

type usageReporter interface {
	GetReport(ctx context.Context, period usageuc.Period) usageuc.Report
}

type searchResponse struct {
	Success   bool      `json:"success"`
	Data      page.Page `json:"data"`
	Cached    bool      `json:"cached"`
	Timestamp int64     `json:"timestamp"` // epoch millis
}

type errorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Server serves the search API.
type Server struct {
	search        searcher
	health        healthChecker
	usage         usageReporter
	logger        *zap.Logger
	now           func() time.Time
	errorHandlers []errorHandler
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithUsage serves embedding budget reports on /api/v1/usage.
func WithUsage(u usageReporter) Option {
	return func(s *Server) { s.usage = u }
}

// NewServer creates an HTTP API server.
func NewServer(search searcher, health healthChecker, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		search: search,
		health: health,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.errorHandlers = []errorHandler{
		rateLimitHandler,
		validationHandler,
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest),
		sentinelHandler(domain.ErrUnsupportedProvider, http.StatusBadRequest),
		upstreamHandler,
	}
	return s
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get(SearchPath, s.SearchOpportunities)
	if s.usage != nil {
		r.Get(UsagePath, s.GetUsage)
	}
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// SearchOpportunities handles GET /api/v1/opportunities/search.
func (s *Server) SearchOpportunities(w http.ResponseWriter, r *http.Request) {
	req, err := bindSearchRequest(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.search.Search(ctx, req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	if resp.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Success:   true,
		Data:      resp.Page,
		Cached:    resp.Cached,
		Timestamp: s.timestamp(),
	})
}

// GetUsage handles GET /api/v1/usage?period=day|month.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, err := usageuc.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.usage.GetReport(r.Context(), period))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) timestamp() int64 {
	return s.now().UnixMilli()
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, Timestamp: s.timestamp()})
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	for _, h := range s.errorHandlers {
		if status, msg, ok := h(w, err); ok {
			log.Warn("request failed", zap.Int("status", status), zap.Error(err))
			s.writeError(w, status, msg)
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage.Used() {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
