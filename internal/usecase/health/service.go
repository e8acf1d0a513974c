// Package health reports the availability of the service's dependencies.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/logger"
)

// DefaultCheckTimeout bounds each component check.
const DefaultCheckTimeout = 3 * time.Second

// Component names in Report.Checks.
const (
	ComponentCache     = "cache"
	ComponentEmbedding = "embedding"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded means only optional components are failing; searches still work
	// without semantic ranking.
	Degraded Status = "degraded"
	// Unhealthy means the cache store is down.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	cache     CachePinger
	embedding EmbeddingChecker
	timeout   time.Duration
}

// New creates a Service. embedding may be nil when semantic ranking is off.
func New(cache CachePinger, embedding EmbeddingChecker, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Service{cache: cache, embedding: embedding, timeout: timeout}
}

// Check runs every component check concurrently.
func (s *Service) Check(ctx context.Context) Report {
	checks := map[string]func(context.Context) error{ComponentCache: s.cache.Ping}
	if s.embedding != nil {
		checks[ComponentEmbedding] = s.embedding.HealthCheck
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := s.run(ctx, name, check)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := Healthy
	switch {
	case results[ComponentCache] == CheckError:
		status = Unhealthy
	case results[ComponentEmbedding] == CheckError:
		status = Degraded
	}
	return Report{Status: status, Checks: results}
}

func (s *Service) run(ctx context.Context, name string, check func(context.Context) error) CheckResult {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := check(cctx); err != nil {
		logger.FromContext(ctx).Warn("Health check failed", zap.String("component", name), zap.Error(err))
		return CheckError
	}
	return CheckOK
}
