// Package registry fetches opportunity listings from the public contracting registry.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/opportunity"
	"github.com/kailas-cloud/oppfinder/internal/logger"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

// Client defaults.
const (
	DefaultBaseURL           = "https://api.sam.gov/opportunities/v2/search"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 2
	DefaultBurst             = 4

	// ParamAPIKey carries the caller's registry key.
	ParamAPIKey = "api_key"

	maxErrorBody = 64 << 10
)

// Config holds the registry client settings.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client performs one GET per search. Outbound calls are paced by a token
// bucket shared by every caller; failures are never retried here.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a registry client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Search fetches one page for params. apiKey is appended as api_key and is
// never part of params so it stays out of cache fingerprints.
// Every failure is a *domain.UpstreamError.
func (c *Client) Search(ctx context.Context, params url.Values, apiKey string) (opportunity.Listing, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return opportunity.Listing{}, domain.NewUpstreamError(http.StatusServiceUnavailable,
			"registry request throttled: "+err.Error())
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set(ParamAPIKey, apiKey)

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return opportunity.Listing{}, fmt.Errorf("parse registry url: %w", err)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return opportunity.Listing{}, fmt.Errorf("create registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	log := logger.FromContext(ctx)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		observe("error", start)
		log.Warn("Registry request failed", zap.Error(err))
		return opportunity.Listing{}, transportError(err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	observe(status, start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := errorMessage(raw, resp.Status)
		log.Warn("Registry returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return opportunity.Listing{}, domain.NewUpstreamError(resp.StatusCode, msg)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Warn("Registry response malformed", zap.Error(err))
		return opportunity.Listing{}, domain.NewUpstreamError(http.StatusBadGateway, "malformed registry response")
	}

	listing := body.toListing()
	log.Debug("Registry search completed",
		zap.Int("returned", len(listing.Opportunities)),
		zap.Int("total_records", listing.TotalRecords),
		zap.Duration("duration", time.Since(start)),
	)
	return listing, nil
}

func observe(status string, start time.Time) {
	metrics.UpstreamRequestsTotal.WithLabelValues(status).Inc()
	metrics.UpstreamRequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewUpstreamError(http.StatusGatewayTimeout, "registry request timed out")
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return domain.NewUpstreamError(http.StatusGatewayTimeout, "registry request timed out")
	}
	return domain.NewUpstreamError(http.StatusBadGateway, "registry unreachable")
}

// errorMessage pulls a readable message out of the registry's several error shapes.
func errorMessage(raw []byte, fallback string) string {
	var parsed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message      string `json:"message"`
		ErrorMessage string `json:"errorMessage"`
		Title        string `json:"title"`
		Detail       string `json:"detail"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		for _, m := range []string{parsed.Error.Message, parsed.ErrorMessage, parsed.Message, parsed.Detail, parsed.Title} {
			if m != "" {
				return m
			}
		}
	}
	return fallback
}
