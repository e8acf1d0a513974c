package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/oppfinder/internal/app"
	"github.com/kailas-cloud/oppfinder/internal/config"
	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/search/page"
	"github.com/kailas-cloud/oppfinder/internal/domain/search/query"
	logpkg "github.com/kailas-cloud/oppfinder/internal/logger"
	searchuc "github.com/kailas-cloud/oppfinder/internal/usecase/search"
)

// cliIdentity is the rate limiter bucket for CLI searches.
const cliIdentity = "oppctl"

type searcher interface {
	Search(ctx context.Context, req searchuc.Request) (searchuc.Response, error)
}

type searchOptions struct {
	filters        query.Raw
	limit          int
	offset         int
	minValue       float64
	maxValue       float64
	hasAttachments bool

	semantic      bool
	semanticQuery string
	provider      string
	apiKey        string
	embeddingKey  string
}

type searchOutput struct {
	Success         bool      `json:"success"`
	Data            page.Page `json:"data"`
	Cached          bool      `json:"cached"`
	Ranked          bool      `json:"ranked"`
	EmbeddingTokens int       `json:"embeddingTokens,omitempty"`
}

func newSearchCmd() *cobra.Command {
	return newSearchCmdWith(&searchOptions{})
}

func newSearchCmdWith(o *searchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the registry and print the result page as JSON",
		Long: `Search runs the same pipeline as the API server in-process: normalize the
filters, fetch the page from the registry and optionally rank it semantically.

Examples:
  oppctl search --keyword cybersecurity --naics 541512
  oppctl search --keyword "cloud migration" --semantic --provider openai --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := cmd.Flag("env").Value.String()
			if env == "" {
				env = config.GetEnv()
			}
			cfg, err := config.Load(env)
			if err != nil {
				return err
			}
			// The vector index lives in-process and would die with the command.
			cfg.Indexing.Enabled = false

			logger, err := logpkg.NewLogger(env, cmd.Flag("log-level").Value.String())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := logpkg.ContextWithLogger(cmd.Context(), logger)
			a, err := app.Build(ctx, &cfg, logger)
			if err != nil {
				return fmt.Errorf("build services: %w", err)
			}
			defer a.Close()

			return runSearch(ctx, a.Search, o.request(cmd), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.filters.Keyword, "keyword", "k", "", "title keyword")
	f.StringVar(&o.filters.StartDate, "start-date", "", "posted on or after (YYYY-MM-DD or MM/DD/YYYY)")
	f.StringVar(&o.filters.EndDate, "end-date", "", "posted on or before")
	f.StringVar(&o.filters.NAICS, "naics", "", "NAICS code")
	f.StringVar(&o.filters.ClassificationCode, "classification-code", "", "product/service classification code")
	f.StringVar(&o.filters.Jurisdiction, "jurisdiction", "", "place of performance state")
	f.StringVar(&o.filters.Agency, "agency", "", "department name")
	f.StringVar(&o.filters.NoticeType, "notice-type", "", "comma-separated notice types or codes")
	f.StringVar(&o.filters.SetAside, "set-aside", "", "set-aside code")
	f.StringVar(&o.filters.Active, "active", "", "only active notices (true/false)")
	f.StringVar(&o.filters.EntityName, "entity-name", "", "contracting organization name")
	f.StringVar(&o.filters.ContractVehicle, "contract-vehicle", "", "contract vehicle")
	f.StringVar(&o.filters.FundingSource, "funding-source", "", "funding source")
	f.StringVar(&o.filters.ResponseDeadlineFrom, "deadline-from", "", "response deadline on or after")
	f.StringVar(&o.filters.ResponseDeadlineTo, "deadline-to", "", "response deadline on or before")
	f.IntVarP(&o.limit, "limit", "n", query.DefaultLimit, "page size (max 100)")
	f.IntVar(&o.offset, "offset", 0, "page offset")
	f.Float64Var(&o.minValue, "min-value", 0, "minimum estimated value")
	f.Float64Var(&o.maxValue, "max-value", 0, "maximum estimated value")
	f.BoolVar(&o.hasAttachments, "has-attachments", false, "only notices with attachments")

	f.BoolVar(&o.semantic, "semantic", false, "rank results by semantic similarity")
	f.StringVar(&o.semanticQuery, "semantic-query", "", "ranking query (defaults to --keyword)")
	f.StringVar(&o.provider, "provider", "", "embedding provider (openai, voyage, ollama)")
	f.StringVar(&o.apiKey, "api-key", "", "registry API key (defaults to the configured key)")
	f.StringVar(&o.embeddingKey, "embedding-key", "", "embedding provider API key")

	return cmd
}

// request maps the flags to a search request. Numeric and boolean filters are
// set only when their flag was given.
func (o *searchOptions) request(cmd *cobra.Command) searchuc.Request {
	raw := o.filters
	changed := cmd.Flags().Changed
	if changed("limit") {
		raw.Limit = &o.limit
	}
	if changed("offset") {
		raw.Offset = &o.offset
	}
	if changed("min-value") {
		raw.MinValue = &o.minValue
	}
	if changed("max-value") {
		raw.MaxValue = &o.maxValue
	}
	if changed("has-attachments") {
		raw.HasAttachments = &o.hasAttachments
	}
	return searchuc.Request{
		Identity:       cliIdentity,
		Filters:        raw,
		UpstreamKey:    o.apiKey,
		Semantic:       o.semantic,
		SemanticQuery:  o.semanticQuery,
		Provider:       o.provider,
		EmbeddingCreds: domain.Credentials{APIKey: o.embeddingKey},
	}
}

func runSearch(ctx context.Context, s searcher, req searchuc.Request, out io.Writer) error {
	ctx, usage := domain.NewContextWithUsage(ctx)
	resp, err := s.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(searchOutput{
		Success:         true,
		Data:            resp.Page,
		Cached:          resp.Cached,
		Ranked:          resp.Ranked,
		EmbeddingTokens: usage.TotalTokens(),
	})
}
