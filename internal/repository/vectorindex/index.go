// Package vectorindex keeps an in-process vector index of every opportunity the
// service has fetched, embedded with the server's indexing provider.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/opportunity"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

// CollectionName is the chromem collection holding opportunities.
const CollectionName = "opportunities"

const addConcurrency = 4

// Metadata keys stored with each document.
const (
	MetaNoticeType = "type"
	MetaNAICS      = "naics"
	MetaAgency     = "agency"
)

// embedder is the consumer interface for the embedding generator (ISP).
type embedder interface {
	Embed(ctx context.Context, p provider.Provider, creds domain.Credentials, text string) ([]float32, error)
}

// Index is a chromem-go collection of opportunities.
type Index struct {
	collection *chromem.Collection
	logger     *zap.Logger
}

// New creates an empty in-memory index embedding with p and the provider's
// configured credentials.
func New(e embedder, p provider.Provider, logger *zap.Logger) (*Index, error) {
	ef := func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, p, domain.Credentials{}, text)
	}
	col, err := chromem.NewDB().GetOrCreateCollection(CollectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("create %s collection: %w", CollectionName, err)
	}
	return &Index{collection: col, logger: logger}, nil
}

// Index adds or replaces opportunities. Entries without text are skipped; a
// missing notice id is replaced by a random one.
func (i *Index) Index(ctx context.Context, opps []opportunity.Opportunity) error {
	docs := make([]chromem.Document, 0, len(opps))
	for k := range opps {
		o := &opps[k]
		content := o.SearchText()
		if content == "" {
			metrics.IndexedDocumentsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		id := o.NoticeID
		if id == "" {
			id = uuid.NewString()
		}
		docs = append(docs, chromem.Document{
			ID:      id,
			Content: content,
			Metadata: map[string]string{
				"title":        o.Title,
				MetaNoticeType: o.NoticeType,
				MetaNAICS:      o.NAICSCode,
				MetaAgency:     o.Agency,
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}

	if err := i.collection.AddDocuments(ctx, docs, addConcurrency); err != nil {
		metrics.IndexedDocumentsTotal.WithLabelValues("failed").Add(float64(len(docs)))
		return fmt.Errorf("add documents: %w", err)
	}
	metrics.IndexedDocumentsTotal.WithLabelValues("indexed").Add(float64(len(docs)))
	i.logger.Debug("Indexed opportunities",
		zap.Int("documents", len(docs)),
		zap.Int("total", i.collection.Count()),
	)
	return nil
}

// Noop discards everything. It stands in when indexing is disabled.
type Noop struct{}

// Index does nothing.
func (Noop) Index(context.Context, []opportunity.Opportunity) error { return nil }
