package opensearch

import (
	"context"
	"encoding/json"

	"github.com/turtacn/paperd/internal/domain/alias"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

// DefaultPaperIndex is the index name used when none is configured.
const DefaultPaperIndex = "papers"

// PaperIndex feeds persisted papers into the full-text index and serves
// the Search Coordinator's prefer-local queries.  Indexing runs inside
// the Resolver's persistence fan-out, so every fully fetched paper
// becomes locally searchable as a side effect of being read.
type PaperIndex struct {
	indexer   *Indexer
	searcher  *Searcher
	indexName string
	logger    logging.Logger
}

// NewPaperIndex builds the adapter; indexName falls back to
// DefaultPaperIndex when empty.
func NewPaperIndex(indexer *Indexer, searcher *Searcher, indexName string, log logging.Logger) *PaperIndex {
	if indexName == "" {
		indexName = DefaultPaperIndex
	}
	return &PaperIndex{
		indexer:   indexer,
		searcher:  searcher,
		indexName: indexName,
		logger:    log.Named("paper-index"),
	}
}

// EnsureIndex creates the papers index if absent.
func (p *PaperIndex) EnsureIndex(ctx context.Context) error {
	exists, err := p.indexer.IndexExists(ctx, p.indexName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return p.indexer.CreateIndex(ctx, p.indexName, PaperIndexMapping())
}

// PaperPersisted implements the Resolver's persist hook.
func (p *PaperIndex) PaperPersisted(ctx context.Context, paperID string, record map[string]any) error {
	doc := map[string]any{"paper_id": paperID}
	if title, ok := record["title"].(string); ok {
		doc["title"] = title
		doc["title_norm"] = alias.NormalizeTitle(title)
	}
	if abstract, ok := record["abstract"].(string); ok {
		doc["abstract"] = abstract
	}
	if venue, ok := record["venue"].(string); ok {
		doc["venue"] = venue
	}
	if year, ok := record["year"].(float64); ok {
		doc["year"] = int(year)
	}
	if count, ok := record["citationCount"].(float64); ok {
		doc["citation_count"] = int(count)
	}
	if open, ok := record["isOpenAccess"].(bool); ok {
		doc["is_open_access"] = open
	}
	if date, ok := record["publicationDate"].(string); ok && date != "" {
		doc["publication_date"] = date
	}
	if authors, ok := record["authors"].([]any); ok {
		var names []string
		for _, a := range authors {
			if entry, ok := a.(map[string]any); ok {
				if name, ok := entry["name"].(string); ok {
					names = append(names, name)
				}
			}
		}
		doc["authors"] = names
	}
	if fos, ok := record["fieldsOfStudy"].([]any); ok {
		var fields []string
		for _, f := range fos {
			if s, ok := f.(string); ok {
				fields = append(fields, s)
			}
		}
		doc["fields_of_study"] = fields
	}
	return p.indexer.IndexDocument(ctx, p.indexName, paperID, doc)
}

// LocalHit is one prefer-local search result, shaped like a minimal
// Upstream record so the Coordinator can project it uniformly.
type LocalHit = map[string]any

// SearchPapers runs a best-effort lexical query against the local index.
// Ranking here is the engine's BM25, never a reimplementation of
// Upstream's relevance.
func (p *PaperIndex) SearchPapers(ctx context.Context, query string, year, venue string, offset, limit int) (int, []LocalHit, error) {
	q := &Query{
		QueryType: "multi_match",
		Fields:    []string{"title^3", "abstract"},
		Value:     query,
	}
	var filters []Filter
	if venue != "" {
		filters = append(filters, Filter{Field: "venue", FilterType: "term", Value: venue})
	}
	if year != "" {
		filters = append(filters, Filter{Field: "year", FilterType: "term", Value: year})
	}

	result, err := p.searcher.Search(ctx, SearchRequest{
		IndexName:  p.indexName,
		Query:      q,
		Filters:    filters,
		Pagination: &Pagination{Offset: offset, Limit: limit},
	})
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.ErrCodeSearchLocalUnavailable, "local search failed")
	}

	hits := make([]LocalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var source map[string]any
		if err := json.Unmarshal(hit.Source, &source); err != nil {
			continue
		}
		record := map[string]any{"paperId": hit.ID}
		if title, ok := source["title"].(string); ok {
			record["title"] = title
		}
		if abstract, ok := source["abstract"].(string); ok {
			record["abstract"] = abstract
		}
		if venue, ok := source["venue"].(string); ok {
			record["venue"] = venue
		}
		if year, ok := source["year"].(float64); ok {
			record["year"] = int(year)
		}
		hits = append(hits, record)
	}
	return int(result.Total), hits, nil
}
