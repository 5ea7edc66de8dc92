// Package upstream implements the HTTP client for the external
// academic-graph service.  It exposes one typed method per logical query,
// hides transport-layer retries and rate limiting from callers, and maps
// HTTP failures onto the platform error taxonomy.
//
// Records are returned as schema-free map[string]any objects mirroring the
// Upstream JSON shape; the Projector reduces them and the domain layer
// converts them to typed entities where persistence needs structure.
package upstream

import (
	"context"

	"github.com/turtacn/paperd/internal/domain/citation"
)

// Client is the typed query surface the Resolver, Ingestor, and Search
// Coordinator consume.  Every method blocks until a response is available,
// an unrecoverable error occurs, or ctx expires; rate-limit admission and
// retries happen inside.
type Client interface {
	// FetchPaper retrieves a single paper by any reference Upstream accepts
	// (canonical id or prefixed external id).  fieldExpr is forwarded
	// verbatim as the "fields" query parameter; empty means Upstream's
	// default projection.
	FetchPaper(ctx context.Context, paperRef, fieldExpr string) (map[string]any, error)

	// FetchRelationPage retrieves one page of a paper's citations or
	// references.
	FetchRelationPage(ctx context.Context, paperID string, kind citation.Kind, offset, limit int, fieldExpr string) (*RelationPage, error)

	// FetchBatch retrieves up to 500 papers in one call.  The result is
	// position-preserving: entry i corresponds to paperRefs[i], nil when
	// Upstream could not resolve that reference.
	FetchBatch(ctx context.Context, paperRefs []string, fieldExpr string) ([]map[string]any, error)

	// Search runs a relevance query.
	Search(ctx context.Context, q SearchQuery) (*SearchResult, error)

	// SearchByTitleMatch returns the single best title match, or a
	// PaperNotFound error when Upstream reports no match.
	SearchByTitleMatch(ctx context.Context, query string, filters SearchFilters, fieldExpr string) (map[string]any, error)
}

// RelationItem is one entry of a citations/references page: the neighbor
// record plus the edge attributes Upstream attaches to the pair.
type RelationItem struct {
	Paper         map[string]any `json:"paper"`
	Contexts      []string       `json:"contexts,omitempty"`
	Intents       []string       `json:"intents,omitempty"`
	IsInfluential bool           `json:"isInfluential,omitempty"`
}

// PaperID extracts the neighbor's canonical id, or "" when Upstream
// returned a null stub (withdrawn or unlinked neighbor).
func (it *RelationItem) PaperID() string {
	if it.Paper == nil {
		return ""
	}
	id, _ := it.Paper["paperId"].(string)
	return id
}

// Title extracts the neighbor's title when present.
func (it *RelationItem) Title() string {
	if it.Paper == nil {
		return ""
	}
	t, _ := it.Paper["title"].(string)
	return t
}

// RelationPage is one offset/limit window of a paper's relation list.
// Next is absent on the final page.
type RelationPage struct {
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Next   *int           `json:"next,omitempty"`
	Items  []RelationItem `json:"data"`
}

// SearchFilters narrows a search query.  Zero values mean "no filter";
// they are omitted from the outgoing request.
type SearchFilters struct {
	Year          string `json:"year,omitempty"`
	Venue         string `json:"venue,omitempty"`
	FieldsOfStudy string `json:"fieldsOfStudy,omitempty"`
	OpenAccessPDF bool   `json:"openAccessPdf,omitempty"`
}

// SearchQuery is the full input of a relevance search.
type SearchQuery struct {
	Query     string
	Filters   SearchFilters
	Offset    int
	Limit     int
	FieldExpr string
}

// SearchResult is a page of search hits.
type SearchResult struct {
	Total  int              `json:"total"`
	Offset int              `json:"offset"`
	Next   *int             `json:"next,omitempty"`
	Items  []map[string]any `json:"data"`
}
