package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/turtacn/paperd/internal/application/search"
	"github.com/turtacn/paperd/internal/infrastructure/upstream"
)

// Searcher is the application surface the search handler drives.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
	SimilarPapers(ctx context.Context, rawRef string, topK int) ([]map[string]any, error)
}

// SearchHandler serves GET /paper/search and the similar-papers
// extension.
type SearchHandler struct {
	searcher Searcher
}

// NewSearchHandler builds the handler.
func NewSearchHandler(s Searcher) *SearchHandler {
	return &SearchHandler{searcher: s}
}

// SearchResponse mirrors Upstream's search shape; "papers" repeats the
// hits under the legacy compatibility key.
type SearchResponse struct {
	Total  int              `json:"total"`
	Offset int              `json:"offset"`
	Data   []map[string]any `json:"data"`
	Papers []map[string]any `json:"papers"`
}

// Search serves GET /paper/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	result, err := h.searcher.Search(r.Context(), search.Request{
		Query: q.Get("query"),
		Filters: upstream.SearchFilters{
			Year:          q.Get("year"),
			Venue:         q.Get("venue"),
			FieldsOfStudy: q.Get("fieldsOfStudy"),
			OpenAccessPDF: q.Has("openAccessPdf"),
		},
		Offset:    offset,
		Limit:     limit,
		FieldExpr: q.Get("fields"),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Total:  result.Total,
		Offset: result.Offset,
		Data:   result.Papers,
		Papers: result.Papers,
	})
}

// Similar serves GET /paper/{ref}/similar.
func (h *SearchHandler) Similar(w http.ResponseWriter, r *http.Request, ref string) {
	topK := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topK = n
		}
	}
	hits, err := h.searcher.SimilarPapers(r.Context(), ref, topK)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": hits})
}
