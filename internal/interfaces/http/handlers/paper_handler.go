package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/turtacn/paperd/internal/application/resolver"
	"github.com/turtacn/paperd/internal/domain/citation"
	"github.com/turtacn/paperd/pkg/errors"
)

// Resolver is the application surface the paper handler drives; narrowed
// to an interface so tests can substitute a fake.
type Resolver interface {
	GetPaper(ctx context.Context, rawRef, fieldExpr string) (map[string]any, error)
	GetBatch(ctx context.Context, rawRefs []string, fieldExpr string) ([]map[string]any, error)
	GetRelations(ctx context.Context, rawRef string, kind citation.Kind, offset, limit int, fieldExpr string) (*resolver.RelationSlice, error)
	Invalidate(ctx context.Context, rawRef string) error
	Warm(ctx context.Context, rawRef string) error
}

// PaperHandler serves the /paper routes: single lookups, relation
// windows, batch lookups, and the cache management surface.
type PaperHandler struct {
	resolver     Resolver
	defaultLimit int
	maxLimit     int
	batchCap     int
}

// NewPaperHandler builds the handler.
func NewPaperHandler(r Resolver, defaultLimit, maxLimit, batchCap int) *PaperHandler {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	if maxLimit <= 0 {
		maxLimit = 1000
	}
	if batchCap <= 0 {
		batchCap = 500
	}
	return &PaperHandler{resolver: r, defaultLimit: defaultLimit, maxLimit: maxLimit, batchCap: batchCap}
}

// RelationResponse is the Upstream-compatible relation page shape.
type RelationResponse struct {
	Total  int              `json:"total"`
	Offset int              `json:"offset"`
	Data   []map[string]any `json:"data"`
}

// Handle dispatches every /paper/* request.  References may themselves
// contain slashes (DOI:10.18653/v1/N18-3011), so routing is by suffix on
// the raw wildcard tail rather than by path segment.
func (h *PaperHandler) Handle(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/graph/v1")
	tail = strings.TrimPrefix(tail, "/paper/")
	if tail == "" {
		writeAppError(w, errors.New(errors.ErrCodePaperRefInvalid, "missing paper reference"))
		return
	}

	switch {
	case strings.HasSuffix(tail, "/citations") && r.Method == http.MethodGet:
		h.relations(w, r, strings.TrimSuffix(tail, "/citations"), citation.KindCitations)
	case strings.HasSuffix(tail, "/references") && r.Method == http.MethodGet:
		h.relations(w, r, strings.TrimSuffix(tail, "/references"), citation.KindReferences)
	case strings.HasSuffix(tail, "/cache/warm") && r.Method == http.MethodPost:
		h.warm(w, r, strings.TrimSuffix(tail, "/cache/warm"))
	case strings.HasSuffix(tail, "/cache") && r.Method == http.MethodDelete:
		h.invalidate(w, r, strings.TrimSuffix(tail, "/cache"))
	case r.Method == http.MethodGet:
		h.get(w, r, tail)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
			Code:    errors.ErrCodeBadRequest.String(),
			Message: "method not allowed",
		})
	}
}

func (h *PaperHandler) get(w http.ResponseWriter, r *http.Request, ref string) {
	record, err := h.resolver.GetPaper(r.Context(), ref, r.URL.Query().Get("fields"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *PaperHandler) relations(w http.ResponseWriter, r *http.Request, ref string, kind citation.Kind) {
	offset, limit := parseWindow(r, h.defaultLimit, h.maxLimit)
	slice, err := h.resolver.GetRelations(r.Context(), ref, kind, offset, limit, r.URL.Query().Get("fields"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RelationResponse{Total: slice.Total, Offset: slice.Offset, Data: slice.Data})
}

// BatchRequest is the POST /paper/batch body.
type BatchRequest struct {
	IDs    []string `json:"ids"`
	Fields string   `json:"fields,omitempty"`
}

// Batch serves POST /paper/batch: a position-preserving list with null
// entries for unresolved references.
func (h *PaperHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, errors.New(errors.ErrCodeBadRequest, "malformed batch body"))
		return
	}
	fields := req.Fields
	if fields == "" {
		fields = r.URL.Query().Get("fields")
	}
	records, err := h.resolver.GetBatch(r.Context(), req.IDs, fields)
	if err != nil {
		writeAppError(w, err)
		return
	}
	// Entries must render as JSON null, not {}; a []map already does.
	writeJSON(w, http.StatusOK, records)
}

func (h *PaperHandler) invalidate(w http.ResponseWriter, r *http.Request, ref string) {
	if err := h.resolver.Invalidate(r.Context(), ref); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *PaperHandler) warm(w http.ResponseWriter, r *http.Request, ref string) {
	if err := h.resolver.Warm(r.Context(), ref); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
