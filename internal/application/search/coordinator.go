// Package search implements the Search Coordinator: fingerprint-keyed
// result caching over Upstream relevance search, the optional
// prefer-local mode backed by the full-text index, and the
// embedding-based similar-papers extension.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/turtacn/paperd/internal/application/cachekey"
	"github.com/turtacn/paperd/internal/application/projector"
	"github.com/turtacn/paperd/internal/config"
	rediscache "github.com/turtacn/paperd/internal/infrastructure/database/redis"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/internal/infrastructure/search/milvus"
	"github.com/turtacn/paperd/internal/infrastructure/upstream"
	"github.com/turtacn/paperd/pkg/errors"
)

// searchFieldExpr is the projection requested from Upstream for search
// hits; the caller's field expression is applied locally so that one
// cached result serves every projection.
const searchFieldExpr = "paperId,title,abstract,venue,year,authors,externalIds," +
	"citationCount,isOpenAccess,openAccessPdf,publicationDate"

// LocalIndex is the prefer-local lexical backend.
type LocalIndex interface {
	SearchPapers(ctx context.Context, query string, year, venue string, offset, limit int) (total int, hits []map[string]any, err error)
}

// VectorIndex answers nearest-neighbor queries over paper embeddings.
type VectorIndex interface {
	Similar(ctx context.Context, selfID string, vector []float32, topK int) ([]milvus.SimilarPaper, error)
}

// PaperSource resolves one paper record; satisfied by the Resolver.
type PaperSource interface {
	GetPaper(ctx context.Context, rawRef, fieldExpr string) (map[string]any, error)
}

// Metrics is the observability surface the coordinator emits through.
type Metrics interface {
	Search(source string, elapsed time.Duration, results int, err error)
}

type nopMetrics struct{}

func (nopMetrics) Search(string, time.Duration, int, error) {}

// Request is one search invocation.
type Request struct {
	Query     string
	Filters   upstream.SearchFilters
	Offset    int
	Limit     int
	FieldExpr string
}

// Result is the caller-facing page of hits.  Papers doubles as the
// Upstream-compatible "data" key at the HTTP edge.
type Result struct {
	Total  int              `json:"total"`
	Offset int              `json:"offset"`
	Papers []map[string]any `json:"papers"`
}

// cachedResult is the projection-independent record stored in the cache.
type cachedResult struct {
	Total  int              `json:"total"`
	Offset int              `json:"offset"`
	Items  []map[string]any `json:"items"`
}

// Options bundles the coordinator's dependencies.  Local, Vectors, and
// Papers may be nil; the corresponding features degrade gracefully.
type Options struct {
	Cache    rediscache.Cache
	Upstream upstream.Client
	Local    LocalIndex
	Vectors  VectorIndex
	Papers   PaperSource
	Metrics  Metrics

	Search config.SearchConfig
	TTL    config.CacheTTLConfig

	Logger logging.Logger
}

// Coordinator caches search results by query fingerprint.
type Coordinator struct {
	cache    rediscache.Cache
	upstream upstream.Client
	local    LocalIndex
	vectors  VectorIndex
	papers   PaperSource
	metrics  Metrics

	cfg config.SearchConfig
	ttl config.CacheTTLConfig
	log logging.Logger
}

// New builds a Coordinator.
func New(opts Options) *Coordinator {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Coordinator{
		cache:    opts.Cache,
		upstream: opts.Upstream,
		local:    opts.Local,
		vectors:  opts.Vectors,
		papers:   opts.Papers,
		metrics:  metrics,
		cfg:      opts.Search,
		ttl:      opts.TTL,
		log:      opts.Logger.Named("search"),
	}
}

// Search serves one query page: cache, then (optionally) the local
// index, then Upstream.  The caller's projection is applied on the way
// out and never participates in the cache key.
func (c *Coordinator) Search(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New(errors.ErrCodeBadRequest, "query must not be empty")
	}
	if req.Limit <= 0 {
		req.Limit = c.cfg.DefaultLimit
	}
	if req.Limit > c.cfg.MaxLimit {
		req.Limit = c.cfg.MaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	expr := projector.Parse(req.FieldExpr)
	fp := Fingerprint(req.Query, req.Filters, req.Offset, req.Limit)

	var cached cachedResult
	err := c.cache.Get(ctx, cachekey.Search(fp), &cached)
	if err == nil {
		return project(&cached, expr), nil
	}
	if err != rediscache.ErrCacheMiss {
		c.log.Warn("search cache read failed, degrading", logging.Err(err))
	}

	if c.cfg.PreferLocal && c.local != nil {
		if result, ok := c.searchLocal(ctx, req); ok {
			c.store(ctx, fp, result)
			return project(result, expr), nil
		}
	}

	result, err := c.searchUpstream(ctx, req)
	if err != nil {
		return nil, err
	}
	c.store(ctx, fp, result)
	return project(result, expr), nil
}

// searchLocal consults the full-text index; ok is false when the
// backend is down or reports fewer total matches than the configured
// floor, in which case Upstream decides.
func (c *Coordinator) searchLocal(ctx context.Context, req Request) (*cachedResult, bool) {
	start := time.Now()
	total, hits, err := c.local.SearchPapers(ctx, req.Query, req.Filters.Year, req.Filters.Venue, req.Offset, req.Limit)
	c.metrics.Search("local", time.Since(start), len(hits), err)
	if err != nil {
		c.log.Warn("local search failed, falling back to upstream", logging.Err(err))
		return nil, false
	}
	if total < c.cfg.LocalMinResults {
		return nil, false
	}
	return &cachedResult{Total: total, Offset: req.Offset, Items: hits}, true
}

func (c *Coordinator) searchUpstream(ctx context.Context, req Request) (*cachedResult, error) {
	start := time.Now()
	upstreamResult, err := c.upstream.Search(ctx, upstream.SearchQuery{
		Query:     req.Query,
		Filters:   req.Filters,
		Offset:    req.Offset,
		Limit:     req.Limit,
		FieldExpr: searchFieldExpr,
	})
	c.metrics.Search("upstream", time.Since(start), resultLen(upstreamResult), err)
	if err != nil {
		return nil, err
	}
	return &cachedResult{
		Total:  upstreamResult.Total,
		Offset: upstreamResult.Offset,
		Items:  upstreamResult.Items,
	}, nil
}

func (c *Coordinator) store(ctx context.Context, fp string, result *cachedResult) {
	if err := c.cache.Set(ctx, cachekey.Search(fp), result, c.ttl.Search); err != nil {
		c.log.Debug("search cache write failed", logging.Err(err))
	}
}

// SimilarPapers returns the embedding-nearest neighbors of one paper,
// each enriched with its title.  Best-effort: absent embeddings or a
// missing vector backend surface as NotFound/FeatureDisabled rather
// than an empty guess.
func (c *Coordinator) SimilarPapers(ctx context.Context, rawRef string, topK int) ([]map[string]any, error) {
	if c.vectors == nil || c.papers == nil {
		return nil, errors.New(errors.ErrCodeFeatureDisabled, "similar-papers requires the vector backend")
	}
	if topK <= 0 {
		topK = c.cfg.SimilarTopK
	}

	record, err := c.papers.GetPaper(ctx, rawRef, "embedding")
	if err != nil {
		return nil, err
	}
	paperID, _ := record["paperId"].(string)
	embedding, ok := record["embedding"].(map[string]any)
	if !ok {
		return nil, errors.New(errors.ErrCodePaperNotFound, "paper carries no embedding")
	}
	rawVector, _ := embedding["vector"].([]any)
	if len(rawVector) == 0 {
		return nil, errors.New(errors.ErrCodePaperNotFound, "paper carries no embedding")
	}
	vector := make([]float32, len(rawVector))
	for i, v := range rawVector {
		f, ok := v.(float64)
		if !ok {
			return nil, errors.New(errors.ErrCodeSerialization, "embedding vector is malformed")
		}
		vector[i] = float32(f)
	}

	hits, err := c.vectors.Similar(ctx, paperID, vector, topK)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		entry := map[string]any{"paperId": hit.PaperID, "score": hit.Score}
		if neighbor, err := c.papers.GetPaper(ctx, hit.PaperID, "title"); err == nil {
			if title, ok := neighbor["title"].(string); ok {
				entry["title"] = title
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// Fingerprint canonicalizes a query into a stable cache key: lowered and
// whitespace-collapsed query, sorted filters, offset, and limit.  The
// caller's field expression never participates.
func Fingerprint(query string, filters upstream.SearchFilters, offset, limit int) string {
	parts := []string{
		"q=" + strings.Join(strings.Fields(strings.ToLower(query)), " "),
	}
	var filterParts []string
	if filters.Year != "" {
		filterParts = append(filterParts, "year="+filters.Year)
	}
	if filters.Venue != "" {
		filterParts = append(filterParts, "venue="+strings.ToLower(filters.Venue))
	}
	if filters.FieldsOfStudy != "" {
		filterParts = append(filterParts, "fos="+strings.ToLower(filters.FieldsOfStudy))
	}
	if filters.OpenAccessPDF {
		filterParts = append(filterParts, "oa=1")
	}
	sort.Strings(filterParts)
	parts = append(parts, filterParts...)
	parts = append(parts, fmt.Sprintf("offset=%d", offset), fmt.Sprintf("limit=%d", limit))

	sum := sha256.Sum256([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(sum[:])
}

func project(result *cachedResult, expr *projector.Expr) *Result {
	return &Result{
		Total:  result.Total,
		Offset: result.Offset,
		Papers: projector.ProjectAll(result.Items, expr),
	}
}

func resultLen(r *upstream.SearchResult) int {
	if r == nil {
		return 0
	}
	return len(r.Items)
}
