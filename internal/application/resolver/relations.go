package resolver

import (
	"context"

	"github.com/turtacn/paperd/internal/application/cachekey"
	"github.com/turtacn/paperd/internal/application/projector"
	"github.com/turtacn/paperd/internal/domain/alias"
	"github.com/turtacn/paperd/internal/domain/citation"
	rediscache "github.com/turtacn/paperd/internal/infrastructure/database/redis"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

// RelationView is the merged relation state cached under
// paper:{id}:relations:{kind}: how many neighbors exist upstream, how
// many are locally known, and the known items in upstream order.
type RelationView struct {
	Total   int              `json:"total"`
	Fetched int              `json:"fetched"`
	Items   []map[string]any `json:"items"`
}

// RelationSlice is the caller-facing window of a relation list.
type RelationSlice struct {
	Total  int              `json:"total"`
	Offset int              `json:"offset"`
	Data   []map[string]any `json:"data"`
}

// GetRelations serves one offset/limit window of a paper's citations or
// references, trying the cached merged view, then the Graph Store blob,
// then a direct Upstream page.
func (r *Resolver) GetRelations(ctx context.Context, rawRef string, kind citation.Kind, offset, limit int, fieldExpr string) (*RelationSlice, error) {
	if offset < 0 || limit <= 0 {
		return nil, errors.New(errors.ErrCodeBadRequest, "offset must be >= 0 and limit > 0")
	}
	ref, err := alias.ParseRef(rawRef)
	if err != nil {
		return nil, err
	}
	paperID := r.resolveIdentity(ctx, ref)
	if paperID == "" {
		// Identity unknown: a body fetch establishes it (and usually the
		// inline relations too).
		record, err := r.fetchAndPopulate(ctx, ref.Upstream(), "")
		if err != nil {
			return nil, err
		}
		paperID, _ = record["paperId"].(string)
	}

	expr := projector.Parse(fieldExpr)

	// Tier 1: cached merged view covering the window.
	var view RelationView
	err = r.cache.Get(ctx, cachekey.Relations(paperID, kind), &view)
	if err == nil && offset+limit <= view.Fetched {
		r.metrics.CacheHit("relations")
		return sliceView(&view, offset, limit, expr), nil
	}
	if err != nil && err != rediscache.ErrCacheMiss {
		r.log.Warn("relation view read failed, degrading", logging.Err(err))
	}
	r.metrics.CacheMiss("relations")

	// Tier 2: Graph Store blob.  A stored blob is the completed merge,
	// so it answers any window — including an offset beyond total,
	// which yields empty data with total unchanged.
	stored, err := r.relations.GetRelationSlice(ctx, paperID, kind, offset, limit)
	if err == nil {
		items := summariesToRecords(stored.Items)
		return &RelationSlice{Total: stored.Total, Offset: offset, Data: projector.ProjectAll(items, expr)}, nil
	}
	if !errors.IsNotFound(err) {
		r.log.Warn("relation blob read failed, degrading", logging.Err(err))
	}

	// Tier 3: direct Upstream page, folded into the cached view
	// best-effort.  Gaps are tolerated; the ingestor backfills.
	page, err := r.upstream.FetchRelationPage(ctx, paperID, kind, offset, limit, relationFieldExpr)
	if err != nil {
		if errors.IsNotFound(err) {
			return &RelationSlice{Total: 0, Offset: offset, Data: []map[string]any{}}, nil
		}
		return nil, err
	}

	items := make([]map[string]any, 0, len(page.Items))
	for _, item := range page.Items {
		if item.Paper == nil {
			continue
		}
		items = append(items, item.Paper)
	}
	r.foldPageIntoView(ctx, paperID, kind, page.Total, offset, items)

	return &RelationSlice{Total: page.Total, Offset: offset, Data: projector.ProjectAll(items, expr)}, nil
}

// foldPageIntoView extends the cached merged view when the fetched page
// is contiguous with it (the common sequential-read pattern).
func (r *Resolver) foldPageIntoView(ctx context.Context, paperID string, kind citation.Kind, total, offset int, items []map[string]any) {
	var view RelationView
	err := r.cache.Get(ctx, cachekey.Relations(paperID, kind), &view)
	if err != nil && err != rediscache.ErrCacheMiss {
		return
	}
	if offset != view.Fetched {
		return
	}
	view.Total = total
	view.Items = append(view.Items, items...)
	view.Fetched += len(items)
	if err := r.cache.Set(ctx, cachekey.Relations(paperID, kind), &view, r.ttl.Relations); err != nil {
		r.log.Debug("relation view write failed", logging.Err(err))
	}
}

func sliceView(view *RelationView, offset, limit int, expr *projector.Expr) *RelationSlice {
	resp := &RelationSlice{Total: view.Total, Offset: offset, Data: []map[string]any{}}
	if offset >= len(view.Items) {
		return resp
	}
	end := offset + limit
	if end > len(view.Items) {
		end = len(view.Items)
	}
	resp.Data = projector.ProjectAll(view.Items[offset:end], expr)
	return resp
}

func summariesToRecords(items []citation.NeighborSummary) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		record := map[string]any{"paperId": item.PaperID}
		if item.Title != "" {
			record["title"] = item.Title
		}
		for k, v := range item.Extra {
			record[k] = v
		}
		out = append(out, record)
	}
	return out
}
