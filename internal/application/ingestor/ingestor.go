// Package ingestor paginates large citation/reference lists from
// Upstream, merges the pages idempotently into the Graph Store, and
// maintains the consolidated relation view in the Hot Cache.
//
// One ingest task runs per (paper, kind) at a time, guarded by the same
// Redis single-flight primitive the Resolver uses for fetches.
// Re-running from any point is safe: every Graph Store write is an
// upsert or merge, and raw pages land in the cache keyed by page index.
package ingestor

import (
	"context"
	"time"

	"github.com/turtacn/paperd/internal/application/cachekey"
	"github.com/turtacn/paperd/internal/config"
	"github.com/turtacn/paperd/internal/domain/citation"
	"github.com/turtacn/paperd/internal/domain/paper"
	rediscache "github.com/turtacn/paperd/internal/infrastructure/database/redis"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/internal/infrastructure/upstream"
	"github.com/turtacn/paperd/pkg/errors"
)

// relationPageFields is the projection requested for each ingested page.
const relationPageFields = "paperId,title,year,authors,externalIds,isInfluential,contexts,intents"

// Metrics is the observability surface the ingestor emits through.
type Metrics interface {
	IngestPage(kind string)
	IngestDone(kind string, state string, pages int)
}

type nopMetrics struct{}

func (nopMetrics) IngestPage(string)            {}
func (nopMetrics) IngestDone(string, string, int) {}

// Options bundles the ingestor's dependencies.
type Options struct {
	Upstream  upstream.Client
	Papers    paper.Repository
	Relations citation.Repository
	Cache     rediscache.Cache
	Flights   rediscache.FlightTokenFactory
	Metrics   Metrics

	Ingest config.IngestConfig
	TTL    config.CacheTTLConfig

	Logger logging.Logger
}

// Ingestor drives relation pagination.  Safe for concurrent use.
type Ingestor struct {
	upstream  upstream.Client
	papers    paper.Repository
	relations citation.Repository
	cache     rediscache.Cache
	flights   rediscache.FlightTokenFactory
	metrics   Metrics

	cfg config.IngestConfig
	ttl config.CacheTTLConfig
	log logging.Logger
}

// New builds an Ingestor.
func New(opts Options) *Ingestor {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Ingestor{
		upstream:  opts.Upstream,
		papers:    opts.Papers,
		relations: opts.Relations,
		cache:     opts.Cache,
		flights:   opts.Flights,
		metrics:   metrics,
		cfg:       opts.Ingest,
		ttl:       opts.TTL,
		log:       opts.Logger.Named("ingestor"),
	}
}

// TriggerIngest satisfies the Resolver's trigger contract by running the
// ingest in a detached goroutine.  A second trigger for a pair already
// running observes the flight token and returns immediately.
func (g *Ingestor) TriggerIngest(ctx context.Context, paperID string, kind citation.Kind, expectedTotal int) error {
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := g.Ingest(bg, paperID, kind, expectedTotal); err != nil &&
			!errors.IsCode(err, errors.ErrCodeIngestRunning) {
			g.log.Warn("background ingest failed",
				logging.String("paper_id", paperID),
				logging.String("kind", string(kind)),
				logging.Err(err))
		}
	}()
	return nil
}

// Ingest runs the full pagination loop for one (paper, kind).  It blocks
// until the merge completes, the page cap is hit, or a persistent
// failure marks the progress failed.
func (g *Ingestor) Ingest(ctx context.Context, paperID string, kind citation.Kind, expectedTotal int) error {
	token := g.flights.NewToken(cachekey.IngestFlight(paperID, kind), g.ttl.FlightToken)
	acquired, err := token.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "ingest flight token unavailable")
	}
	if !acquired {
		return errors.New(errors.ErrCodeIngestRunning, "ingest already running for this relation")
	}
	defer func() {
		if err := token.Release(context.WithoutCancel(ctx)); err != nil && err != rediscache.ErrLockNotHeld {
			g.log.Debug("ingest token release failed", logging.Err(err))
		}
	}()

	progress, acc := g.resume(ctx, paperID, kind, expectedTotal)
	progress.State = citation.IngestRunning
	g.saveProgress(ctx, progress)

	if err := g.paginate(ctx, progress, acc); err != nil {
		progress.State = citation.IngestFailed
		g.saveProgress(ctx, progress)
		g.metrics.IngestDone(string(kind), string(citation.IngestFailed), progress.PagesFetched)
		return err
	}

	blob := acc.blob(paperID, kind, progress.ExpectedTotal)
	if err := g.relations.StoreRelationBlob(ctx, blob); err != nil {
		progress.State = citation.IngestFailed
		g.saveProgress(ctx, progress)
		g.metrics.IngestDone(string(kind), string(citation.IngestFailed), progress.PagesFetched)
		return errors.Wrap(err, errors.ErrCodeIngestFailed, "relation blob persistence failed")
	}
	g.publishView(ctx, paperID, kind, blob)

	progress.State = citation.IngestComplete
	g.saveProgress(ctx, progress)
	g.metrics.IngestDone(string(kind), string(citation.IngestComplete), progress.PagesFetched)
	g.log.Info("relation ingest complete",
		logging.String("paper_id", paperID),
		logging.String("kind", string(kind)),
		logging.Int("pages", progress.PagesFetched),
		logging.Int("neighbors", len(blob.Items)))
	return nil
}

// resume loads stored progress and rebuilds the accumulator from cached
// raw pages.  When any already-fetched page has expired from the cache
// the loop restarts from zero; merges are idempotent so the only cost is
// the repeated fetches.
func (g *Ingestor) resume(ctx context.Context, paperID string, kind citation.Kind, expectedTotal int) (*citation.IngestProgress, *accumulator) {
	acc := newAccumulator()
	progress, err := g.relations.GetIngestProgress(ctx, paperID, kind)
	if err != nil || progress == nil || progress.State == citation.IngestComplete {
		return &citation.IngestProgress{
			PaperID:       paperID,
			Kind:          kind,
			ExpectedTotal: expectedTotal,
			State:         citation.IngestPending,
		}, acc
	}

	for page := 0; page < progress.PagesFetched; page++ {
		var cached []upstream.RelationItem
		if err := g.cache.Get(ctx, cachekey.RelationPage(paperID, kind, page), &cached); err != nil {
			g.log.Debug("cached page missing, restarting ingest from zero",
				logging.String("paper_id", paperID), logging.Int("page", page))
			progress.PagesFetched = 0
			progress.LastPageCursor = 0
			return progress, newAccumulator()
		}
		acc.merge(cached)
	}
	if expectedTotal > progress.ExpectedTotal {
		progress.ExpectedTotal = expectedTotal
	}
	return progress, acc
}

func (g *Ingestor) paginate(ctx context.Context, progress *citation.IngestProgress, acc *accumulator) error {
	for {
		if g.cfg.PageCap > 0 && progress.PagesFetched >= g.cfg.PageCap {
			g.log.Warn("ingest page cap reached",
				logging.String("paper_id", progress.PaperID),
				logging.Int("pages", progress.PagesFetched))
			return nil
		}
		offset := progress.PagesFetched * g.cfg.PageSize
		if progress.ExpectedTotal > 0 && offset >= progress.ExpectedTotal {
			return nil
		}

		page, err := g.upstream.FetchRelationPage(ctx, progress.PaperID, progress.Kind, offset, g.cfg.PageSize, relationPageFields)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeIngestFailed, "relation page fetch failed")
		}
		g.metrics.IngestPage(string(progress.Kind))

		if err := g.persistPage(ctx, progress, page); err != nil {
			return err
		}
		acc.merge(page.Items)

		progress.ExpectedTotal = page.Total
		progress.PagesFetched++
		if page.Next != nil {
			progress.LastPageCursor = *page.Next
		}
		g.saveProgress(ctx, progress)

		if page.Next == nil || len(page.Items) == 0 {
			return nil
		}
	}
}

// persistPage writes the raw page to the cache by index and the page's
// stubs and edges to the Graph Store.
func (g *Ingestor) persistPage(ctx context.Context, progress *citation.IngestProgress, page *upstream.RelationPage) error {
	pageIndex := progress.PagesFetched
	if err := g.cache.Set(ctx, cachekey.RelationPage(progress.PaperID, progress.Kind, pageIndex), page.Items, g.ttl.Relations); err != nil {
		g.log.Debug("raw page cache write failed", logging.Err(err))
	}

	var refs []paper.NeighborRef
	var neighborIDs []string
	attrs := map[string]citation.Edge{}
	for _, item := range page.Items {
		id := item.PaperID()
		if id == "" {
			continue
		}
		refs = append(refs, paper.NeighborRef{PaperID: id, Title: item.Title()})
		neighborIDs = append(neighborIDs, id)
		attrs[id] = citation.Edge{
			Contexts:      item.Contexts,
			Intents:       item.Intents,
			IsInfluential: item.IsInfluential,
		}
	}
	if len(refs) == 0 {
		return nil
	}

	if err := g.papers.UpsertNeighborStubs(ctx, refs); err != nil {
		return errors.Wrap(err, errors.ErrCodeIngestFailed, "neighbor stub upsert failed")
	}
	var err error
	if progress.Kind == citation.KindCitations {
		err = g.relations.MergeEdgesReverse(ctx, progress.PaperID, neighborIDs, attrs)
	} else {
		err = g.relations.MergeEdges(ctx, progress.PaperID, neighborIDs, attrs)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIngestFailed, "edge merge failed")
	}
	return nil
}

// publishView replaces the consolidated relation view in the cache.
func (g *Ingestor) publishView(ctx context.Context, paperID string, kind citation.Kind, blob *citation.Blob) {
	items := make([]map[string]any, 0, len(blob.Items))
	for _, item := range blob.Items {
		record := map[string]any{"paperId": item.PaperID}
		if item.Title != "" {
			record["title"] = item.Title
		}
		for k, v := range item.Extra {
			record[k] = v
		}
		items = append(items, record)
	}
	view := map[string]any{"total": blob.Total, "fetched": len(items), "items": items}
	if err := g.cache.Set(ctx, cachekey.Relations(paperID, kind), view, g.ttl.Relations); err != nil {
		g.log.Debug("relation view publish failed", logging.Err(err))
	}
}

func (g *Ingestor) saveProgress(ctx context.Context, progress *citation.IngestProgress) {
	progress.UpdatedAt = time.Now().UTC()
	if err := g.relations.SetIngestProgress(ctx, progress); err != nil {
		g.log.Warn("ingest progress persistence failed", logging.Err(err))
	}
	if err := g.cache.Set(ctx, cachekey.IngestProgress(progress.PaperID, progress.Kind), progress, g.ttl.IngestProgress); err != nil {
		g.log.Debug("ingest progress cache write failed", logging.Err(err))
	}
}

// Progress reports the current ingest cursor for one (paper, kind),
// preferring the cached copy.
func (g *Ingestor) Progress(ctx context.Context, paperID string, kind citation.Kind) (*citation.IngestProgress, error) {
	var cached citation.IngestProgress
	if err := g.cache.Get(ctx, cachekey.IngestProgress(paperID, kind), &cached); err == nil && cached.PaperID != "" {
		return &cached, nil
	}
	return g.relations.GetIngestProgress(ctx, paperID, kind)
}

// accumulator merges neighbor summaries across pages, deduplicating by
// neighbor paper id with last-writer-wins per field and preserving
// first-seen order.
type accumulator struct {
	order []string
	byID  map[string]map[string]any
}

func newAccumulator() *accumulator {
	return &accumulator{byID: map[string]map[string]any{}}
}

func (a *accumulator) merge(items []upstream.RelationItem) {
	for _, item := range items {
		id := item.PaperID()
		if id == "" {
			continue
		}
		existing, ok := a.byID[id]
		if !ok {
			existing = map[string]any{}
			a.byID[id] = existing
			a.order = append(a.order, id)
		}
		for k, v := range item.Paper {
			existing[k] = v
		}
	}
}

func (a *accumulator) blob(paperID string, kind citation.Kind, total int) *citation.Blob {
	items := make([]citation.NeighborSummary, 0, len(a.order))
	for _, id := range a.order {
		record := a.byID[id]
		summary := citation.NeighborSummary{PaperID: id}
		if title, ok := record["title"].(string); ok {
			summary.Title = title
		}
		extra := map[string]any{}
		for k, v := range record {
			if k == "paperId" || k == "title" {
				continue
			}
			extra[k] = v
		}
		if len(extra) > 0 {
			summary.Extra = extra
		}
		items = append(items, summary)
	}
	if total < len(items) {
		total = len(items)
	}
	return &citation.Blob{
		PaperID:   paperID,
		Kind:      kind,
		Total:     total,
		Items:     items,
		UpdatedAt: time.Now().UTC(),
	}
}
