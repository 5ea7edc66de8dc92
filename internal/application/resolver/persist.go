package resolver

import (
	"context"

	"github.com/turtacn/paperd/internal/domain/alias"
	"github.com/turtacn/paperd/internal/domain/citation"
	"github.com/turtacn/paperd/internal/domain/paper"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
)

// schedulePersist launches the background fan-out for a freshly fetched
// record: Graph Store upsert, alias recording, inline edge merge, ingest
// trigger, and secondary-index hooks.  The work survives the inbound
// request's cancellation; losing it leaves the Graph Store stale but
// never produces a client-visible error.
func (r *Resolver) schedulePersist(ctx context.Context, paperID string, record map[string]any) {
	bg := context.WithoutCancel(ctx)
	go func() {
		pctx, cancel := context.WithTimeout(bg, r.cfg.PersistTimeout)
		defer cancel()
		r.persist(pctx, paperID, record)
	}()
}

func (r *Resolver) persist(ctx context.Context, paperID string, record map[string]any) {
	now := r.now()
	stored := &paper.StoredPaper{
		PaperID:           paperID,
		Record:            record,
		IngestStatus:      paper.StatusFull,
		FetchedAt:         now,
		MetadataUpdatedAt: now,
	}
	if err := r.papers.UpsertPaper(ctx, stored); err != nil {
		r.log.Warn("graph store upsert failed", logging.String("paper_id", paperID), logging.Err(err))
	}

	aliases := alias.FromRecord(paperID, record)
	if len(aliases) > 0 {
		conflicts, err := r.aliases.Record(ctx, paperID, aliases)
		if err != nil {
			r.log.Warn("alias recording failed", logging.String("paper_id", paperID), logging.Err(err))
		}
		for _, c := range conflicts {
			r.log.Warn("alias conflict: keeping original target",
				logging.String("kind", string(c.Kind)),
				logging.String("value", c.NormalizedValue),
				logging.String("existing_paper_id", c.PaperID),
				logging.String("attempted_paper_id", paperID))
		}
	}

	r.persistInlineRelations(ctx, paperID, record, citation.KindCitations)
	r.persistInlineRelations(ctx, paperID, record, citation.KindReferences)

	r.maybeTriggerIngest(ctx, paperID, record, citation.KindCitations, "citationCount")
	r.maybeTriggerIngest(ctx, paperID, record, citation.KindReferences, "referenceCount")

	for _, hook := range r.hooks {
		if err := hook.PaperPersisted(ctx, paperID, record); err != nil {
			r.log.Warn("persist hook failed", logging.String("paper_id", paperID), logging.Err(err))
		}
	}
}

// persistInlineRelations merges the bounded neighbor lists Upstream
// returned inline with the paper body: neighbor stubs first (every edge
// endpoint must exist as a Paper node), then edges.
func (r *Resolver) persistInlineRelations(ctx context.Context, paperID string, record map[string]any, kind citation.Kind) {
	items, ok := record[string(kind)].([]any)
	if !ok || len(items) == 0 {
		return
	}
	var refs []paper.NeighborRef
	var neighborIDs []string
	for _, raw := range items {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := entry["paperId"].(string)
		if id == "" {
			continue
		}
		title, _ := entry["title"].(string)
		refs = append(refs, paper.NeighborRef{PaperID: id, Title: title})
		neighborIDs = append(neighborIDs, id)
	}
	if len(refs) == 0 {
		return
	}
	if err := r.papers.UpsertNeighborStubs(ctx, refs); err != nil {
		r.log.Warn("neighbor stub upsert failed",
			logging.String("paper_id", paperID), logging.String("kind", string(kind)), logging.Err(err))
		return
	}
	var err error
	if kind == citation.KindCitations {
		err = r.relations.MergeEdgesReverse(ctx, paperID, neighborIDs, nil)
	} else {
		err = r.relations.MergeEdges(ctx, paperID, neighborIDs, nil)
	}
	if err != nil {
		r.log.Warn("inline edge merge failed",
			logging.String("paper_id", paperID), logging.String("kind", string(kind)), logging.Err(err))
	}
}

// maybeTriggerIngest hands large relation lists to the Relation
// Ingestor; the inline slice fetched with the body is enough below the
// threshold.
func (r *Resolver) maybeTriggerIngest(ctx context.Context, paperID string, record map[string]any, kind citation.Kind, countField string) {
	if r.ingest == nil {
		return
	}
	total := intField(record, countField)
	if total < r.lrg.LargeThreshold {
		return
	}
	if err := r.ingest.TriggerIngest(ctx, paperID, kind, total); err != nil {
		r.log.Warn("ingest trigger failed",
			logging.String("paper_id", paperID), logging.String("kind", string(kind)), logging.Err(err))
	}
}

func intField(record map[string]any, field string) int {
	switch v := record[field].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
