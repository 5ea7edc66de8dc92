package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/turtacn/paperd/internal/domain/citation"
	driver "github.com/turtacn/paperd/internal/infrastructure/database/neo4j"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

type neo4jCitationRepo struct {
	driver driver.DriverInterface
	log    logging.Logger
}

// NewCitationRepository builds the citation-graph repository: MERGE-based
// idempotent edges (one per ordered pair), relation blobs stored as a
// JSON property on a per-(paper, kind) Relation node, and ingest
// progress nodes keyed the same way.
func NewCitationRepository(d driver.DriverInterface, log logging.Logger) citation.Repository {
	return &neo4jCitationRepo{driver: d, log: log.Named("citation-repo")}
}

var _ citation.Repository = (*neo4jCitationRepo)(nil)

const mergeEdgesQuery = `
UNWIND $batch AS row
MERGE (a:Paper {paper_id: row.from})
MERGE (b:Paper {paper_id: row.to})
MERGE (a)-[r:CITES]->(b)
SET r.contexts = row.contexts,
    r.intents = row.intents,
    r.is_influential = row.isInfluential,
    r.updated_at = datetime()`

// MergeEdges records citing -> each of citedPaperIDs.  attrs carries edge
// attributes keyed by the neighbor id; attributes merge last-writer-wins.
func (r *neo4jCitationRepo) MergeEdges(ctx context.Context, citingPaperID string, citedPaperIDs []string, attrs map[string]citation.Edge) error {
	return r.runEdgeMerge(ctx, edgeBatch(citingPaperID, citedPaperIDs, attrs, false))
}

// MergeEdgesReverse records each of citingPaperIDs -> cited, the
// direction observed from the cited paper's citation list.
func (r *neo4jCitationRepo) MergeEdgesReverse(ctx context.Context, citedPaperID string, citingPaperIDs []string, attrs map[string]citation.Edge) error {
	return r.runEdgeMerge(ctx, edgeBatch(citedPaperID, citingPaperIDs, attrs, true))
}

func (r *neo4jCitationRepo) runEdgeMerge(ctx context.Context, batch []map[string]any) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (interface{}, error) {
		_, err := tx.Run(ctx, mergeEdgesQuery, map[string]any{"batch": batch})
		return nil, err
	})
	return err
}

func edgeBatch(anchorID string, neighborIDs []string, attrs map[string]citation.Edge, reverse bool) []map[string]any {
	batch := make([]map[string]any, 0, len(neighborIDs))
	for _, neighborID := range neighborIDs {
		if neighborID == "" {
			continue
		}
		from, to := anchorID, neighborID
		if reverse {
			from, to = neighborID, anchorID
		}
		row := map[string]any{"from": from, "to": to, "contexts": []string{}, "intents": []string{}, "isInfluential": false}
		if edge, ok := attrs[neighborID]; ok {
			row["contexts"] = edge.Contexts
			row["intents"] = edge.Intents
			row["isInfluential"] = edge.IsInfluential
		}
		batch = append(batch, row)
	}
	return batch
}

const storeBlobQuery = `
MERGE (b:Relation {paper_id: $paperId, kind: $kind})
SET b.items = $items,
    b.total = $total,
    b.updated_at = $updatedAt`

// StoreRelationBlob replaces the merged neighbor list atomically; the
// previous blob is fully superseded.
func (r *neo4jCitationRepo) StoreRelationBlob(ctx context.Context, blob *citation.Blob) error {
	items, err := json.Marshal(blob.Items)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode relation blob")
	}
	_, err = r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (interface{}, error) {
		_, err := tx.Run(ctx, storeBlobQuery, map[string]any{
			"paperId":   blob.PaperID,
			"kind":      string(blob.Kind),
			"items":     string(items),
			"total":     blob.Total,
			"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
		})
		return nil, err
	})
	return err
}

const getBlobQuery = `
MATCH (b:Relation {paper_id: $paperId, kind: $kind})
RETURN b.items AS items, b.total AS total`

// GetRelationSlice serves an offset/limit window of the stored blob.  The
// blob is decoded and sliced here; Neo4j has no array-slice-with-total
// read worth the round trip for JSON properties.  A missing blob yields
// a PaperNotFound error so callers can distinguish "never ingested" from
// "empty relation list".
func (r *neo4jCitationRepo) GetRelationSlice(ctx context.Context, paperID string, kind citation.Kind, offset, limit int) (*citation.RelationSlice, error) {
	out, err := r.driver.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, getBlobQuery, map[string]any{"paperId": paperID, "kind": string(kind)})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nil, errors.New(errors.ErrCodePaperNotFound, "no relation blob stored")
		}
		values := result.Record().Values
		var items []citation.NeighborSummary
		if raw, ok := values[0].(string); ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &items); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeSerialization, "stored relation blob is corrupt")
			}
		}
		total := asInt(values[1])

		slice := &citation.RelationSlice{Total: total, Offset: offset, Items: []citation.NeighborSummary{}}
		if offset < len(items) {
			end := offset + limit
			if limit <= 0 || end > len(items) {
				end = len(items)
			}
			slice.Items = items[offset:end]
		}
		return slice, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*citation.RelationSlice), nil
}

const getProgressQuery = `
MATCH (ip:IngestProgress {paper_id: $paperId, kind: $kind})
RETURN ip.expected_total AS expectedTotal, ip.pages_fetched AS pagesFetched,
       ip.last_page_cursor AS lastPageCursor, ip.state AS state, ip.updated_at AS updatedAt`

// GetIngestProgress returns the stored cursor, or nil when no ingest has
// ever started for the pair.
func (r *neo4jCitationRepo) GetIngestProgress(ctx context.Context, paperID string, kind citation.Kind) (*citation.IngestProgress, error) {
	out, err := r.driver.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, getProgressQuery, map[string]any{"paperId": paperID, "kind": string(kind)})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		values := result.Record().Values
		progress := &citation.IngestProgress{
			PaperID:        paperID,
			Kind:           kind,
			ExpectedTotal:  asInt(values[0]),
			PagesFetched:   asInt(values[1]),
			LastPageCursor: asInt(values[2]),
			UpdatedAt:      asTime(values[4]),
		}
		if state, ok := values[3].(string); ok {
			progress.State = citation.IngestState(state)
		}
		return progress, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.(*citation.IngestProgress), nil
}

const setProgressQuery = `
MERGE (ip:IngestProgress {paper_id: $paperId, kind: $kind})
SET ip.expected_total = $expectedTotal,
    ip.pages_fetched = $pagesFetched,
    ip.last_page_cursor = $lastPageCursor,
    ip.state = $state,
    ip.updated_at = $updatedAt`

// SetIngestProgress writes the cursor wholesale.
func (r *neo4jCitationRepo) SetIngestProgress(ctx context.Context, progress *citation.IngestProgress) error {
	_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (interface{}, error) {
		_, err := tx.Run(ctx, setProgressQuery, map[string]any{
			"paperId":        progress.PaperID,
			"kind":           string(progress.Kind),
			"expectedTotal":  progress.ExpectedTotal,
			"pagesFetched":   progress.PagesFetched,
			"lastPageCursor": progress.LastPageCursor,
			"state":          string(progress.State),
			"updatedAt":      time.Now().UTC().Format(time.RFC3339Nano),
		})
		return nil, err
	})
	return err
}

func asInt(v any) int {
	switch tv := v.(type) {
	case int64:
		return int(tv)
	case int:
		return tv
	case float64:
		return int(tv)
	default:
		return 0
	}
}
