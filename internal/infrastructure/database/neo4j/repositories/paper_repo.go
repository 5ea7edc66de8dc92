// Package repositories holds the Neo4j-backed Graph Store repositories:
// paper nodes, citation edges, relation blobs, and ingest progress.
package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/turtacn/paperd/internal/domain/paper"
	driver "github.com/turtacn/paperd/internal/infrastructure/database/neo4j"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

type neo4jPaperRepo struct {
	driver driver.DriverInterface
	log    logging.Logger
}

// NewPaperRepository builds the paper-node repository.  The superset
// record is stored as a JSON property on the node alongside indexed
// scalar bookkeeping fields, so freshness checks never parse JSON.
func NewPaperRepository(d driver.DriverInterface, log logging.Logger) paper.Repository {
	return &neo4jPaperRepo{driver: d, log: log.Named("paper-repo")}
}

const getPaperQuery = `
MATCH (p:Paper {paper_id: $paperId})
RETURN p.record AS record, p.ingest_status AS ingestStatus,
       p.fetched_at AS fetchedAt, p.metadata_updated_at AS metadataUpdatedAt`

func (r *neo4jPaperRepo) GetPaper(ctx context.Context, paperID string) (*paper.StoredPaper, bool, error) {
	out, err := r.driver.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, getPaperQuery, map[string]any{"paperId": paperID})
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
		sp := &paper.StoredPaper{PaperID: paperID}
		if raw, ok := values[0].(string); ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &sp.Record); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeSerialization, "stored paper record is corrupt")
			}
		}
		if status, ok := values[1].(string); ok {
			sp.IngestStatus = paper.IngestStatus(status)
		}
		sp.FetchedAt = asTime(values[2])
		sp.MetadataUpdatedAt = asTime(values[3])
		return sp, nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out.(*paper.StoredPaper), true, nil
}

const upsertPaperQuery = `
MERGE (p:Paper {paper_id: $paperId})
SET p.record = $record,
    p.title = $title,
    p.ingest_status = $ingestStatus,
    p.fetched_at = $fetchedAt,
    p.metadata_updated_at = $metadataUpdatedAt`

func (r *neo4jPaperRepo) UpsertPaper(ctx context.Context, record *paper.StoredPaper) error {
	_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (interface{}, error) {
		// Read-merge-write inside one transaction: the stored record is
		// the running superset, so only newly provided fields overwrite.
		result, err := tx.Run(ctx, getPaperQuery, map[string]any{"paperId": record.PaperID})
		if err != nil {
			return nil, err
		}
		merged := record
		if result.Next(ctx) {
			values := result.Record().Values
			existing := &paper.StoredPaper{PaperID: record.PaperID}
			if raw, ok := values[0].(string); ok && raw != "" {
				_ = json.Unmarshal([]byte(raw), &existing.Record)
			}
			if status, ok := values[1].(string); ok {
				existing.IngestStatus = paper.IngestStatus(status)
			}
			existing.FetchedAt = asTime(values[2])
			existing.MetadataUpdatedAt = asTime(values[3])
			merged = mergeStored(existing, record)
		} else if err := result.Err(); err != nil {
			return nil, err
		}

		raw, err := json.Marshal(merged.Record)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode paper record")
		}
		title, _ := merged.Record["title"].(string)
		_, err = tx.Run(ctx, upsertPaperQuery, map[string]any{
			"paperId":           merged.PaperID,
			"record":            string(raw),
			"title":             title,
			"ingestStatus":      string(merged.IngestStatus),
			"fetchedAt":         timeParam(merged.FetchedAt),
			"metadataUpdatedAt": timeParam(merged.MetadataUpdatedAt),
		})
		return nil, err
	})
	return err
}

const upsertStubsQuery = `
UNWIND $batch AS row
MERGE (p:Paper {paper_id: row.paperId})
ON CREATE SET p.title = row.title,
              p.record = row.record,
              p.ingest_status = 'stub'`

func (r *neo4jPaperRepo) UpsertNeighborStubs(ctx context.Context, refs []paper.NeighborRef) error {
	if len(refs) == 0 {
		return nil
	}
	batch := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		if ref.PaperID == "" {
			continue
		}
		record := map[string]any{"paperId": ref.PaperID}
		if ref.Title != "" {
			record["title"] = ref.Title
		}
		raw, err := json.Marshal(record)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode neighbor stub")
		}
		batch = append(batch, map[string]any{
			"paperId": ref.PaperID,
			"title":   ref.Title,
			"record":  string(raw),
		})
	}
	if len(batch) == 0 {
		return nil
	}
	_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (interface{}, error) {
		_, err := tx.Run(ctx, upsertStubsQuery, map[string]any{"batch": batch})
		return nil, err
	})
	return err
}

// mergeStored folds incoming into existing per the upsert contract.
func mergeStored(existing, incoming *paper.StoredPaper) *paper.StoredPaper {
	merged := &paper.StoredPaper{
		PaperID:           existing.PaperID,
		Record:            map[string]any{},
		IngestStatus:      existing.IngestStatus,
		FetchedAt:         existing.FetchedAt,
		MetadataUpdatedAt: existing.MetadataUpdatedAt,
	}
	for k, v := range existing.Record {
		merged.Record[k] = v
	}
	for k, v := range incoming.Record {
		merged.Record[k] = v
	}
	// full never downgrades to stub
	if incoming.IngestStatus == paper.StatusFull || existing.IngestStatus == paper.StatusFull {
		merged.IngestStatus = paper.StatusFull
	} else if merged.IngestStatus == "" {
		merged.IngestStatus = incoming.IngestStatus
	}
	// timestamps only advance
	if incoming.FetchedAt.After(merged.FetchedAt) {
		merged.FetchedAt = incoming.FetchedAt
	}
	if incoming.MetadataUpdatedAt.After(merged.MetadataUpdatedAt) {
		merged.MetadataUpdatedAt = incoming.MetadataUpdatedAt
	}
	return merged
}

func timeParam(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func asTime(v any) time.Time {
	switch tv := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, tv)
		if err != nil {
			return time.Time{}
		}
		return t
	case time.Time:
		return tv
	default:
		return time.Time{}
	}
}
