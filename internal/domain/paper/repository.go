package paper

import (
	"context"
	"time"
)

// StoredPaper couples the schema-free superset record with the Graph
// Store's bookkeeping columns.  The record map is the source of truth for
// everything the Projector can serve; the typed fields exist so freshness
// and merge decisions never require parsing the record.
type StoredPaper struct {
	PaperID           string         `json:"paperId"`
	Record            map[string]any `json:"record"`
	IngestStatus      IngestStatus   `json:"ingestStatus"`
	FetchedAt         time.Time      `json:"fetchedAt"`
	MetadataUpdatedAt time.Time      `json:"metadataUpdatedAt"`
}

// IsFresh reports whether the stored metadata is within window of now.
func (sp *StoredPaper) IsFresh(now time.Time, window time.Duration) bool {
	if sp.MetadataUpdatedAt.IsZero() {
		return false
	}
	return now.Sub(sp.MetadataUpdatedAt) < window
}

// Repository is the Graph Store's paper-node contract.
type Repository interface {
	// GetPaper returns the stored superset record.  A clean miss is
	// (nil, false, nil).
	GetPaper(ctx context.Context, paperID string) (*StoredPaper, bool, error)

	// UpsertPaper merges record into the store.  Merge semantics: the
	// ingest status never downgrades from full to stub, only newly
	// provided record fields overwrite stored ones, and timestamps only
	// advance.
	UpsertPaper(ctx context.Context, record *StoredPaper) error

	// UpsertNeighborStubs creates any missing Paper nodes with
	// ingest status stub and minimal fields; existing nodes are left
	// untouched.
	UpsertNeighborStubs(ctx context.Context, refs []NeighborRef) error
}
