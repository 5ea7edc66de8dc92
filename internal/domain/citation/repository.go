package citation

import "context"

// Repository is the Graph Store's view of the citation graph: edge
// merging and relation blob storage, adapted from the teacher's
// MERGE-based idempotent citation repository to paper-id-keyed edges.
type Repository interface {
	// MergeEdges records citing -> each of citedPaperIDs, creating
	// missing neighbor stubs first. Idempotent: re-running with the same
	// pairs leaves exactly one edge per ordered pair.
	MergeEdges(ctx context.Context, citingPaperID string, citedPaperIDs []string, attrs map[string]Edge) error
	// MergeEdgesReverse records each of citingPaperIDs -> cited, i.e. the
	// reference direction observed from the cited paper's perspective.
	MergeEdgesReverse(ctx context.Context, citedPaperID string, citingPaperIDs []string, attrs map[string]Edge) error

	StoreRelationBlob(ctx context.Context, blob *Blob) error
	GetRelationSlice(ctx context.Context, paperID string, kind Kind, offset, limit int) (*RelationSlice, error)

	GetIngestProgress(ctx context.Context, paperID string, kind Kind) (*IngestProgress, error)
	SetIngestProgress(ctx context.Context, progress *IngestProgress) error
}
