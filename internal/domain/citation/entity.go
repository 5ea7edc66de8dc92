// Package citation models the directed citation graph between papers:
// edges, merged relation blobs, and the pagination cursor that tracks how
// far an ingest has progressed for one (paper, relation kind) pair.
package citation

import "time"

// Kind identifies which relation list an edge or blob belongs to.
type Kind string

const (
	KindCitations  Kind = "citations"
	KindReferences Kind = "references"
)

// Edge is a directed (citing_paper_id, cited_paper_id) pair. At most one
// edge exists per ordered pair; Contexts/Intents/IsInfluential are merged
// last-writer-wins across repeated observations of the same pair.
type Edge struct {
	CitingPaperID string   `json:"citingPaperId"`
	CitedPaperID  string   `json:"citedPaperId"`
	Contexts      []string `json:"contexts,omitempty"`
	Intents       []string `json:"intents,omitempty"`
	IsInfluential bool     `json:"isInfluential,omitempty"`
}

// NeighborSummary is the minimal shape every relation page item carries,
// plus whatever extra projected fields Upstream returned for it.
type NeighborSummary struct {
	PaperID string         `json:"paperId"`
	Title   string         `json:"title,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Blob is the merged, deduplicated neighbor list for one (paper, kind).
type Blob struct {
	PaperID   string            `json:"paperId"`
	Kind      Kind              `json:"kind"`
	Total     int               `json:"total"`
	Items     []NeighborSummary `json:"items"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// IngestState is the lifecycle of a Relation Ingestor task.
type IngestState string

const (
	IngestPending  IngestState = "pending"
	IngestRunning  IngestState = "running"
	IngestComplete IngestState = "complete"
	IngestFailed   IngestState = "failed"
)

// IngestProgress is the persistent cursor describing how far pagination
// of one (paper_id, relation_kind) has advanced.
type IngestProgress struct {
	PaperID        string      `json:"paperId"`
	Kind           Kind        `json:"kind"`
	ExpectedTotal  int         `json:"expectedTotal"`
	PagesFetched   int         `json:"pagesFetched"`
	LastPageCursor int         `json:"lastPageCursor"`
	State          IngestState `json:"state"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// RelationPage is one raw page fetched from Upstream, before merge.
type RelationPage struct {
	PaperID    string            `json:"paperId"`
	Kind       Kind              `json:"kind"`
	PageIndex  int               `json:"pageIndex"`
	Total      int               `json:"total"`
	Offset     int               `json:"offset"`
	NextOffset *int              `json:"nextOffset,omitempty"`
	Items      []NeighborSummary `json:"items"`
}

// RelationSlice is the offset/limit view returned to a reader.
type RelationSlice struct {
	Total  int               `json:"total"`
	Offset int               `json:"offset"`
	Items  []NeighborSummary `json:"items"`
}
