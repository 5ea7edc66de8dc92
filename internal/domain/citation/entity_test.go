package citation

import (
	"testing"
	"time"
)

func TestBlobHoldsMergedItems(t *testing.T) {
	blob := &Blob{
		PaperID: "649def34f8be52c8b66281af98ae884c09aef38b",
		Kind:    KindCitations,
		Total:   2,
		Items: []NeighborSummary{
			{PaperID: "a1", Title: "Paper A"},
			{PaperID: "a2", Title: "Paper B"},
		},
		UpdatedAt: time.Now().UTC(),
	}

	if len(blob.Items) != blob.Total {
		t.Errorf("expected %d items, got %d", blob.Total, len(blob.Items))
	}
}

func TestIngestProgressDefaultsToPending(t *testing.T) {
	p := &IngestProgress{
		PaperID: "p1",
		Kind:    KindReferences,
		State:   IngestPending,
	}

	if p.State != IngestPending {
		t.Errorf("expected state %q, got %q", IngestPending, p.State)
	}
	if p.PagesFetched != 0 {
		t.Errorf("expected zero pages fetched, got %d", p.PagesFetched)
	}
}

func TestRelationSliceEmptyBeyondTotal(t *testing.T) {
	slice := &RelationSlice{Total: 5, Offset: 10, Items: nil}

	if len(slice.Items) != 0 {
		t.Errorf("expected empty items beyond total, got %d", len(slice.Items))
	}
	if slice.Total != 5 {
		t.Errorf("expected total unchanged at 5, got %d", slice.Total)
	}
}
