package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

// DefaultPaperCollection is the collection name used when none is
// configured.
const DefaultPaperCollection = "papers"

// PaperVectors stores paper embeddings during the Resolver's persistence
// fan-out and answers the Search Coordinator's similar-papers queries.
type PaperVectors struct {
	searcher   *Searcher
	collMgr    *CollectionManager
	collection string
	dim        int
	logger     logging.Logger
}

// NewPaperVectors builds the adapter.
func NewPaperVectors(searcher *Searcher, collMgr *CollectionManager, collection string, dim int, log logging.Logger) *PaperVectors {
	if collection == "" {
		collection = DefaultPaperCollection
	}
	return &PaperVectors{
		searcher:   searcher,
		collMgr:    collMgr,
		collection: collection,
		dim:        dim,
		logger:     log.Named("paper-vectors"),
	}
}

// EnsureCollection creates and loads the embedding collection if absent.
func (p *PaperVectors) EnsureCollection(ctx context.Context) error {
	return p.collMgr.EnsureCollection(ctx, PaperEmbeddingSchema(p.dim), []IndexConfig{
		{FieldName: "embedding", IndexType: "HNSW", MetricType: "COSINE"},
	})
}

// PaperPersisted implements the Resolver's persist hook: a record that
// carries an embedding of the expected dimension is upserted into the
// collection; everything else is skipped silently.
func (p *PaperVectors) PaperPersisted(ctx context.Context, paperID string, record map[string]any) error {
	embedding, ok := record["embedding"].(map[string]any)
	if !ok {
		return nil
	}
	rawVector, ok := embedding["vector"].([]any)
	if !ok || len(rawVector) == 0 {
		return nil
	}
	if p.dim > 0 && len(rawVector) != p.dim {
		p.logger.Debug("skipping embedding with unexpected dimension",
			logging.String("paper_id", paperID), logging.Int("dim", len(rawVector)))
		return nil
	}
	vector := make([]float32, len(rawVector))
	for i, v := range rawVector {
		f, ok := v.(float64)
		if !ok {
			return nil
		}
		vector[i] = float32(f)
	}
	model, _ := embedding["model"].(string)
	var year int64
	if y, ok := record["year"].(float64); ok {
		year = int64(y)
	}

	_, err := p.searcher.Upsert(ctx, InsertRequest{
		CollectionName: p.collection,
		Data: []map[string]interface{}{{
			"paper_id":  paperID,
			"embedding": vector,
			"model":     model,
			"year":      year,
		}},
	})
	return err
}

// SimilarPaper is one nearest-neighbor hit.
type SimilarPaper struct {
	PaperID string  `json:"paperId"`
	Score   float32 `json:"score"`
}

// Similar returns the topK nearest papers to the given vector, excluding
// selfID when present in the results.
func (p *PaperVectors) Similar(ctx context.Context, selfID string, vector []float32, topK int) ([]SimilarPaper, error) {
	if len(vector) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "empty query vector")
	}
	result, err := p.searcher.Search(ctx, VectorSearchRequest{
		CollectionName:  p.collection,
		VectorFieldName: "embedding",
		Vectors:         [][]float32{vector},
		TopK:            topK + 1,
		MetricType:      entity.COSINE,
		OutputFields:    []string{"paper_id"},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSearchFailed, "vector search failed")
	}
	if len(result.Results) == 0 {
		return nil, nil
	}

	out := make([]SimilarPaper, 0, topK)
	for _, hit := range result.Results[0] {
		id := stringField(hit.Fields, "paper_id")
		if id == "" {
			id = fmt.Sprintf("%d", hit.ID)
		}
		if id == selfID {
			continue
		}
		out = append(out, SimilarPaper{PaperID: id, Score: hit.Score})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func stringField(fields map[string]interface{}, name string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[name].(string)
	return s
}
