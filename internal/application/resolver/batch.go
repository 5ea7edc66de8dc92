package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/turtacn/paperd/internal/application/cachekey"
	"github.com/turtacn/paperd/internal/application/projector"
	"github.com/turtacn/paperd/internal/domain/alias"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

// GetBatch resolves up to the configured cap of raw references in one
// call.  Output position i always corresponds to input i; a reference
// that cannot be parsed or resolved occupies its position as nil.  Hot
// Cache hits are served locally; the misses go to Upstream in a single
// batch call.
func (r *Resolver) GetBatch(ctx context.Context, rawRefs []string, fieldExpr string) ([]map[string]any, error) {
	if len(rawRefs) == 0 {
		return nil, errors.New(errors.ErrCodeBadRequest, "batch requires at least one id")
	}
	if len(rawRefs) > r.cfg.BatchSizeCap {
		return nil, errors.New(errors.ErrCodeBatchTooLarge,
			fmt.Sprintf("batch of %d exceeds the %d-id limit", len(rawRefs), r.cfg.BatchSizeCap))
	}

	expr := projector.Parse(fieldExpr)
	results := make([]map[string]any, len(rawRefs))

	// Parse every reference and resolve known identities.
	type pending struct {
		position int
		ref      *alias.ParsedRef
	}
	var known []pending   // canonical id established, try hot cache
	var unknown []pending // identity unknown, must go upstream
	ids := make([]string, len(rawRefs))
	for i, raw := range rawRefs {
		ref, err := alias.ParseRef(raw)
		if err != nil {
			// A malformed reference occupies its slot as nil rather
			// than failing the whole batch.
			continue
		}
		if id := r.resolveIdentity(ctx, ref); id != "" {
			ids[i] = id
			known = append(known, pending{position: i, ref: ref})
		} else {
			unknown = append(unknown, pending{position: i, ref: ref})
		}
	}

	// Batched hot-cache read for the known identities.
	var keys []string
	keyPos := map[string]int{}
	for _, p := range known {
		key := cachekey.PaperFull(ids[p.position])
		keys = append(keys, key)
		keyPos[key] = p.position
	}
	cached := map[string][]byte{}
	if len(keys) > 0 {
		var err error
		cached, err = r.cache.MGet(ctx, keys)
		if err != nil {
			r.log.Warn("batched hot cache read failed, degrading")
			cached = map[string][]byte{}
		}
	}

	var misses []pending
	for _, p := range known {
		key := cachekey.PaperFull(ids[p.position])
		raw, ok := cached[key]
		if !ok {
			misses = append(misses, p)
			continue
		}
		record := decodeRecord(raw)
		if record == nil {
			misses = append(misses, p)
			continue
		}
		r.metrics.CacheHit("hot")
		results[p.position] = record
	}
	for range misses {
		r.metrics.CacheMiss("hot")
	}
	misses = append(misses, unknown...)

	if len(misses) > 0 {
		refs := make([]string, len(misses))
		for i, p := range misses {
			refs[i] = p.ref.Upstream()
		}
		records, err := r.upstream.FetchBatch(ctx, refs, fetchFieldExpr)
		if err != nil {
			// Upstream down: the cached positions still serve; the
			// misses stay nil only when nothing else can satisfy them.
			if allNil(results) {
				return nil, err
			}
			r.log.Warn("batch upstream fetch failed, returning cache-only results", logging.Err(err))
		} else {
			for i, p := range misses {
				record := records[i]
				if record == nil {
					continue
				}
				paperID, _ := record["paperId"].(string)
				if paperID == "" {
					continue
				}
				results[p.position] = record
				r.writeThrough(ctx, paperID, record)
				r.schedulePersist(ctx, paperID, record)
			}
		}
	}

	projected := make([]map[string]any, len(results))
	for i, record := range results {
		if record == nil {
			continue
		}
		projected[i] = projector.Project(record, expr)
	}
	return projected, nil
}

func decodeRecord(raw []byte) map[string]any {
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil || len(record) == 0 {
		return nil
	}
	return record
}

func allNil(records []map[string]any) bool {
	for _, r := range records {
		if r != nil {
			return false
		}
	}
	return true
}
