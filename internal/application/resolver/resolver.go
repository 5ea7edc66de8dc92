// Package resolver implements the read path for single-paper, batch, and
// relation queries, and the write fan-out that keeps the Hot Cache,
// Graph Store, and Alias Index coherent.
//
// Tier order on read: alias -> hot cache -> negative cache -> graph
// store -> single-flight -> upstream.  The Hot Cache write happens
// before the response returns; Graph Store and Alias Index persistence
// runs in the background and is observable only probabilistically.
package resolver

import (
	"context"
	"time"

	"github.com/turtacn/paperd/internal/application/cachekey"
	"github.com/turtacn/paperd/internal/application/projector"
	"github.com/turtacn/paperd/internal/config"
	"github.com/turtacn/paperd/internal/domain/alias"
	"github.com/turtacn/paperd/internal/domain/citation"
	"github.com/turtacn/paperd/internal/domain/paper"
	rediscache "github.com/turtacn/paperd/internal/infrastructure/database/redis"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/internal/infrastructure/upstream"
	"github.com/turtacn/paperd/pkg/errors"
)

// fetchFieldExpr is the widest reasonable projection requested from
// Upstream on a body fetch: every core field plus bounded inline
// relations, so small papers never need a second call.
const fetchFieldExpr = "paperId,title,abstract,venue,year,publicationDate," +
	"authors,externalIds,citationCount,referenceCount,influentialCitationCount," +
	"isOpenAccess,openAccessPdf,fieldsOfStudy,publicationTypes,journal," +
	"citationStyles,tldr,embedding," +
	"citations.paperId,citations.title,references.paperId,references.title"

// relationFieldExpr is the projection requested for relation pages.
const relationFieldExpr = "paperId,title,year,authors,externalIds,isInfluential,contexts,intents"

// IngestTrigger hands a large relation list to the Relation Ingestor,
// in-process or through the message bus.
type IngestTrigger interface {
	TriggerIngest(ctx context.Context, paperID string, kind citation.Kind, expectedTotal int) error
}

// PersistHook runs after a fetched record has been persisted; used to
// feed secondary indexes (full-text, vectors, PDF mirror).  Hook errors
// are logged and swallowed: the Hot Cache already serves the result.
type PersistHook interface {
	PaperPersisted(ctx context.Context, paperID string, record map[string]any) error
}

// Metrics is the observability surface the resolver emits through.
type Metrics interface {
	CacheHit(tier string)
	CacheMiss(tier string)
	SingleFlightWait()
	UpstreamFetch(operation string, elapsed time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) CacheHit(string)                               {}
func (nopMetrics) CacheMiss(string)                              {}
func (nopMetrics) SingleFlightWait()                             {}
func (nopMetrics) UpstreamFetch(string, time.Duration, error) {}

// Options bundles the resolver's dependencies.  Aliases, Cache, Flights,
// Papers, Relations, and Upstream are required; the rest may be nil.
type Options struct {
	Aliases   alias.Repository
	Cache     rediscache.Cache
	Flights   rediscache.FlightTokenFactory
	Papers    paper.Repository
	Relations citation.Repository
	Upstream  upstream.Client
	Ingest    IngestTrigger
	Hooks     []PersistHook
	Metrics   Metrics

	Resolver config.ResolverConfig
	TTL      config.CacheTTLConfig
	Large    config.IngestConfig

	Logger logging.Logger
}

// Resolver coordinates the tiers.  It is safe for concurrent use.
type Resolver struct {
	aliases   alias.Repository
	cache     rediscache.Cache
	flights   rediscache.FlightTokenFactory
	papers    paper.Repository
	relations citation.Repository
	upstream  upstream.Client
	ingest    IngestTrigger
	hooks     []PersistHook
	metrics   Metrics

	cfg config.ResolverConfig
	ttl config.CacheTTLConfig
	lrg config.IngestConfig

	log logging.Logger
	now func() time.Time
}

// New builds a Resolver.
func New(opts Options) *Resolver {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Resolver{
		aliases:   opts.Aliases,
		cache:     opts.Cache,
		flights:   opts.Flights,
		papers:    opts.Papers,
		relations: opts.Relations,
		upstream:  opts.Upstream,
		ingest:    opts.Ingest,
		hooks:     opts.Hooks,
		metrics:   metrics,
		cfg:       opts.Resolver,
		ttl:       opts.TTL,
		lrg:       opts.Large,
		log:       opts.Logger.Named("resolver"),
		now:       time.Now,
	}
}

// GetPaper resolves one raw reference to a projected record.
func (r *Resolver) GetPaper(ctx context.Context, rawRef, fieldExpr string) (map[string]any, error) {
	expr := projector.Parse(fieldExpr)

	ref, err := alias.ParseRef(rawRef)
	if err != nil {
		return nil, err
	}

	paperID := r.resolveIdentity(ctx, ref)
	if paperID == "" {
		// Unknown alias: Upstream is called speculatively on the raw
		// reference; the returned record's paperId defines identity and
		// the alias is recorded during the persistence fan-out.
		record, err := r.fetchAndPopulate(ctx, ref.Upstream(), "")
		if err != nil {
			return nil, err
		}
		if id, _ := record["paperId"].(string); id != "" {
			requested := []alias.Alias{{Kind: ref.Kind, NormalizedValue: ref.Value, PaperID: id}}
			bg := context.WithoutCancel(ctx)
			go func() {
				if _, err := r.aliases.Record(bg, id, requested); err != nil {
					r.log.Warn("requested alias recording failed", logging.String("paper_id", id), logging.Err(err))
				}
			}()
		}
		return projector.Project(record, expr), nil
	}

	record, err := r.getByID(ctx, paperID)
	if err != nil {
		return nil, err
	}
	return projector.Project(record, expr), nil
}

// Warm fetches a paper if absent and populates the Hot Cache.
func (r *Resolver) Warm(ctx context.Context, rawRef string) error {
	_, err := r.GetPaper(ctx, rawRef, "paperId")
	return err
}

// Invalidate deletes every Hot Cache key belonging to the paper.  The
// Graph Store is untouched.
func (r *Resolver) Invalidate(ctx context.Context, rawRef string) error {
	ref, err := alias.ParseRef(rawRef)
	if err != nil {
		return err
	}
	paperID := r.resolveIdentity(ctx, ref)
	if paperID == "" {
		return errors.New(errors.ErrCodePaperNotFound, "no cached paper for reference")
	}
	if _, err := r.cache.DeleteByPrefix(ctx, cachekey.PaperPrefix(paperID)); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache invalidation failed")
	}
	return r.cache.Delete(ctx, cachekey.Negative(paperID))
}

// resolveIdentity maps a parsed reference onto the canonical paper id,
// or "" when the alias index has never seen it.  Index failures degrade
// to a miss per the read-path policy.
func (r *Resolver) resolveIdentity(ctx context.Context, ref *alias.ParsedRef) string {
	if ref.IsCanonical() {
		return ref.Canonical
	}
	paperID, found, err := r.aliases.Resolve(ctx, ref.Kind, ref.Value)
	if err != nil {
		r.log.Warn("alias index unavailable, degrading to upstream identity",
			logging.String("kind", string(ref.Kind)), logging.Err(err))
		return ""
	}
	if !found {
		return ""
	}
	return paperID
}

// getByID walks hot -> negative -> warm -> single-flight -> upstream.
func (r *Resolver) getByID(ctx context.Context, paperID string) (map[string]any, error) {
	if record := r.hotLookup(ctx, paperID); record != nil {
		r.metrics.CacheHit("hot")
		return record, nil
	}
	r.metrics.CacheMiss("hot")

	if neg, err := r.cache.Exists(ctx, cachekey.Negative(paperID)); err == nil && neg {
		return nil, errors.New(errors.ErrCodePaperNotFound, "paper not found (negative cache)")
	}

	stored, found, err := r.papers.GetPaper(ctx, paperID)
	if err != nil {
		r.log.Warn("graph store read failed, degrading to upstream", logging.Err(err))
		stored, found = nil, false
	}
	if found && stored.IsFresh(r.now(), r.cfg.FreshnessWindow) && stored.IngestStatus == paper.StatusFull {
		r.metrics.CacheHit("warm")
		r.writeThrough(ctx, paperID, stored.Record)
		return stored.Record, nil
	}
	r.metrics.CacheMiss("warm")

	token := r.flights.NewToken(cachekey.PaperFlight(paperID), r.ttl.FlightToken)
	acquired, err := token.Acquire(ctx)
	if err != nil {
		r.log.Warn("flight token acquisition failed, fetching anyway", logging.Err(err))
		acquired = true // cache down: a redundant fetch beats blocking
	}
	if !acquired {
		r.metrics.SingleFlightWait()
		if record := r.awaitFlight(ctx, paperID); record != nil {
			return record, nil
		}
		// The holder may have crashed; a redundant fetch is tolerated.
	}

	record, fetchErr := r.fetchAndPopulate(ctx, paperID, paperID)
	if acquired {
		if err := token.Release(context.WithoutCancel(ctx)); err != nil && err != rediscache.ErrLockNotHeld {
			r.log.Debug("flight token release failed", logging.Err(err))
		}
	}
	if fetchErr == nil {
		return record, nil
	}

	if errors.IsNotFound(fetchErr) {
		if err := r.cache.Set(ctx, cachekey.Negative(paperID), true, r.ttl.Negative); err != nil {
			r.log.Debug("negative cache write failed", logging.Err(err))
		}
		return nil, fetchErr
	}

	// Upstream down: a stale Graph Store copy is better than nothing.
	if found && stored != nil && len(stored.Record) > 0 {
		staleRecord := make(map[string]any, len(stored.Record)+1)
		for k, v := range stored.Record {
			staleRecord[k] = v
		}
		staleRecord["dataMayBeOutdated"] = true
		r.log.Warn("serving stale graph store copy",
			logging.String("paper_id", paperID), logging.Err(fetchErr))
		return staleRecord, nil
	}
	return nil, fetchErr
}

// hotLookup reads the merged record from the Hot Cache; any cache error
// degrades to a miss.
func (r *Resolver) hotLookup(ctx context.Context, paperID string) map[string]any {
	var record map[string]any
	err := r.cache.Get(ctx, cachekey.PaperFull(paperID), &record)
	if err == nil && len(record) > 0 {
		return record
	}
	if err != nil && err != rediscache.ErrCacheMiss {
		r.log.Warn("hot cache read failed, degrading", logging.Err(err))
	}
	return nil
}

// awaitFlight polls the result key while another holder fetches.  The
// poll interval and total are bounded; nil means the wait timed out.
func (r *Resolver) awaitFlight(ctx context.Context, paperID string) map[string]any {
	deadline := r.now().Add(r.cfg.FlightWaitTotal)
	ticker := time.NewTicker(r.cfg.FlightPollInterval)
	defer ticker.Stop()
	for {
		if record := r.hotLookup(ctx, paperID); record != nil {
			return record
		}
		if neg, err := r.cache.Exists(ctx, cachekey.Negative(paperID)); err == nil && neg {
			return nil
		}
		if r.now().After(deadline) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// fetchAndPopulate calls Upstream, writes the Hot Cache synchronously,
// and schedules the persistence fan-out.  knownID is "" when identity is
// not yet established (speculative alias fetch).
func (r *Resolver) fetchAndPopulate(ctx context.Context, upstreamRef, knownID string) (map[string]any, error) {
	start := r.now()
	record, err := r.upstream.FetchPaper(ctx, upstreamRef, fetchFieldExpr)
	r.metrics.UpstreamFetch("fetch_paper", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	paperID, _ := record["paperId"].(string)
	if paperID == "" {
		return nil, errors.New(errors.ErrCodeUpstreamBadResponse, "upstream record carries no paperId")
	}
	if knownID != "" && knownID != paperID {
		r.log.Warn("upstream reassigned canonical id",
			logging.String("requested", knownID), logging.String("returned", paperID))
	}

	r.writeThrough(ctx, paperID, record)
	r.schedulePersist(ctx, paperID, record)
	return record, nil
}

func (r *Resolver) writeThrough(ctx context.Context, paperID string, record map[string]any) {
	if err := r.cache.Set(ctx, cachekey.PaperFull(paperID), record, r.ttl.Paper); err != nil {
		r.log.Warn("hot cache write failed", logging.String("paper_id", paperID), logging.Err(err))
	}
}
