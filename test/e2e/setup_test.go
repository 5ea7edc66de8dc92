// Package e2e_test drives the assembled proxy end-to-end: real HTTP
// router, real Resolver/Ingestor/Search Coordinator, real Upstream
// client pointed at an in-process fake Upstream server, and in-memory
// stand-ins for the Hot Cache, Graph Store, and Alias Index.  No
// network access or external containers are required.
package e2e_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/paperd/internal/application/ingestor"
	"github.com/turtacn/paperd/internal/application/resolver"
	appsearch "github.com/turtacn/paperd/internal/application/search"
	"github.com/turtacn/paperd/internal/config"
	"github.com/turtacn/paperd/internal/domain/alias"
	"github.com/turtacn/paperd/internal/domain/citation"
	"github.com/turtacn/paperd/internal/domain/paper"
	rediscache "github.com/turtacn/paperd/internal/infrastructure/database/redis"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/internal/infrastructure/upstream"
	httpserver "github.com/turtacn/paperd/internal/interfaces/http"
	"github.com/turtacn/paperd/internal/interfaces/http/handlers"
	"github.com/turtacn/paperd/pkg/errors"
)

// ── in-memory hot cache ──────────────────────────────────────────────────────

type memCache struct {
	rediscache.Cache
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return rediscache.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *memCache) MGet(_ context.Context, keys []string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string][]byte{}
	for _, k := range keys {
		if raw, ok := c.data[k]; ok {
			out[k] = raw
		}
	}
	return out, nil
}

func (c *memCache) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
			n++
		}
	}
	return n, nil
}

// ── in-memory single-flight tokens ───────────────────────────────────────────

type memFlights struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemFlights() *memFlights { return &memFlights{held: map[string]bool{}} }

func (f *memFlights) NewToken(name string, _ time.Duration) rediscache.FlightToken {
	return &memToken{flights: f, name: name}
}

type memToken struct {
	flights *memFlights
	name    string
	owned   bool
}

func (t *memToken) Acquire(context.Context) (bool, error) {
	t.flights.mu.Lock()
	defer t.flights.mu.Unlock()
	if t.flights.held[t.name] {
		return false, nil
	}
	t.flights.held[t.name] = true
	t.owned = true
	return true, nil
}

func (t *memToken) Release(context.Context) error {
	t.flights.mu.Lock()
	defer t.flights.mu.Unlock()
	if !t.owned {
		return rediscache.ErrLockNotHeld
	}
	delete(t.flights.held, t.name)
	t.owned = false
	return nil
}

func (t *memToken) TTL(context.Context) (time.Duration, error) { return 0, nil }

// ── in-memory alias index ────────────────────────────────────────────────────

type memAliasRepo struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemAliasRepo() *memAliasRepo { return &memAliasRepo{entries: map[string]string{}} }

func aliasKey(kind alias.Kind, value string) string { return string(kind) + "|" + value }

func (r *memAliasRepo) Resolve(_ context.Context, kind alias.Kind, value string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[aliasKey(kind, value)]
	return id, ok, nil
}

func (r *memAliasRepo) Record(_ context.Context, paperID string, aliases []alias.Alias) ([]alias.Alias, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var conflicts []alias.Alias
	for _, a := range aliases {
		key := aliasKey(a.Kind, a.NormalizedValue)
		if existing, ok := r.entries[key]; ok && existing != paperID {
			conflicts = append(conflicts, alias.Alias{Kind: a.Kind, NormalizedValue: a.NormalizedValue, PaperID: existing})
			continue
		}
		r.entries[key] = paperID
	}
	return conflicts, nil
}

func (r *memAliasRepo) AliasesOf(_ context.Context, paperID string) ([]alias.Alias, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []alias.Alias
	for key, id := range r.entries {
		if id != paperID {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		out = append(out, alias.Alias{Kind: alias.Kind(parts[0]), NormalizedValue: parts[1], PaperID: id})
	}
	return out, nil
}

// ── in-memory graph store ────────────────────────────────────────────────────

type memGraph struct {
	mu       sync.Mutex
	papers   map[string]*paper.StoredPaper
	blobs    map[string]*citation.Blob
	progress map[string]*citation.IngestProgress
	edges    map[string]bool
}

func newMemGraph() *memGraph {
	return &memGraph{
		papers:   map[string]*paper.StoredPaper{},
		blobs:    map[string]*citation.Blob{},
		progress: map[string]*citation.IngestProgress{},
		edges:    map[string]bool{},
	}
}

func pairKey(paperID string, kind citation.Kind) string { return paperID + "|" + string(kind) }

func (g *memGraph) GetPaper(_ context.Context, paperID string) (*paper.StoredPaper, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sp, ok := g.papers[paperID]
	return sp, ok, nil
}

func (g *memGraph) UpsertPaper(_ context.Context, record *paper.StoredPaper) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	existing, ok := g.papers[record.PaperID]
	if ok && existing.IngestStatus == paper.StatusFull && record.IngestStatus == paper.StatusStub {
		record.IngestStatus = paper.StatusFull
	}
	g.papers[record.PaperID] = record
	return nil
}

func (g *memGraph) UpsertNeighborStubs(_ context.Context, refs []paper.NeighborRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ref := range refs {
		if _, ok := g.papers[ref.PaperID]; ok {
			continue
		}
		g.papers[ref.PaperID] = &paper.StoredPaper{
			PaperID:      ref.PaperID,
			Record:       map[string]any{"paperId": ref.PaperID, "title": ref.Title},
			IngestStatus: paper.StatusStub,
		}
	}
	return nil
}

func (g *memGraph) MergeEdges(_ context.Context, citing string, cited []string, _ map[string]citation.Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range cited {
		g.edges[citing+"->"+c] = true
	}
	return nil
}

func (g *memGraph) MergeEdgesReverse(_ context.Context, cited string, citing []string, _ map[string]citation.Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range citing {
		g.edges[c+"->"+cited] = true
	}
	return nil
}

func (g *memGraph) StoreRelationBlob(_ context.Context, blob *citation.Blob) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blobs[pairKey(blob.PaperID, blob.Kind)] = blob
	return nil
}

func (g *memGraph) GetRelationSlice(_ context.Context, paperID string, kind citation.Kind, offset, limit int) (*citation.RelationSlice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	blob, ok := g.blobs[pairKey(paperID, kind)]
	if !ok {
		return nil, errors.New(errors.ErrCodePaperNotFound, "no relation blob stored")
	}
	slice := &citation.RelationSlice{Total: blob.Total, Offset: offset, Items: []citation.NeighborSummary{}}
	if offset < len(blob.Items) {
		end := offset + limit
		if end > len(blob.Items) {
			end = len(blob.Items)
		}
		slice.Items = blob.Items[offset:end]
	}
	return slice, nil
}

func (g *memGraph) GetIngestProgress(_ context.Context, paperID string, kind citation.Kind) (*citation.IngestProgress, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress[pairKey(paperID, kind)], nil
}

func (g *memGraph) SetIngestProgress(_ context.Context, p *citation.IngestProgress) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	clone := *p
	g.progress[pairKey(p.PaperID, p.Kind)] = &clone
	return nil
}

// ── fake Upstream HTTP server ────────────────────────────────────────────────

// fakeUpstreamServer speaks the Upstream wire protocol: paper lookups by
// canonical id or prefixed alias, relation pages, batch, and search.
type fakeUpstreamServer struct {
	mu         sync.Mutex
	papers     map[string]map[string]any // every accepted ref -> record
	citations  map[string][]map[string]any
	fetchCalls int
	down       bool
}

func newFakeUpstreamServer() *fakeUpstreamServer {
	return &fakeUpstreamServer{
		papers:    map[string]map[string]any{},
		citations: map[string][]map[string]any{},
	}
}

func (s *fakeUpstreamServer) addPaper(record map[string]any, refs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := record["paperId"].(string)
	s.papers[id] = record
	for _, ref := range refs {
		s.papers[ref] = record
	}
}

func (s *fakeUpstreamServer) addCitations(paperID string, neighbors []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.citations[paperID] = neighbors
}

func (s *fakeUpstreamServer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

func (s *fakeUpstreamServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/paper/batch", func(w http.ResponseWriter, r *http.Request) {
		if s.unavailable(w) {
			return
		}
		var body struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		out := make([]any, len(body.IDs))
		for i, ref := range body.IDs {
			if record, ok := s.papers[ref]; ok {
				out[i] = record
			}
		}
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/paper/search", func(w http.ResponseWriter, r *http.Request) {
		if s.unavailable(w) {
			return
		}
		query := strings.ToLower(r.URL.Query().Get("query"))
		s.mu.Lock()
		var hits []map[string]any
		seen := map[string]bool{}
		for _, record := range s.papers {
			id := record["paperId"].(string)
			if seen[id] {
				continue
			}
			if title, ok := record["title"].(string); ok && strings.Contains(strings.ToLower(title), query) {
				hits = append(hits, record)
				seen[id] = true
			}
		}
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total": len(hits), "offset": 0, "data": hits,
		})
	})
	mux.HandleFunc("/paper/", func(w http.ResponseWriter, r *http.Request) {
		if s.unavailable(w) {
			return
		}
		tail := strings.TrimPrefix(r.URL.Path, "/paper/")
		if ref, ok := strings.CutSuffix(tail, "/citations"); ok {
			s.relationPage(w, r, ref)
			return
		}
		if ref, ok := strings.CutSuffix(tail, "/references"); ok {
			_ = ref
			_ = json.NewEncoder(w).Encode(map[string]any{"total": 0, "offset": 0, "data": []any{}})
			return
		}
		s.mu.Lock()
		record, ok := s.papers[tail]
		s.fetchCalls++
		s.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"Paper not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(record)
	})
	return mux
}

func (s *fakeUpstreamServer) relationPage(w http.ResponseWriter, r *http.Request, ref string) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	record := s.papers[ref]
	var id string
	if record != nil {
		id = record["paperId"].(string)
	} else {
		id = ref
	}
	neighbors := s.citations[id]
	s.mu.Unlock()

	total := len(neighbors)
	var data []map[string]any
	for i := offset; i < offset+limit && i < total; i++ {
		data = append(data, map[string]any{"citingPaper": neighbors[i]})
	}
	resp := map[string]any{"total": total, "offset": offset, "data": data}
	if next := offset + limit; next < total {
		resp["next"] = next
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *fakeUpstreamServer) unavailable(w http.ResponseWriter) bool {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}
	return down
}

// ── assembled environment ────────────────────────────────────────────────────

type testEnv struct {
	upstream *fakeUpstreamServer
	cache    *memCache
	graph    *memGraph
	aliases  *memAliasRepo
	ingestor *ingestor.Ingestor
	resolver *resolver.Resolver
	proxy    *httptest.Server
	client   *http.Client
}

func newTestEnv(tb interface {
	Cleanup(func())
	Helper()
}) *testEnv {
	tb.Helper()

	env := &testEnv{
		upstream: newFakeUpstreamServer(),
		cache:    newMemCache(),
		graph:    newMemGraph(),
		aliases:  newMemAliasRepo(),
		client:   &http.Client{Timeout: 10 * time.Second},
	}

	upstreamSrv := httptest.NewServer(env.upstream.handler())
	tb.Cleanup(upstreamSrv.Close)

	logger := logging.NewNopLogger()
	flights := newMemFlights()

	upstreamClient := upstream.NewClient(config.UpstreamConfig{
		BaseURL:        upstreamSrv.URL,
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		RateLimitRPS:   10_000,
		RateLimitBurst: 10_000,
	}, logger)

	ttl := config.CacheTTLConfig{
		Paper: time.Hour, Relations: time.Hour, Search: time.Minute,
		Negative: time.Minute, FlightToken: time.Minute, IngestProgress: time.Hour,
	}
	ingestCfg := config.IngestConfig{LargeThreshold: 100, PageSize: 100, PageCap: 100}

	env.ingestor = ingestor.New(ingestor.Options{
		Upstream:  upstreamClient,
		Papers:    env.graph,
		Relations: env.graph,
		Cache:     env.cache,
		Flights:   flights,
		Ingest:    ingestCfg,
		TTL:       ttl,
		Logger:    logger,
	})

	env.resolver = resolver.New(resolver.Options{
		Aliases:   env.aliases,
		Cache:     env.cache,
		Flights:   flights,
		Papers:    env.graph,
		Relations: env.graph,
		Upstream:  upstreamClient,
		Ingest:    env.ingestor,
		Resolver: config.ResolverConfig{
			FreshnessWindow:    24 * time.Hour,
			RequestDeadline:    5 * time.Second,
			BatchSizeCap:       500,
			FlightPollInterval: 5 * time.Millisecond,
			FlightWaitTotal:    time.Second,
			PersistTimeout:     5 * time.Second,
		},
		TTL:    ttl,
		Large:  ingestCfg,
		Logger: logger,
	})

	searchCoordinator := appsearch.New(appsearch.Options{
		Cache:    env.cache,
		Upstream: upstreamClient,
		Papers:   env.resolver,
		Search:   config.SearchConfig{DefaultLimit: 10, MaxLimit: 100, LocalMinResults: 3, SimilarTopK: 5},
		TTL:      ttl,
		Logger:   logger,
	})

	router := httpserver.NewRouter(httpserver.RouterConfig{
		PaperHandler:  handlers.NewPaperHandler(env.resolver, 100, 1000, 500),
		SearchHandler: handlers.NewSearchHandler(searchCoordinator),
		HealthHandler: handlers.NewHealthHandler("e2e"),
		Logger:        logger,
	})
	env.proxy = httptest.NewServer(router)
	tb.Cleanup(env.proxy.Close)

	return env
}
