package resolver

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/paperd/internal/domain/alias"
	"github.com/turtacn/paperd/internal/domain/citation"
	"github.com/turtacn/paperd/internal/domain/paper"
	rediscache "github.com/turtacn/paperd/internal/infrastructure/database/redis"
	"github.com/turtacn/paperd/internal/infrastructure/upstream"
	"github.com/turtacn/paperd/pkg/errors"
)

// fakeCache is an in-memory stand-in for the Redis Hot Cache.  Only the
// methods the resolver exercises are implemented; the embedded interface
// satisfies the rest.
type fakeCache struct {
	rediscache.Cache
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	setErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (c *fakeCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return c.getErr
	}
	raw, ok := c.data[key]
	if !ok {
		return rediscache.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *fakeCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *fakeCache) MGet(_ context.Context, keys []string) (map[string][]byte, error) {
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

func (c *fakeCache) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var deleted int64
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
			deleted++
		}
	}
	return deleted, nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// fakeFlights is an in-memory single-flight token factory.
type fakeFlights struct {
	mu     sync.Mutex
	held   map[string]bool
	denied bool // force Acquire to fail (token held elsewhere)
}

func newFakeFlights() *fakeFlights {
	return &fakeFlights{held: map[string]bool{}}
}

func (f *fakeFlights) NewToken(name string, _ time.Duration) rediscache.FlightToken {
	return &fakeToken{flights: f, name: name}
}

type fakeToken struct {
	flights *fakeFlights
	name    string
	owned   bool
}

func (t *fakeToken) Acquire(context.Context) (bool, error) {
	t.flights.mu.Lock()
	defer t.flights.mu.Unlock()
	if t.flights.denied || t.flights.held[t.name] {
		return false, nil
	}
	t.flights.held[t.name] = true
	t.owned = true
	return true, nil
}

func (t *fakeToken) Release(context.Context) error {
	t.flights.mu.Lock()
	defer t.flights.mu.Unlock()
	if !t.owned {
		return rediscache.ErrLockNotHeld
	}
	delete(t.flights.held, t.name)
	t.owned = false
	return nil
}

func (t *fakeToken) TTL(context.Context) (time.Duration, error) { return 0, nil }

// fakeAliasRepo is an in-memory Alias Index.
type fakeAliasRepo struct {
	mu      sync.Mutex
	entries map[string]string // kind|value -> paperID
	err     error
}

func newFakeAliasRepo() *fakeAliasRepo {
	return &fakeAliasRepo{entries: map[string]string{}}
}

func aliasKey(kind alias.Kind, value string) string {
	return string(kind) + "|" + value
}

func (r *fakeAliasRepo) Resolve(_ context.Context, kind alias.Kind, value string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", false, r.err
	}
	id, ok := r.entries[aliasKey(kind, value)]
	return id, ok, nil
}

func (r *fakeAliasRepo) Record(_ context.Context, paperID string, aliases []alias.Alias) ([]alias.Alias, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
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

func (r *fakeAliasRepo) AliasesOf(_ context.Context, paperID string) ([]alias.Alias, error) {
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

// fakePaperRepo is an in-memory Graph Store paper set.
type fakePaperRepo struct {
	mu     sync.Mutex
	papers map[string]*paper.StoredPaper
	stubs  []paper.NeighborRef
	err    error
}

func newFakePaperRepo() *fakePaperRepo {
	return &fakePaperRepo{papers: map[string]*paper.StoredPaper{}}
}

func (r *fakePaperRepo) GetPaper(_ context.Context, paperID string) (*paper.StoredPaper, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, false, r.err
	}
	sp, ok := r.papers[paperID]
	return sp, ok, nil
}

func (r *fakePaperRepo) UpsertPaper(_ context.Context, record *paper.StoredPaper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.papers[record.PaperID] = record
	return nil
}

func (r *fakePaperRepo) UpsertNeighborStubs(_ context.Context, refs []paper.NeighborRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubs = append(r.stubs, refs...)
	return nil
}

// fakeCitationRepo records edge merges and serves scripted blobs.
type fakeCitationRepo struct {
	mu       sync.Mutex
	edges    []citation.Edge
	blobs    map[string]*citation.Blob
	progress map[string]*citation.IngestProgress
}

func newFakeCitationRepo() *fakeCitationRepo {
	return &fakeCitationRepo{
		blobs:    map[string]*citation.Blob{},
		progress: map[string]*citation.IngestProgress{},
	}
}

func blobKey(paperID string, kind citation.Kind) string {
	return paperID + "|" + string(kind)
}

func (r *fakeCitationRepo) MergeEdges(_ context.Context, citing string, cited []string, _ map[string]citation.Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cited {
		r.edges = append(r.edges, citation.Edge{CitingPaperID: citing, CitedPaperID: c})
	}
	return nil
}

func (r *fakeCitationRepo) MergeEdgesReverse(_ context.Context, cited string, citing []string, _ map[string]citation.Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range citing {
		r.edges = append(r.edges, citation.Edge{CitingPaperID: c, CitedPaperID: cited})
	}
	return nil
}

func (r *fakeCitationRepo) StoreRelationBlob(_ context.Context, blob *citation.Blob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[blobKey(blob.PaperID, blob.Kind)] = blob
	return nil
}

func (r *fakeCitationRepo) GetRelationSlice(_ context.Context, paperID string, kind citation.Kind, offset, limit int) (*citation.RelationSlice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.blobs[blobKey(paperID, kind)]
	if !ok {
		return nil, errors.New(errors.ErrCodePaperNotFound, "no relation blob stored")
	}
	slice := &citation.RelationSlice{Total: blob.Total, Offset: offset}
	if offset < len(blob.Items) {
		end := offset + limit
		if end > len(blob.Items) {
			end = len(blob.Items)
		}
		slice.Items = blob.Items[offset:end]
	}
	return slice, nil
}

func (r *fakeCitationRepo) GetIngestProgress(_ context.Context, paperID string, kind citation.Kind) (*citation.IngestProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress[blobKey(paperID, kind)], nil
}

func (r *fakeCitationRepo) SetIngestProgress(_ context.Context, p *citation.IngestProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[blobKey(p.PaperID, p.Kind)] = p
	return nil
}

// fakeUpstream is a scripted Upstream with call counting.
type fakeUpstream struct {
	mu          sync.Mutex
	papers      map[string]map[string]any // keyed by every accepted ref
	fetchCalls  int
	batchCalls  int
	pageCalls   int
	fetchErr    error
	pages       map[string][]*upstream.RelationPage
	fetchDelay  time.Duration
	batchResult func(refs []string) []map[string]any
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		papers: map[string]map[string]any{},
		pages:  map[string][]*upstream.RelationPage{},
	}
}

func (u *fakeUpstream) addPaper(record map[string]any, refs ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id, _ := record["paperId"].(string)
	u.papers[id] = record
	for _, ref := range refs {
		u.papers[ref] = record
	}
}

func (u *fakeUpstream) FetchPaper(_ context.Context, ref, _ string) (map[string]any, error) {
	u.mu.Lock()
	u.fetchCalls++
	delay := u.fetchDelay
	err := u.fetchErr
	record, ok := u.papers[ref]
	u.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.ErrCodePaperNotFound, "upstream reported not found")
	}
	return record, nil
}

func (u *fakeUpstream) FetchRelationPage(_ context.Context, paperID string, kind citation.Kind, offset, _ int, _ string) (*upstream.RelationPage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pageCalls++
	pages := u.pages[blobKey(paperID, kind)]
	for _, p := range pages {
		if p.Offset == offset {
			return p, nil
		}
	}
	return nil, errors.New(errors.ErrCodePaperNotFound, "no such page")
}

func (u *fakeUpstream) FetchBatch(_ context.Context, refs []string, _ string) ([]map[string]any, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.batchCalls++
	if u.fetchErr != nil {
		return nil, u.fetchErr
	}
	if u.batchResult != nil {
		return u.batchResult(refs), nil
	}
	out := make([]map[string]any, len(refs))
	for i, ref := range refs {
		if record, ok := u.papers[ref]; ok {
			out[i] = record
		}
	}
	return out, nil
}

func (u *fakeUpstream) Search(context.Context, upstream.SearchQuery) (*upstream.SearchResult, error) {
	return nil, errors.New(errors.ErrCodeNotImplemented, "not scripted")
}

func (u *fakeUpstream) SearchByTitleMatch(context.Context, string, upstream.SearchFilters, string) (map[string]any, error) {
	return nil, errors.New(errors.ErrCodeNotImplemented, "not scripted")
}

func (u *fakeUpstream) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fetchCalls
}

// fakeIngestTrigger records trigger invocations.
type fakeIngestTrigger struct {
	mu       sync.Mutex
	triggers []string
}

func (f *fakeIngestTrigger) TriggerIngest(_ context.Context, paperID string, kind citation.Kind, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, blobKey(paperID, kind))
	return nil
}
