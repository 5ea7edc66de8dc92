package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/paperd/internal/domain/alias"
	"github.com/turtacn/paperd/internal/domain/citation"
)

const litGraphID = "649def34f8be52c8b66281af98ae884c09aef38b"

func litGraphPaper() map[string]any {
	return map[string]any{
		"paperId": litGraphID,
		"title":   "Construction of the Literature Graph in Semantic Scholar",
		"year":    float64(2018),
		"authors": []any{
			map[string]any{"authorId": "1741101", "name": "Waleed Ammar"},
		},
		"externalIds": map[string]any{
			"DOI":   "10.18653/v1/N18-3011",
			"ArXiv": "1805.02262",
		},
		"citationCount":  float64(3),
		"referenceCount": float64(0),
	}
}

func getJSON(t *testing.T, env *testEnv, path string, dest interface{}) int {
	t.Helper()
	resp, err := env.client.Get(env.proxy.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func TestColdFetchByDOI(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.addPaper(litGraphPaper(), "DOI:10.18653/v1/n18-3011")

	var body map[string]any
	status := getJSON(t, env, "/paper/DOI:10.18653/v1/N18-3011?fields=title,year,authors.name", &body)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, litGraphID, body["paperId"])
	assert.Equal(t, "Construction of the Literature Graph in Semantic Scholar", body["title"])
	assert.Equal(t, float64(2018), body["year"])
	authors := body["authors"].([]any)
	first := authors[0].(map[string]any)
	assert.Equal(t, "1741101", first["authorId"])
	assert.Equal(t, "Waleed Ammar", first["name"])
	assert.Equal(t, 1, env.upstream.calls())

	// The DOI alias lands in the index during the async fan-out.
	require.Eventually(t, func() bool {
		id, found, _ := env.aliases.Resolve(context.Background(), alias.KindDOI, "10.18653/v1/n18-3011")
		return found && id == litGraphID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSecondFetchByArxivAliasHitsHotCache(t *testing.T) {
	env := newTestEnv(t)
	record := litGraphPaper()
	record["externalIds"].(map[string]any)["ArXiv"] = "2106.15928"
	env.upstream.addPaper(record, "ARXIV:2106.15928")

	status := getJSON(t, env, "/paper/ARXIV:2106.15928v2", nil)
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		_, found, _ := env.aliases.Resolve(context.Background(), alias.KindARXIV, "2106.15928")
		return found
	}, 2*time.Second, 10*time.Millisecond)

	var body map[string]any
	status = getJSON(t, env, "/paper/ARXIV:2106.15928", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, litGraphID, body["paperId"])
	assert.Equal(t, 1, env.upstream.calls(), "alias hit never reaches upstream twice")
}

func TestBatchWithOneUnknownRef(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.addPaper(litGraphPaper())
	second := map[string]any{"paperId": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "title": "Second"}
	env.upstream.addPaper(second, "ARXIV:2106.15928")

	payload, _ := json.Marshal(map[string]any{
		"ids":    []string{litGraphID, "DOI:10.invalid/none", "ARXIV:2106.15928"},
		"fields": "title",
	})
	resp, err := env.client.Post(env.proxy.URL+"/paper/batch", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 3)

	var first map[string]any
	require.NoError(t, json.Unmarshal(out[0], &first))
	assert.Equal(t, litGraphID, first["paperId"])
	assert.Equal(t, "null", string(out[1]), "unknown DOI renders as JSON null in place")
	var third map[string]any
	require.NoError(t, json.Unmarshal(out[2], &third))
	assert.Equal(t, "Second", third["title"])
}

func TestBatchSizeBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.addPaper(litGraphPaper())

	oversize := make([]string, 501)
	for i := range oversize {
		oversize[i] = litGraphID
	}
	payload, _ := json.Marshal(map[string]any{"ids": oversize})
	resp, err := env.client.Post(env.proxy.URL+"/paper/batch", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	payload, _ = json.Marshal(map[string]any{"ids": oversize[:500]})
	resp, err = env.client.Post(env.proxy.URL+"/paper/batch", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "batch of exactly 500 succeeds")
}

func TestNonPrefixedNonHexRefIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	status := getJSON(t, env, "/paper/just-some-string", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLargeRelationPaperIngestAndSlice(t *testing.T) {
	env := newTestEnv(t)
	const total = 3500

	record := litGraphPaper()
	record["citationCount"] = float64(total)
	env.upstream.addPaper(record)

	neighbors := make([]map[string]any, total)
	for i := range neighbors {
		neighbors[i] = map[string]any{
			"paperId": fmt.Sprintf("n%05d", i),
			"title":   fmt.Sprintf("Citing Paper %d", i),
		}
	}
	env.upstream.addCitations(litGraphID, neighbors)

	// The body fetch triggers the background ingest; wait for the blob.
	status := getJSON(t, env, "/paper/"+litGraphID, nil)
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		progress, _ := env.graph.GetIngestProgress(context.Background(), litGraphID, citation.KindCitations)
		return progress != nil && progress.State == citation.IngestComplete
	}, 10*time.Second, 20*time.Millisecond)

	var page struct {
		Total  int              `json:"total"`
		Offset int              `json:"offset"`
		Data   []map[string]any `json:"data"`
	}
	status = getJSON(t, env, "/paper/"+litGraphID+"/citations?offset=2500&limit=10", &page)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, total, page.Total)
	assert.Equal(t, 2500, page.Offset)
	require.Len(t, page.Data, 10)
	assert.Equal(t, "n02500", page.Data[0]["paperId"])

	// Offset beyond total yields empty data with total unchanged.
	status = getJSON(t, env, "/paper/"+litGraphID+"/citations?offset=99999&limit=10", &page)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, total, page.Total)
	assert.Empty(t, page.Data)
}

func TestSingleFlightUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.addPaper(litGraphPaper())

	const concurrency = 50
	var wg sync.WaitGroup
	statuses := make([]int, concurrency)
	ids := make([]string, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var body map[string]any
			statuses[i] = getJSON(t, env, "/paper/"+litGraphID, &body)
			if id, ok := body["paperId"].(string); ok {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		assert.Equal(t, http.StatusOK, statuses[i])
		assert.Equal(t, litGraphID, ids[i])
	}
	assert.LessOrEqual(t, env.upstream.calls(), 2,
		"concurrent cold reads coalesce (one redundant fetch tolerated on flight-wait expiry)")
}

func TestUpstreamDownServesStaleCopy(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.addPaper(litGraphPaper())

	// Populate the graph store, then age the record past freshness and
	// clear the hot cache so the next read must consider upstream.
	status := getJSON(t, env, "/paper/"+litGraphID, nil)
	require.Equal(t, http.StatusOK, status)
	require.Eventually(t, func() bool {
		_, found, _ := env.graph.GetPaper(context.Background(), litGraphID)
		return found
	}, 2*time.Second, 10*time.Millisecond)

	env.graph.mu.Lock()
	env.graph.papers[litGraphID].MetadataUpdatedAt = time.Now().Add(-48 * time.Hour)
	env.graph.mu.Unlock()

	resp, err := http.NewRequest(http.MethodDelete, env.proxy.URL+"/paper/"+litGraphID+"/cache", nil)
	require.NoError(t, err)
	delResp, err := env.client.Do(resp)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	env.upstream.mu.Lock()
	env.upstream.down = true
	env.upstream.mu.Unlock()

	var body map[string]any
	status = getJSON(t, env, "/paper/"+litGraphID+"?fields=title,dataMayBeOutdated", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["dataMayBeOutdated"])
	assert.Equal(t, "Construction of the Literature Graph in Semantic Scholar", body["title"])
}

func TestInvalidateThenReadRepopulates(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.addPaper(litGraphPaper())

	require.Equal(t, http.StatusOK, getJSON(t, env, "/paper/"+litGraphID, nil))
	require.Eventually(t, func() bool {
		_, found, _ := env.graph.GetPaper(context.Background(), litGraphID)
		return found
	}, 2*time.Second, 10*time.Millisecond)

	req, _ := http.NewRequest(http.MethodDelete, env.proxy.URL+"/paper/"+litGraphID+"/cache", nil)
	resp, err := env.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, getJSON(t, env, "/paper/"+litGraphID, nil))
	assert.Equal(t, 1, env.upstream.calls(), "repopulated from the graph store, not upstream")
}

func TestWarmEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.addPaper(litGraphPaper())

	resp, err := env.client.Post(env.proxy.URL+"/paper/"+litGraphID+"/cache/warm", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The warm populated the cache; a follow-up read is local.
	before := env.upstream.calls()
	require.Equal(t, http.StatusOK, getJSON(t, env, "/paper/"+litGraphID, nil))
	assert.Equal(t, before, env.upstream.calls())
}

func TestSearchCachedByFingerprint(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.addPaper(litGraphPaper())

	var page struct {
		Total  int              `json:"total"`
		Data   []map[string]any `json:"data"`
		Papers []map[string]any `json:"papers"`
	}
	status := getJSON(t, env, "/paper/search?query=literature+graph&fields=title", &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Data, 1)
	assert.Equal(t, litGraphID, page.Data[0]["paperId"])
	assert.Len(t, page.Papers, 1, "compatibility key mirrors the hits")

	// Identical query (different projection) is served from the cache.
	status = getJSON(t, env, "/paper/search?query=literature+graph&fields=title,year", &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Data, 1)
}

func TestNotFoundNegativeCache(t *testing.T) {
	env := newTestEnv(t)

	const ghost = "0000000000000000000000000000000000000000"
	assert.Equal(t, http.StatusNotFound, getJSON(t, env, "/paper/"+ghost, nil))
	callsAfterFirst := env.upstream.calls()

	assert.Equal(t, http.StatusNotFound, getJSON(t, env, "/paper/"+ghost, nil))
	assert.Equal(t, callsAfterFirst, env.upstream.calls(), "second miss is answered by the negative cache")
}
