package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAppMetrics(t *testing.T) (*AppMetrics, MetricsCollector) {
	c := newTestCollector(t)
	m := NewAppMetrics(c)
	return m, c
}

func getMetricOutput(t *testing.T, collector MetricsCollector) string {
	return scrapeMetrics(t, collector)
}

func TestNewAppMetrics_AllMetricsRegistered(t *testing.T) {
	m, _ := newTestAppMetrics(t)
	require.NotNil(t, m)

	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.HTTPRequestDuration)
	assert.NotNil(t, m.CacheHitsTotal)
	assert.NotNil(t, m.CacheMissesTotal)
	assert.NotNil(t, m.SingleFlightWaitsTotal)
	assert.NotNil(t, m.UpstreamRequestsTotal)
	assert.NotNil(t, m.UpstreamRequestDuration)
	assert.NotNil(t, m.IngestPagesTotal)
	assert.NotNil(t, m.IngestTasksTotal)
	assert.NotNil(t, m.SearchRequestsTotal)
	assert.NotNil(t, m.GraphQueryDuration)
	assert.NotNil(t, m.ErrorsTotal)
}

func TestRecordHTTPRequest_AllMetricsUpdated(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordHTTPRequest(m, "GET", "/paper/:ref", 200, 100*time.Millisecond, 1024, 2048)

	output := getMetricOutput(t, c)
	assert.Contains(t, output, `test_unit_http_requests_total{method="GET",path="/paper/:ref",status_code="200"} 1`)
	assert.Contains(t, output, `test_unit_http_request_size_bytes_sum{method="GET",path="/paper/:ref"} 1024`)
	assert.Contains(t, output, `test_unit_http_response_size_bytes_sum{method="GET",path="/paper/:ref"} 2048`)
	assert.Contains(t, output, `test_unit_http_request_duration_seconds_count{method="GET",path="/paper/:ref"} 1`)
}

func TestRecordDBQuery_Success(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordDBQuery(m, "postgres", "select", 10*time.Millisecond, nil)

	output := getMetricOutput(t, c)
	assert.Contains(t, output, `test_unit_db_query_duration_seconds_count{db="postgres",operation="select"} 1`)
}

func TestRecordDBQuery_Error(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordDBQuery(m, "neo4j", "merge", 5*time.Millisecond, errors.New("db error"))

	output := getMetricOutput(t, c)
	assert.Contains(t, output, `test_unit_db_query_duration_seconds_count{db="neo4j",operation="merge"} 1`)
	assert.Contains(t, output, `test_unit_errors_total{component="neo4j",error_type="query_error",severity="error"} 1`)
}

func TestRecordCacheAccess(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordCacheAccess(m, "hot", true)
	RecordCacheAccess(m, "warm", false)

	output := getMetricOutput(t, c)
	assert.Contains(t, output, `test_unit_cache_hits_total{tier="hot"} 1`)
	assert.Contains(t, output, `test_unit_cache_misses_total{tier="warm"} 1`)
}

func TestResolverMetricsAdapter(t *testing.T) {
	m, c := newTestAppMetrics(t)
	r := NewResolverMetrics(m)

	r.CacheHit("hot")
	r.CacheMiss("hot")
	r.SingleFlightWait()
	r.UpstreamFetch("fetch_paper", 250*time.Millisecond, nil)
	r.UpstreamFetch("fetch_paper", time.Second, errors.New("503"))

	output := getMetricOutput(t, c)
	assert.Contains(t, output, `test_unit_cache_hits_total{tier="hot"} 1`)
	assert.Contains(t, output, `test_unit_single_flight_waits_total 1`)
	assert.Contains(t, output, `test_unit_upstream_requests_total{operation="fetch_paper",status="success"} 1`)
	assert.Contains(t, output, `test_unit_upstream_requests_total{operation="fetch_paper",status="error"} 1`)
	assert.Contains(t, output, `test_unit_upstream_request_duration_seconds_count{operation="fetch_paper"} 2`)
}

func TestIngestMetricsAdapter(t *testing.T) {
	m, c := newTestAppMetrics(t)
	g := NewIngestMetrics(m)

	g.IngestPage("citations")
	g.IngestPage("citations")
	g.IngestDone("citations", "complete", 2)

	output := getMetricOutput(t, c)
	assert.Contains(t, output, `test_unit_ingest_pages_total{kind="citations"} 2`)
	assert.Contains(t, output, `test_unit_ingest_tasks_total{kind="citations",state="complete"} 1`)
}

func TestDefaultBuckets(t *testing.T) {
	assert.NotNil(t, DefaultHTTPDurationBuckets)
	assert.NotNil(t, DefaultIngestDurationBuckets)
	assert.NotNil(t, DefaultDBDurationBuckets)
}

func TestConcurrentMetricRecording(t *testing.T) {
	m, _ := newTestAppMetrics(t)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				RecordHTTPRequest(m, "GET", "/path", 200, time.Millisecond, 10, 10)
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
