package prometheus

import (
	"fmt"
	"time"
)

// AppMetrics holds all application metrics.
type AppMetrics struct {
	// HTTP Layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPRequestSize     HistogramVec
	HTTPResponseSize    HistogramVec
	HTTPActiveRequests  GaugeVec

	// Resolver Layer
	CacheHitsTotal          CounterVec
	CacheMissesTotal        CounterVec
	SingleFlightWaitsTotal  CounterVec
	UpstreamRequestsTotal   CounterVec
	UpstreamRequestDuration HistogramVec
	NegativeCacheHitsTotal  CounterVec
	StaleFallbacksTotal     CounterVec

	// Ingest Layer
	IngestPagesTotal     CounterVec
	IngestTasksTotal     CounterVec
	IngestTaskDuration   HistogramVec
	IngestActiveWorkers  GaugeVec

	// Search Layer
	SearchRequestsTotal   CounterVec
	SearchDuration        HistogramVec
	SearchResultCount     HistogramVec

	// Graph Layer
	GraphNodesTotal    GaugeVec
	GraphEdgesTotal    GaugeVec
	GraphQueryDuration HistogramVec

	// Infrastructure Layer
	DBConnectionPoolSize   GaugeVec
	DBConnectionPoolActive GaugeVec
	DBQueryDuration        HistogramVec
	MessageQueueDepth      GaugeVec
	MessageProcessDuration HistogramVec

	// System Health
	ServiceUptime     GaugeVec
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

// Default Buckets
var (
	DefaultHTTPDurationBuckets   = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultIngestDurationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}
	DefaultSizeBuckets           = []float64{100, 1000, 10000, 100000, 1000000, 10000000}
	DefaultDBDurationBuckets     = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
	DefaultResultCountBuckets    = []float64{0, 1, 10, 50, 100, 500, 1000, 5000}
)

// NewAppMetrics registers all metrics and returns AppMetrics struct.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	// HTTP
	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPRequestSize = collector.RegisterHistogram("http_request_size_bytes", "HTTP request size", DefaultSizeBuckets, "method", "path")
	m.HTTPResponseSize = collector.RegisterHistogram("http_response_size_bytes", "HTTP response size", DefaultSizeBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method", "path")

	// Resolver
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits per tier", "tier")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses per tier", "tier")
	m.SingleFlightWaitsTotal = collector.RegisterCounter("single_flight_waits_total", "Requests coalesced behind an in-flight fetch")
	m.UpstreamRequestsTotal = collector.RegisterCounter("upstream_requests_total", "Upstream API calls", "operation", "status")
	m.UpstreamRequestDuration = collector.RegisterHistogram("upstream_request_duration_seconds", "Upstream call duration", DefaultHTTPDurationBuckets, "operation")
	m.NegativeCacheHitsTotal = collector.RegisterCounter("negative_cache_hits_total", "Reads answered by the negative cache")
	m.StaleFallbacksTotal = collector.RegisterCounter("stale_fallbacks_total", "Responses served from a stale graph store copy")

	// Ingest
	m.IngestPagesTotal = collector.RegisterCounter("ingest_pages_total", "Relation pages fetched", "kind")
	m.IngestTasksTotal = collector.RegisterCounter("ingest_tasks_total", "Relation ingest tasks", "kind", "state")
	m.IngestTaskDuration = collector.RegisterHistogram("ingest_task_duration_seconds", "Relation ingest duration", DefaultIngestDurationBuckets, "kind")
	m.IngestActiveWorkers = collector.RegisterGauge("ingest_active_workers", "Active ingest workers", "kind")

	// Search
	m.SearchRequestsTotal = collector.RegisterCounter("search_requests_total", "Search requests", "source", "status")
	m.SearchDuration = collector.RegisterHistogram("search_duration_seconds", "Search duration", DefaultHTTPDurationBuckets, "source")
	m.SearchResultCount = collector.RegisterHistogram("search_result_count", "Search result count", DefaultResultCountBuckets, "source")

	// Graph
	m.GraphNodesTotal = collector.RegisterGauge("graph_nodes_total", "Graph nodes total", "node_type")
	m.GraphEdgesTotal = collector.RegisterGauge("graph_edges_total", "Graph edges total", "edge_type")
	m.GraphQueryDuration = collector.RegisterHistogram("graph_query_duration_seconds", "Graph query duration", DefaultDBDurationBuckets, "query_type")

	// Infrastructure
	m.DBConnectionPoolSize = collector.RegisterGauge("db_pool_size", "Database connection pool size", "db")
	m.DBConnectionPoolActive = collector.RegisterGauge("db_pool_active", "Database active connections", "db")
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "db", "operation")
	m.MessageQueueDepth = collector.RegisterGauge("mq_depth", "Message queue depth", "queue")
	m.MessageProcessDuration = collector.RegisterHistogram("mq_process_duration_seconds", "Message processing duration", DefaultHTTPDurationBuckets, "queue", "message_type")

	// System Health
	m.ServiceUptime = collector.RegisterGauge("service_uptime_seconds", "Service uptime", "service")
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_type", "severity")

	return m
}

// RegisterAppMetrics is an alias for NewAppMetrics.
func RegisterAppMetrics(collector MetricsCollector) *AppMetrics {
	return NewAppMetrics(collector)
}

// Helpers

func RecordHTTPRequest(metrics *AppMetrics, method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	status := fmt.Sprintf("%d", statusCode)
	metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	metrics.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

func RecordDBQuery(metrics *AppMetrics, db, operation string, duration time.Duration, err error) {
	metrics.DBQueryDuration.WithLabelValues(db, operation).Observe(duration.Seconds())
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(db, "query_error", "error").Inc()
	}
}

func RecordCacheAccess(metrics *AppMetrics, tier string, hit bool) {
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

func RecordError(metrics *AppMetrics, component, errorType, severity string) {
	metrics.ErrorsTotal.WithLabelValues(component, errorType, severity).Inc()
}

// ResolverMetrics adapts AppMetrics onto the Resolver's metrics surface.
type ResolverMetrics struct {
	app *AppMetrics
}

func NewResolverMetrics(app *AppMetrics) *ResolverMetrics {
	return &ResolverMetrics{app: app}
}

func (r *ResolverMetrics) CacheHit(tier string)  { r.app.CacheHitsTotal.WithLabelValues(tier).Inc() }
func (r *ResolverMetrics) CacheMiss(tier string) { r.app.CacheMissesTotal.WithLabelValues(tier).Inc() }
func (r *ResolverMetrics) SingleFlightWait()     { r.app.SingleFlightWaitsTotal.WithLabelValues().Inc() }

func (r *ResolverMetrics) UpstreamFetch(operation string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.app.UpstreamRequestsTotal.WithLabelValues(operation, status).Inc()
	r.app.UpstreamRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// IngestMetrics adapts AppMetrics onto the Ingestor's metrics surface.
type IngestMetrics struct {
	app *AppMetrics
}

func NewIngestMetrics(app *AppMetrics) *IngestMetrics {
	return &IngestMetrics{app: app}
}

func (i *IngestMetrics) IngestPage(kind string) {
	i.app.IngestPagesTotal.WithLabelValues(kind).Inc()
}

func (i *IngestMetrics) IngestDone(kind, state string, pages int) {
	i.app.IngestTasksTotal.WithLabelValues(kind, state).Inc()
}
