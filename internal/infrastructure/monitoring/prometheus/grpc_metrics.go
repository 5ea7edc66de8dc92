package prometheus

import "time"

// GRPCMetrics collects the gRPC transport's request metrics, recorded by
// the server's unary and stream interceptors.
type GRPCMetrics struct {
	UnaryRequestsTotal   CounterVec
	UnaryRequestDuration HistogramVec
	StreamRequestsTotal  CounterVec
	StreamRequestDuration HistogramVec
}

// DefaultGRPCDurationBuckets cover sub-millisecond internal calls up to
// long streaming setups.
var DefaultGRPCDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// NewGRPCMetrics registers the gRPC metric family.
func NewGRPCMetrics(collector MetricsCollector) *GRPCMetrics {
	return &GRPCMetrics{
		UnaryRequestsTotal:    collector.RegisterCounter("grpc_unary_requests_total", "gRPC unary requests", "service", "method", "code"),
		UnaryRequestDuration:  collector.RegisterHistogram("grpc_unary_request_duration_seconds", "gRPC unary request duration", DefaultGRPCDurationBuckets, "service", "method"),
		StreamRequestsTotal:   collector.RegisterCounter("grpc_stream_requests_total", "gRPC stream requests", "service", "method", "code"),
		StreamRequestDuration: collector.RegisterHistogram("grpc_stream_request_duration_seconds", "gRPC stream duration", DefaultGRPCDurationBuckets, "service", "method"),
	}
}

// RecordUnaryRequest records one completed unary call.
func (m *GRPCMetrics) RecordUnaryRequest(service, method, code string, duration time.Duration) {
	m.UnaryRequestsTotal.WithLabelValues(service, method, code).Inc()
	m.UnaryRequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordStreamRequest records one completed stream.
func (m *GRPCMetrics) RecordStreamRequest(service, method, code string, duration time.Duration) {
	m.StreamRequestsTotal.WithLabelValues(service, method, code).Inc()
	m.StreamRequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}
