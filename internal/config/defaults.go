// Package config provides configuration loading, defaults, and validation for
// the paperd platform.
package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort = 8080
	DefaultServerMode = "debug"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "paperd"
	DefaultDBMaxConns = 25

	DefaultRedisAddr = "localhost:6379"
	DefaultRedisDB   = 0

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "paperd-ingest"

	DefaultMilvusAddr = "localhost:19530"

	DefaultMinIOEndpoint = "localhost:9000"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultWorkerConcurrency = 10

	DefaultUpstreamBaseURL = "https://api.semanticscholar.org/graph/v1"
	DefaultUpstreamRPS     = 10.0
	DefaultUpstreamRetries = 3

	DefaultFreshnessWindow = 24 * time.Hour
	DefaultRequestDeadline = 10 * time.Second
	DefaultBatchSizeCap    = 500

	DefaultLargeThreshold = 100
	DefaultIngestPageSize = 100
	DefaultIngestPageCap  = 100
)

// ─────────────────────────────────────────────────────────────────────────────
// ApplyDefaults fills zero-value fields in cfg with well-known defaults.
// It must be called after unmarshalling raw config data and before Validate()
// so that optional-but-defaulted fields are never seen as missing.
// ─────────────────────────────────────────────────────────────────────────────

// ApplyDefaults fills every zero-value field in cfg with the platform default.
// Fields that have already been set by the caller (non-zero values) are left
// unchanged so that explicit configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = 50
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = 100
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	// DB is an int; 0 is a valid explicit value so we cannot distinguish "not
	// set" from "set to 0".  We leave it as-is (0 is also the default).

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}

	// ── Milvus ────────────────────────────────────────────────────────────────
	if cfg.Milvus.Addr == "" {
		cfg.Milvus.Addr = DefaultMilvusAddr
	}

	// ── Upstream ──────────────────────────────────────────────────────────────
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 30 * time.Second
	}
	if cfg.Upstream.MaxRetries == 0 {
		cfg.Upstream.MaxRetries = DefaultUpstreamRetries
	}
	if cfg.Upstream.RetryBaseDelay == 0 {
		cfg.Upstream.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Upstream.RetryMaxDelay == 0 {
		cfg.Upstream.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Upstream.RateLimitRPS == 0 {
		cfg.Upstream.RateLimitRPS = DefaultUpstreamRPS
	}
	if cfg.Upstream.RateLimitBurst == 0 {
		cfg.Upstream.RateLimitBurst = 1
	}

	// ── Cache TTLs ────────────────────────────────────────────────────────────
	if cfg.CacheTTL.Paper == 0 {
		cfg.CacheTTL.Paper = 6 * time.Hour
	}
	if cfg.CacheTTL.Relations == 0 {
		cfg.CacheTTL.Relations = 6 * time.Hour
	}
	if cfg.CacheTTL.Search == 0 {
		cfg.CacheTTL.Search = 15 * time.Minute
	}
	if cfg.CacheTTL.Negative == 0 {
		cfg.CacheTTL.Negative = 5 * time.Minute
	}
	if cfg.CacheTTL.FlightToken == 0 {
		cfg.CacheTTL.FlightToken = 5 * time.Minute
	}
	if cfg.CacheTTL.IngestProgress == 0 {
		cfg.CacheTTL.IngestProgress = time.Hour
	}

	// ── Resolver ──────────────────────────────────────────────────────────────
	if cfg.Resolver.FreshnessWindow == 0 {
		cfg.Resolver.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.Resolver.RequestDeadline == 0 {
		cfg.Resolver.RequestDeadline = DefaultRequestDeadline
	}
	if cfg.Resolver.BatchSizeCap == 0 {
		cfg.Resolver.BatchSizeCap = DefaultBatchSizeCap
	}
	if cfg.Resolver.FlightPollInterval == 0 {
		cfg.Resolver.FlightPollInterval = 500 * time.Millisecond
	}
	if cfg.Resolver.FlightWaitTotal == 0 {
		cfg.Resolver.FlightWaitTotal = 4 * time.Second
	}
	if cfg.Resolver.InlineRelationLimit == 0 {
		cfg.Resolver.InlineRelationLimit = 100
	}
	if cfg.Resolver.PersistTimeout == 0 {
		cfg.Resolver.PersistTimeout = 60 * time.Second
	}

	// ── Ingest ────────────────────────────────────────────────────────────────
	if cfg.Ingest.LargeThreshold == 0 {
		cfg.Ingest.LargeThreshold = DefaultLargeThreshold
	}
	if cfg.Ingest.PageSize == 0 {
		cfg.Ingest.PageSize = DefaultIngestPageSize
	}
	if cfg.Ingest.PageCap == 0 {
		cfg.Ingest.PageCap = DefaultIngestPageCap
	}

	// ── Search ────────────────────────────────────────────────────────────────
	if cfg.Search.LocalMinResults == 0 {
		cfg.Search.LocalMinResults = 10
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.SimilarTopK == 0 {
		cfg.Search.SimilarTopK = 10
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.Mode == "" {
		cfg.Worker.Mode = "local"
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

