// Package config provides configuration loading, defaults, and validation for
// the paperd platform.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all platform settings.
const envPrefix = "PAPERD"

// newViper builds a pre-configured Viper instance with the platform's standard
// settings: YAML file type, PAPERD_ env prefix, automatic env binding, and a
// key replacer that maps "." → "_" so that nested keys like "database.host"
// resolve to "PAPERD_DATABASE_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindKnownKeys(v)
	return v
}

// knownKeys lists every settable config key.  Viper's Unmarshal only sees
// environment variables for keys it already knows about, so each key is
// bound explicitly; without this LoadFromEnv would return an empty Config.
var knownKeys = []string{
	"server.port", "server.mode", "server.read_timeout", "server.write_timeout",
	"server.max_body_size", "server.shutdown_timeout",
	"server.rate_limit_rps", "server.rate_limit_burst",
	"auth.enabled", "auth.api_keys",
	"grpc.host", "grpc.port", "grpc.debug", "grpc.max_recv_msg_size",
	"grpc.max_send_msg_size", "grpc.graceful_timeout",
	"database.host", "database.port", "database.user", "database.password",
	"database.db_name", "database.ssl_mode", "database.max_conns", "database.min_conns",
	"database.max_idle_conns", "database.conn_max_lifetime", "database.conn_max_idle_time",
	"database.migration_path",
	"neo4j.uri", "neo4j.user", "neo4j.password", "neo4j.max_connection_pool_size",
	"neo4j.connection_timeout", "neo4j.database",
	"redis.addr", "redis.password", "redis.db", "redis.pool_size", "redis.min_idle_conns",
	"redis.dial_timeout", "redis.read_timeout", "redis.write_timeout",
	"redis.default_ttl", "redis.key_prefix",
	"kafka.brokers", "kafka.group_id", "kafka.auto_offset_reset", "kafka.timeout_ms",
	"kafka.producer_retries", "kafka.batch_size", "kafka.auto_create_topics",
	"kafka.replication_factor", "kafka.num_partitions",
	"opensearch.addresses", "opensearch.user", "opensearch.password",
	"opensearch.insecure_skip_verify", "opensearch.bulk_batch_size",
	"opensearch.scroll_size", "opensearch.index_prefix",
	"milvus.addr", "milvus.db_name", "milvus.embedding_dim", "milvus.index_type",
	"milvus.hnsw_m", "milvus.hnsw_ef_construction", "milvus.default_top_k",
	"milvus.collection_prefix",
	"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket",
	"minio.use_ssl", "minio.presign_expiry",
	"upstream.base_url", "upstream.api_key", "upstream.timeout", "upstream.max_retries",
	"upstream.retry_base_delay", "upstream.retry_max_delay",
	"upstream.rate_limit_rps", "upstream.rate_limit_burst",
	"cache_ttl.paper", "cache_ttl.relations", "cache_ttl.search", "cache_ttl.negative",
	"cache_ttl.flight_token", "cache_ttl.ingest_progress",
	"resolver.freshness_window", "resolver.request_deadline", "resolver.batch_size_cap",
	"resolver.flight_poll_interval", "resolver.flight_wait_total",
	"resolver.inline_relation_limit", "resolver.persist_timeout", "resolver.mirror_pdfs",
	"ingest.large_threshold", "ingest.page_size", "ingest.page_cap",
	"search.prefer_local", "search.local_min_results", "search.default_limit",
	"search.max_limit", "search.similar_top_k",
	"worker.mode", "worker.concurrency", "worker.queue_depth",
	"worker.heartbeat_interval", "worker.max_retries", "worker.retry_backoff_ms",
	"log.level", "log.format", "log.output", "log.enable_caller",
	"log.enable_stacktrace", "log.sampling_rate",
}

func bindKnownKeys(v *viper.Viper) {
	for _, key := range knownKeys {
		_ = v.BindEnv(key)
	}
}

// Load reads the YAML file at configPath, merges any PAPERD_* environment
// variable overrides, applies platform defaults for unset fields, and
// validates the result.  It returns a fully-populated *Config or a
// descriptive error.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from PAPERD_* environment variables,
// with no config file required.  This is the preferred loading strategy for
// containerised (12-factor) deployments.
//
// Environment variable naming convention:
//
//	PAPERD_<SECTION>_<FIELD>   e.g.  PAPERD_DATABASE_HOST, PAPERD_REDIS_ADDR
func LoadFromEnv() (*Config, error) {
	v := newViper()
	// No config file — rely solely on env vars and defaults.
	return unmarshalAndFinalize(v)
}

// unmarshalAndFinalize unmarshals viper state into a Config struct, applies
// defaults, and validates the result.
func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified on disk.  It is intended for
// hot-reloading non-critical settings such as log level and rate-limit
// thresholds; callers are responsible for applying only the safe subset of
// changes at runtime.
//
// Watch is non-blocking; it starts a background goroutine managed by viper.
// If the changed file fails to parse or validate, onChange is NOT called and
// the error is silently swallowed (viper behaviour) — add an OnConfigChange
// hook for custom error handling if needed.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)

	// Initial read — errors are ignored here; callers should call Load first.
	_ = v.ReadInConfig()

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			// Config change produced an invalid config; skip the callback to
			// prevent the application from entering a broken state.
			return
		}
		onChange(cfg)
	})
}

// MustLoad is a convenience wrapper around Load that panics on any error.
// It is intended for use in main() where a config-load failure is always fatal.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

