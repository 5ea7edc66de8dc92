package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
server:
  port: 8080
  mode: test
database:
  host: "localhost"
  port: 5432
  user: "paperd"
  password: "password"
  db_name: "paperd"
neo4j:
  uri: "bolt://localhost:7687"
  user: "neo4j"
  password: "password"
redis:
  addr: "localhost:6379"
kafka:
  brokers: ["localhost:9092"]
  group_id: "paperd-ingest"
upstream:
  base_url: "https://upstream.test/graph/v1"
  api_key: "test-key"
  rate_limit_rps: 5
resolver:
  freshness_window: 12h
  batch_size_cap: 500
ingest:
  large_threshold: 100
  page_size: 100
milvus:
  addr: "localhost:19530"
log:
  level: info
  format: json
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeTempConfig(t, validConfigYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "paperd", cfg.Database.User)
	assert.Equal(t, "https://upstream.test/graph/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, 5.0, cfg.Upstream.RateLimitRPS)
	assert.Equal(t, "test-key", cfg.Upstream.APIKey)
	assert.Equal(t, 500, cfg.Resolver.BatchSizeCap)
}

func TestLoad_AppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeTempConfig(t, validConfigYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Not present in the YAML; must come from ApplyDefaults.
	assert.Equal(t, DefaultIngestPageCap, cfg.Ingest.PageCap)
	assert.Equal(t, DefaultRequestDeadline, cfg.Resolver.RequestDeadline)
	assert.NotZero(t, cfg.CacheTTL.Paper)
	assert.NotZero(t, cfg.CacheTTL.Negative)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [not a map")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_ValidationFailureSurfaces(t *testing.T) {
	path := writeTempConfig(t, validConfigYAML+"\nworker:\n  concurrency: -5\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadFromEnv_EnvOverrides(t *testing.T) {
	t.Setenv("PAPERD_DATABASE_USER", "envuser")
	t.Setenv("PAPERD_DATABASE_PASSWORD", "envpass")
	t.Setenv("PAPERD_UPSTREAM_API_KEY", "env-key")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "envuser", cfg.Database.User)
	assert.Equal(t, "env-key", cfg.Upstream.APIKey)
	// Everything else falls back to defaults.
	assert.Equal(t, DefaultUpstreamBaseURL, cfg.Upstream.BaseURL)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	assert.Panics(t, func() { MustLoad("/nonexistent/config.yaml") })
}
