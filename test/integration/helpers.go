//go:build integration

// Package integration provides shared infrastructure for tests that run
// against live backing services.  A test opts into each tier it needs;
// tiers missing from the environment skip rather than fail, so a partial
// docker-compose stack still exercises what it can.
package integration

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	neo4jdriver "github.com/turtacn/paperd/internal/infrastructure/database/neo4j"
	"github.com/turtacn/paperd/internal/infrastructure/database/postgres"
	redisclient "github.com/turtacn/paperd/internal/infrastructure/database/redis"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
)

// Environment variables controlling integration runs.
const (
	EnvEnabled      = "PAPERD_INTEGRATION_TEST"
	EnvPostgresHost = "PAPERD_TEST_POSTGRES_HOST"
	EnvPostgresPort = "PAPERD_TEST_POSTGRES_PORT"
	EnvPostgresDB   = "PAPERD_TEST_POSTGRES_DB"
	EnvPostgresUser = "PAPERD_TEST_POSTGRES_USER"
	EnvPostgresPass = "PAPERD_TEST_POSTGRES_PASSWORD"
	EnvRedisAddr    = "PAPERD_TEST_REDIS_ADDR"
	EnvNeo4jURI     = "PAPERD_TEST_NEO4J_URI"
	EnvNeo4jUser    = "PAPERD_TEST_NEO4J_USER"
	EnvNeo4jPass    = "PAPERD_TEST_NEO4J_PASSWORD"
)

// SkipIfNoIntegration skips the test unless integration mode is on.
func SkipIfNoIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv(EnvEnabled) == "" {
		t.Skipf("%s not set; skipping integration test", EnvEnabled)
	}
}

// TestEnvironment aggregates whatever live tiers the environment offers.
type TestEnvironment struct {
	Logger   logging.Logger
	Postgres *postgres.Connection
	Redis    *redisclient.Client
	Neo4j    *neo4jdriver.Driver
}

// SetupTestEnvironment connects to every configured tier.  Connection
// failures leave the field nil; use the Require* helpers per test.
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	SkipIfNoIntegration(t)

	env := &TestEnvironment{Logger: logging.NewNopLogger()}

	if host := os.Getenv(EnvPostgresHost); host != "" {
		port := 5432
		if v := os.Getenv(EnvPostgresPort); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				port = n
			}
		}
		conn, err := postgres.NewConnection(postgres.PostgresConfig{
			Host:     host,
			Port:     port,
			Database: envOr(EnvPostgresDB, "test_paperd"),
			Username: envOr(EnvPostgresUser, "paperd"),
			Password: envOr(EnvPostgresPass, "paperd"),
			SSLMode:  "disable",
		}, env.Logger)
		if err != nil {
			t.Logf("postgres unavailable: %v", err)
		} else {
			env.Postgres = conn
			t.Cleanup(func() { _ = conn.Close() })
		}
	}

	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		client, err := redisclient.NewClient(&redisclient.RedisConfig{Mode: "standalone", Addr: addr}, env.Logger)
		if err != nil {
			t.Logf("redis unavailable: %v", err)
		} else {
			env.Redis = client
		}
	}

	if uri := os.Getenv(EnvNeo4jURI); uri != "" {
		driver, err := neo4jdriver.NewDriver(neo4jdriver.Neo4jConfig{
			URI:      uri,
			Username: envOr(EnvNeo4jUser, "neo4j"),
			Password: envOr(EnvNeo4jPass, "neo4j"),
		}, env.Logger)
		if err != nil {
			t.Logf("neo4j unavailable: %v", err)
		} else {
			env.Neo4j = driver
			t.Cleanup(func() { _ = driver.Close() })
		}
	}

	return env
}

// RequirePostgres skips the test unless the alias index tier connected.
func RequirePostgres(t *testing.T, env *TestEnvironment) {
	t.Helper()
	if env.Postgres == nil {
		t.Skip("postgres not available")
	}
}

// RequireRedis skips the test unless the hot cache tier connected.
func RequireRedis(t *testing.T, env *TestEnvironment) {
	t.Helper()
	if env.Redis == nil {
		t.Skip("redis not available")
	}
}

// RequireNeo4j skips the test unless the graph store tier connected.
func RequireNeo4j(t *testing.T, env *TestEnvironment) {
	t.Helper()
	if env.Neo4j == nil {
		t.Skip("neo4j not available")
	}
}

// WaitFor polls condition until it holds or the deadline passes.
func WaitFor(t *testing.T, timeout time.Duration, condition func(ctx context.Context) bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ok := condition(ctx)
		cancel()
		if ok {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
