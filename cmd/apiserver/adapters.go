package main

import (
	"context"

	neo4jdriver "github.com/turtacn/paperd/internal/infrastructure/database/neo4j"
	"github.com/turtacn/paperd/internal/infrastructure/database/postgres"
	"github.com/turtacn/paperd/internal/infrastructure/database/redis"
)

// Health-check adapters for the readiness probe.

type postgresHealthAdapter struct {
	conn *postgres.Connection
}

func (a *postgresHealthAdapter) Name() string {
	return "postgres"
}

func (a *postgresHealthAdapter) Check(ctx context.Context) error {
	return a.conn.HealthCheck(ctx)
}

type redisHealthAdapter struct {
	client *redis.Client
}

func (a *redisHealthAdapter) Name() string {
	return "redis"
}

func (a *redisHealthAdapter) Check(ctx context.Context) error {
	return a.client.GetUnderlyingClient().Ping(ctx).Err()
}

type neo4jHealthAdapter struct {
	driver *neo4jdriver.Driver
}

func (a *neo4jHealthAdapter) Name() string {
	return "neo4j"
}

func (a *neo4jHealthAdapter) Check(ctx context.Context) error {
	return a.driver.HealthCheck(ctx)
}
