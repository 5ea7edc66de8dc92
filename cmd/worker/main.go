// Command worker consumes relation-ingest requests from the message bus
// and drives the Relation Ingestor out-of-process, so that paginating a
// 3500-citation paper never competes with the apiserver's request path.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/paperd/internal/application/ingestor"
	"github.com/turtacn/paperd/internal/config"
	"github.com/turtacn/paperd/internal/domain/citation"
	neo4jdriver "github.com/turtacn/paperd/internal/infrastructure/database/neo4j"
	neo4jrepo "github.com/turtacn/paperd/internal/infrastructure/database/neo4j/repositories"
	redisclient "github.com/turtacn/paperd/internal/infrastructure/database/redis"
	"github.com/turtacn/paperd/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/paperd/internal/infrastructure/upstream"
	"github.com/turtacn/paperd/pkg/errors"
	"github.com/turtacn/paperd/pkg/types/common"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultHealthPort = 8081
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	healthPort := flag.Int("health-port", defaultHealthPort, "health endpoint port")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	logger.Info("starting paperd ingest worker",
		logging.Any("brokers", cfg.Kafka.Brokers),
		logging.String("group", cfg.Kafka.GroupID))

	// ── Tiers the ingestor writes through ─────────────────────────────────

	graph, err := neo4jdriver.NewDriver(neo4jdriver.Neo4jConfig{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	}, logger)
	if err != nil {
		logger.Fatal("graph store (neo4j) unavailable", logging.Err(err))
	}
	defer graph.Close()

	redisConn, err := redisclient.NewClient(&redisclient.RedisConfig{
		Mode:     "standalone",
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("hot cache (redis) unavailable", logging.Err(err))
	}
	cache := redisclient.NewRedisCache(redisConn, logger)
	flights := redisclient.NewFlightTokenFactory(redisConn, logger)

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "paperd_worker"}, logger)
	if err != nil {
		logger.Fatal("metrics collector setup failed", logging.Err(err))
	}
	appMetrics := prometheus.NewAppMetrics(collector)

	ing := ingestor.New(ingestor.Options{
		Upstream:  upstream.NewClient(cfg.Upstream, logger),
		Papers:    neo4jrepo.NewPaperRepository(graph, logger),
		Relations: neo4jrepo.NewCitationRepository(graph, logger),
		Cache:     cache,
		Flights:   flights,
		Metrics:   prometheus.NewIngestMetrics(appMetrics),
		Ingest:    cfg.Ingest,
		TTL:       cfg.CacheTTL,
		Logger:    logger,
	})

	// Completion events let the apiserver fleet and operators observe
	// finished ingests without polling the progress store.
	var events *kafka.PaperEventPublisher
	if producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, logger); err != nil {
		logger.Warn("producer unavailable, completion events disabled", logging.Err(err))
	} else {
		defer producer.Close()
		events = kafka.NewPaperEventPublisher(producer, "worker", logger)
	}

	// ── Consumer ──────────────────────────────────────────────────────────

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		GroupID:         cfg.Kafka.GroupID,
		Topics:          []string{kafka.TopicRelationIngestRequest},
		AutoOffsetReset: cfg.Kafka.AutoOffsetReset,
	}, logger)
	if err != nil {
		logger.Fatal("consumer setup failed", logging.Err(err))
	}

	handler := ingestHandler(ing, events, logger)
	if err := consumer.Subscribe(kafka.TopicRelationIngestRequest, handler); err != nil {
		logger.Fatal("subscription failed", logging.Err(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("consumer start failed", logging.Err(err))
	}

	// Minimal health endpoint for the orchestrator.
	healthSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", *healthPort),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"alive"}`))
		}),
	}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health endpoint error", logging.Err(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	if err := consumer.Close(); err != nil {
		logger.Error("consumer close failed", logging.Err(err))
	}
	logger.Info("stopped")
}

// ingestHandler decodes one ingest request and runs the pagination loop.
// A pair already running elsewhere in the fleet is committed without
// retry; re-delivery of a completed request is harmless because every
// write is an upsert.
func ingestHandler(ing *ingestor.Ingestor, events *kafka.PaperEventPublisher, logger logging.Logger) common.MessageHandler {
	return func(ctx context.Context, msg *common.Message) error {
		env, err := kafka.MessageToEventEnvelope(msg)
		if err != nil {
			logger.Warn("dropping undecodable message", logging.Err(err))
			return nil
		}
		var payload kafka.RelationIngestPayload
		if err := env.DecodePayload(&payload); err != nil {
			logger.Warn("dropping malformed ingest payload", logging.Err(err))
			return nil
		}
		kind := citation.Kind(payload.Kind)
		if kind != citation.KindCitations && kind != citation.KindReferences {
			logger.Warn("dropping ingest request with unknown kind",
				logging.String("kind", payload.Kind))
			return nil
		}

		err = ing.Ingest(ctx, payload.PaperID, kind, payload.ExpectedTotal)
		if errors.IsCode(err, errors.ErrCodeIngestRunning) {
			logger.Debug("ingest already running elsewhere",
				logging.String("paper_id", payload.PaperID),
				logging.String("kind", payload.Kind))
			return nil
		}
		if err != nil {
			return err
		}

		if events != nil {
			progress, perr := ing.Progress(ctx, payload.PaperID, kind)
			pages := 0
			if perr == nil && progress != nil {
				pages = progress.PagesFetched
			}
			_ = events.IngestCompleted(ctx, payload.PaperID, kind, string(citation.IngestComplete), pages, 0)
		}
		return nil
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}
