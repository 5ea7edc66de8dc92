// Command apiserver runs the paperd caching proxy: the HTTP surface, the
// gRPC transport, and the read/write coordination engine over the Hot
// Cache, Graph Store, Alias Index, and Upstream client.
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
	"github.com/turtacn/paperd/internal/application/resolver"
	appsearch "github.com/turtacn/paperd/internal/application/search"
	"github.com/turtacn/paperd/internal/config"
	neo4jdriver "github.com/turtacn/paperd/internal/infrastructure/database/neo4j"
	neo4jrepo "github.com/turtacn/paperd/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/paperd/internal/infrastructure/database/postgres"
	pgrepo "github.com/turtacn/paperd/internal/infrastructure/database/postgres/repositories"
	redisclient "github.com/turtacn/paperd/internal/infrastructure/database/redis"
	"github.com/turtacn/paperd/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/paperd/internal/infrastructure/search/milvus"
	"github.com/turtacn/paperd/internal/infrastructure/search/opensearch"
	"github.com/turtacn/paperd/internal/infrastructure/storage/minio"
	"github.com/turtacn/paperd/internal/infrastructure/upstream"
	grpcserver "github.com/turtacn/paperd/internal/interfaces/grpc"
	httpserver "github.com/turtacn/paperd/internal/interfaces/http"
	"github.com/turtacn/paperd/internal/interfaces/http/handlers"
	"github.com/turtacn/paperd/internal/interfaces/http/middleware"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownTimeout   = 30 * time.Second
)

// version is injected via ldflags at build time.
var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
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
	logger.Info("starting paperd apiserver", logging.Int("http_port", cfg.Server.Port))

	// ── Required tiers ────────────────────────────────────────────────────

	pg, err := postgres.NewConnection(postgres.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.DBName,
		Username: cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("alias index (postgres) unavailable", logging.Err(err))
	}
	defer pg.Close()
	if cfg.Database.MigrationPath != "" {
		if err := pg.RunMigrations(cfg.Database.MigrationPath); err != nil {
			logger.Fatal("alias index migration failed", logging.Err(err))
		}
	}
	aliasRepo := pgrepo.NewAliasRepository(pg.DB(), logger)

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
	paperRepo := neo4jrepo.NewPaperRepository(graph, logger)
	citationRepo := neo4jrepo.NewCitationRepository(graph, logger)

	redisConn, err := redisclient.NewClient(&redisclient.RedisConfig{
		Mode:     "standalone",
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("hot cache (redis) unavailable", logging.Err(err))
	}
	cache := redisclient.NewRedisCache(redisConn, logger,
		redisclient.WithDefaultTTL(cfg.CacheTTL.Paper))
	flights := redisclient.NewFlightTokenFactory(redisConn, logger)

	upstreamClient := upstream.NewClient(cfg.Upstream, logger)

	// ── Observability ─────────────────────────────────────────────────────

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "paperd"}, logger)
	if err != nil {
		logger.Fatal("metrics collector setup failed", logging.Err(err))
	}
	appMetrics := prometheus.NewAppMetrics(collector)

	// ── Optional fan-out targets ──────────────────────────────────────────

	var hooks []resolver.PersistHook
	var localIndex appsearch.LocalIndex
	var vectorIndex appsearch.VectorIndex

	if len(cfg.OpenSearch.Addresses) > 0 {
		osClient, err := opensearch.NewClient(opensearch.ClientConfig{
			Addresses: cfg.OpenSearch.Addresses,
			Username:  cfg.OpenSearch.User,
			Password:  cfg.OpenSearch.Password,
		}, logger)
		if err != nil {
			logger.Warn("opensearch unavailable, prefer-local search disabled", logging.Err(err))
		} else {
			indexer := opensearch.NewIndexer(osClient, opensearch.IndexerConfig{}, logger)
			searcher := opensearch.NewSearcher(osClient, opensearch.SearcherConfig{}, logger)
			paperIndex := opensearch.NewPaperIndex(indexer, searcher, cfg.OpenSearch.IndexPrefix+"papers", logger)
			if err := paperIndex.EnsureIndex(context.Background()); err != nil {
				logger.Warn("paper index bootstrap failed", logging.Err(err))
			}
			hooks = append(hooks, paperIndex)
			localIndex = paperIndex
		}
	}

	if cfg.Milvus.Addr != "" {
		mvClient, err := milvus.NewClient(milvus.ClientConfig{Address: cfg.Milvus.Addr, DBName: cfg.Milvus.DBName}, logger)
		if err != nil {
			logger.Warn("milvus unavailable, similar-papers disabled", logging.Err(err))
		} else {
			collMgr := milvus.NewCollectionManager(mvClient, milvus.CollectionConfig{}, logger)
			searcher := milvus.NewSearcher(mvClient, collMgr, milvus.SearcherConfig{}, logger)
			vectors := milvus.NewPaperVectors(searcher, collMgr, cfg.Milvus.CollectionPrefix+"papers", cfg.Milvus.EmbeddingDim, logger)
			if err := vectors.EnsureCollection(context.Background()); err != nil {
				logger.Warn("paper embedding collection bootstrap failed", logging.Err(err))
			}
			hooks = append(hooks, vectors)
			vectorIndex = vectors
		}
	}

	if cfg.Resolver.MirrorPDFs && cfg.MinIO.Endpoint != "" {
		storageClient, err := minio.NewMinIOClient(&minio.MinIOConfig{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKey,
			SecretAccessKey: cfg.MinIO.SecretKey,
			UseSSL:          cfg.MinIO.UseSSL,
		}, logger)
		if err != nil {
			logger.Warn("minio unavailable, pdf mirroring disabled", logging.Err(err))
		} else {
			storage := minio.NewMinIORepository(storageClient, logger)
			hooks = append(hooks, minio.NewPDFMirror(storage, storageClient.GetBucketName("pdfs"), logger))
		}
	}

	// ── Ingest trigger: in-process by default, bus-backed when brokers exist ─

	localIngestor := ingestor.New(ingestor.Options{
		Upstream:  upstreamClient,
		Papers:    paperRepo,
		Relations: citationRepo,
		Cache:     cache,
		Flights:   flights,
		Metrics:   prometheus.NewIngestMetrics(appMetrics),
		Ingest:    cfg.Ingest,
		TTL:       cfg.CacheTTL,
		Logger:    logger,
	})

	var ingestTrigger resolver.IngestTrigger = localIngestor
	if cfg.Worker.Mode == "distributed" && len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, logger)
		if err != nil {
			logger.Warn("kafka unavailable, ingesting in-process", logging.Err(err))
		} else {
			defer producer.Close()
			events := kafka.NewPaperEventPublisher(producer, "apiserver", logger)
			ingestTrigger = events
			hooks = append(hooks, events)
		}
	}

	// ── Core engine ───────────────────────────────────────────────────────

	paperResolver := resolver.New(resolver.Options{
		Aliases:   aliasRepo,
		Cache:     cache,
		Flights:   flights,
		Papers:    paperRepo,
		Relations: citationRepo,
		Upstream:  upstreamClient,
		Ingest:    ingestTrigger,
		Hooks:     hooks,
		Metrics:   prometheus.NewResolverMetrics(appMetrics),
		Resolver:  cfg.Resolver,
		TTL:       cfg.CacheTTL,
		Large:     cfg.Ingest,
		Logger:    logger,
	})

	searchCoordinator := appsearch.New(appsearch.Options{
		Cache:    cache,
		Upstream: upstreamClient,
		Local:    localIndex,
		Vectors:  vectorIndex,
		Papers:   paperResolver,
		Search:   cfg.Search,
		TTL:      cfg.CacheTTL,
		Logger:   logger,
	})

	// ── Transports ────────────────────────────────────────────────────────

	var authMiddleware *middleware.AuthMiddleware
	if cfg.Auth.Enabled {
		validator := middleware.NewStaticAPIKeyValidator(cfg.Auth.APIKeys)
		authMiddleware = middleware.NewAuthMiddleware(nil, validator, middleware.AuthConfig{}, logger)
		logger.Info("API key authentication enabled", logging.Int("keys", validator.KeyCount()))
	} else {
		logger.Warn("inbound authentication disabled; run behind a trusted gateway")
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	rateLimitCfg.RequestsPerSecond = cfg.Server.RateLimitRPS
	rateLimitCfg.BurstSize = cfg.Server.RateLimitBurst
	limiter := middleware.NewTokenBucketLimiter(
		rateLimitCfg.RequestsPerSecond, rateLimitCfg.BurstSize, rateLimitCfg.CleanupInterval)

	router := httpserver.NewRouter(httpserver.RouterConfig{
		PaperHandler:  handlers.NewPaperHandler(paperResolver, cfg.Search.DefaultLimit, cfg.Search.MaxLimit, cfg.Resolver.BatchSizeCap),
		SearchHandler: handlers.NewSearchHandler(searchCoordinator),
		HealthHandler: handlers.NewHealthHandler(version,
			&postgresHealthAdapter{conn: pg},
			&redisHealthAdapter{client: redisConn},
			&neo4jHealthAdapter{driver: graph},
		),
		AuthMiddleware:      authMiddleware,
		CORSMiddleware:      middleware.CORS(middleware.DefaultCORSConfig()),
		LoggingMiddleware:   middleware.RequestLogging(logger, middleware.DefaultLoggingConfig()),
		RateLimitMiddleware: middleware.RateLimit(limiter, rateLimitCfg),
		Logger:              logger,
		MetricsCollector:    collector,
	})
	httpSrv := httpserver.NewServer(cfg.Server, router)

	go func() {
		logger.Info("HTTP server listening", logging.Int("port", cfg.Server.Port))
		if err := httpSrv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", logging.Err(err))
		}
	}()

	var grpcSrv *grpcserver.Server
	if cfg.GRPC.Port > 0 {
		grpcSrv, err = grpcserver.NewServer(&cfg.GRPC,
			grpcserver.WithLogger(logger),
			grpcserver.WithMetrics(prometheus.NewGRPCMetrics(collector)))
		if err != nil {
			logger.Error("gRPC server setup failed", logging.Err(err))
		} else {
			go func() {
				logger.Info("gRPC server listening", logging.String("addr", grpcSrv.Addr()))
				if err := grpcSrv.Start(); err != nil {
					logger.Error("gRPC server error", logging.Err(err))
				}
			}()
		}
	}

	// ── Shutdown ──────────────────────────────────────────────────────────

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Stop(ctx); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
	}
	if grpcSrv != nil {
		if err := grpcSrv.Stop(ctx); err != nil {
			logger.Error("gRPC server shutdown error", logging.Err(err))
		}
	}
	logger.Info("stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}
