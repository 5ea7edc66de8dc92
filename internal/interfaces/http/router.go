package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/paperd/internal/interfaces/http/handlers"
	"github.com/turtacn/paperd/internal/interfaces/http/middleware"
)

// RouterConfig aggregates all handler and middleware dependencies
// required to construct the complete HTTP route tree.
type RouterConfig struct {
	// Handlers
	PaperHandler  *handlers.PaperHandler
	SearchHandler *handlers.SearchHandler
	HealthHandler *handlers.HealthHandler

	// Middleware
	AuthMiddleware      *middleware.AuthMiddleware
	CORSMiddleware      func(http.Handler) http.Handler
	LoggingMiddleware   func(http.Handler) http.Handler
	RateLimitMiddleware func(http.Handler) http.Handler

	// Infrastructure
	Logger           logging.Logger
	MetricsCollector prometheus.MetricsCollector
}

// NewRouter constructs the complete HTTP route tree: global middleware,
// public health endpoints, the metrics scrape, and the paper proxy
// surface.  Paths mirror the Upstream API so a client can point at
// either host unchanged; the same tree is also mounted under /graph/v1
// for clients that keep Upstream's base path.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if cfg.CORSMiddleware != nil {
		r.Use(cfg.CORSMiddleware)
	}
	if cfg.LoggingMiddleware != nil {
		r.Use(cfg.LoggingMiddleware)
	}
	if cfg.RateLimitMiddleware != nil {
		r.Use(cfg.RateLimitMiddleware)
	}

	r.Group(func(pub chi.Router) {
		if cfg.HealthHandler != nil {
			pub.Get("/healthz", cfg.HealthHandler.Liveness)
			pub.Get("/readyz", cfg.HealthHandler.Readiness)
			pub.Get("/healthz/detail", cfg.HealthHandler.Detailed)
		}
	})

	if cfg.MetricsCollector != nil {
		r.Handle("/metrics", cfg.MetricsCollector.Handler())
	}

	r.Group(func(api chi.Router) {
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.Authenticate())
		}
		registerPaperRoutes(api, cfg.PaperHandler, cfg.SearchHandler)
	})

	return r
}

// registerPaperRoutes mounts the paper proxy surface.  References may
// contain slashes (DOI:10.18653/v1/N18-3011), so everything under
// /paper/ funnels through one wildcard handler that dispatches on the
// suffix; only the fixed-path endpoints get their own routes, registered
// first so "batch" and "search" are never read as references.
func registerPaperRoutes(r chi.Router, paper *handlers.PaperHandler, search *handlers.SearchHandler) {
	if paper == nil {
		return
	}

	mount := func(prefix string, g chi.Router) {
		if search != nil {
			g.Get(prefix+"/paper/search", search.Search)
		}
		g.Post(prefix+"/paper/batch", paper.Batch)
		g.HandleFunc(prefix+"/paper/*", func(w http.ResponseWriter, req *http.Request) {
			if search != nil && req.Method == http.MethodGet {
				tail := strings.TrimPrefix(req.URL.Path, prefix+"/paper/")
				if ref, ok := strings.CutSuffix(tail, "/similar"); ok {
					search.Similar(w, req, ref)
					return
				}
			}
			paper.Handle(w, req)
		})
	}

	mount("", r)
	mount("/graph/v1", r)
}
