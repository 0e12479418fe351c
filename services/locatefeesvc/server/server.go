// Package server implements C10: the HTTP API surface of spec §4.10/§6.1 —
// calculate-locate, rates, and health — wired together from every other
// component package.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"locatefeesvc/services/locatefeesvc/audit"
	"locatefeesvc/services/locatefeesvc/auth"
	"locatefeesvc/services/locatefeesvc/cache"
	"locatefeesvc/services/locatefeesvc/metrics"
	"locatefeesvc/services/locatefeesvc/rateengine"
	"locatefeesvc/services/locatefeesvc/repo"
)

// Config carries every dependency the server needs to construct its router.
type Config struct {
	Repo             *repo.Repository
	Cache            *cache.Cache
	RateEngine       *rateengine.Engine
	Authenticator    *auth.Authenticator
	RateLimiter      *auth.RateLimiter
	AuditQueue       *audit.Queue
	Metrics          *metrics.Registry
	Logger           *slog.Logger
	DefaultRateLimit int
}

// Server bundles the dependencies above behind a configured chi.Router.
type Server struct {
	repo             *repo.Repository
	cache            *cache.Cache
	rateEngine       *rateengine.Engine
	auth             *auth.Authenticator
	limiter          *auth.RateLimiter
	auditQueue       *audit.Queue
	metrics          *metrics.Registry
	logger           *slog.Logger
	defaultRateLimit int

	router http.Handler
}

// New constructs a Server with its router built.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultRateLimit <= 0 {
		cfg.DefaultRateLimit = 60
	}
	s := &Server{
		repo:             cfg.Repo,
		cache:            cfg.Cache,
		rateEngine:       cfg.RateEngine,
		auth:             cfg.Authenticator,
		limiter:          cfg.RateLimiter,
		auditQueue:       cfg.AuditQueue,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		defaultRateLimit: cfg.DefaultRateLimit,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured router for http.ListenAndServe /
// otelhttp.NewHandler to wrap.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware("locatefeesvc"))
	}

	r.Get("/api/v1/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(protected chi.Router) {
		protected.Use(s.authAndRateLimit)
		protected.Method(http.MethodPost, "/api/v1/calculate-locate", http.HandlerFunc(s.handleCalculateLocate))
		protected.Method(http.MethodGet, "/api/v1/calculate-locate", http.HandlerFunc(s.handleCalculateLocate))
		protected.Get("/api/v1/rates/{ticker}", s.handleRates)
	})

	return r
}
