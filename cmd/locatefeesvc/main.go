// Command locatefeesvc starts the short-sale locate-fee pricing service of
// spec §4/§6: bootstrap order follows the teacher's otc-gateway entrypoint
// with config resolved first — config, logging, telemetry, database, then the
// dependency graph bottom-up into the HTTP server.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/redis/go-redis/v9"

	"locatefeesvc/observability/logging"
	telemetry "locatefeesvc/observability/otel"
	"locatefeesvc/services/locatefeesvc/audit"
	"locatefeesvc/services/locatefeesvc/auth"
	"locatefeesvc/services/locatefeesvc/cache"
	"locatefeesvc/services/locatefeesvc/config"
	"locatefeesvc/services/locatefeesvc/metrics"
	"locatefeesvc/services/locatefeesvc/money"
	"locatefeesvc/services/locatefeesvc/rateengine"
	"locatefeesvc/services/locatefeesvc/repo"
	"locatefeesvc/services/locatefeesvc/server"
	"locatefeesvc/services/locatefeesvc/upstream"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup("locatefeesvc", cfg.Env)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "locatefeesvc",
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(cfg.OTLPHeaders),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("database pool error: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	reg := metrics.New("locatefeesvc", logger)

	ttls := map[cache.Namespace]cache.TTLs{
		cache.NamespaceBorrowRate:   {L1: cfg.Cache.BorrowRateL1TTL, L2: cfg.Cache.BorrowRateL2TTL},
		cache.NamespaceVolatility:   {L1: cfg.Cache.VolatilityL1TTL, L2: cfg.Cache.VolatilityL2TTL},
		cache.NamespaceEventRisk:    {L1: cfg.Cache.EventRiskL1TTL, L2: cfg.Cache.EventRiskL2TTL},
		cache.NamespaceBrokerConfig: {L1: cfg.Cache.BrokerConfigL1TTL, L2: cfg.Cache.BrokerConfigL2TTL},
		cache.NamespaceMinRate:      {L2: cfg.Cache.MinRateL2TTL},
		cache.NamespaceLocateFee:    {L2: cfg.Cache.LocateFeeL2TTL},
	}
	c := cache.New(rdb, ttls, nil, logger)
	c.OnResult(func(ns cache.Namespace, hit bool) { reg.RecordCacheResult(string(ns), hit) })
	c.Subscribe(context.Background(), cache.NamespaceBorrowRate)
	c.Subscribe(context.Background(), cache.NamespaceBrokerConfig)

	onStateChange := func(endpoint, state string) { reg.RecordBreakerStateChange(endpoint, state) }

	secLendFabric := upstream.NewFabric(cfg.SecLend.BaseURL, cfg.SecLend.Timeout, upstream.SecLendBreakerSettings, http.DefaultClient, logger, onStateChange)
	volatilityFabric := upstream.NewFabric(cfg.Volatility.BaseURL, cfg.Volatility.Timeout, upstream.VolatilityBreakerSettings, http.DefaultClient, logger, onStateChange)
	eventsFabric := upstream.NewFabric(cfg.Events.BaseURL, cfg.Events.Timeout, upstream.EventsBreakerSettings, http.DefaultClient, logger, onStateChange)

	secLendClient := upstream.NewSecLendClient(cfg.SecLend.BaseURL, cfg.SecLend.APIKey, secLendFabric)
	volatilityClient := upstream.NewVolatilityClient(cfg.Volatility.BaseURL, cfg.Volatility.BearerToken, volatilityFabric)
	eventsClient := upstream.NewEventsClient(cfg.Events.BaseURL, cfg.Events.APIKey, eventsFabric, nil)

	r := repo.New(db, c)

	volFactor, err := money.NewFromString(cfg.Rates.VolatilityFactor)
	if err != nil {
		log.Fatalf("invalid VOLATILITY_FACTOR: %v", err)
	}
	eventFactor, err := money.NewFromString(cfg.Rates.EventRiskFactorMult)
	if err != nil {
		log.Fatalf("invalid EVENT_RISK_FACTOR_MULT: %v", err)
	}
	defaultVolIndex, err := money.NewFromString(cfg.Rates.DefaultVolatilityIndex)
	if err != nil {
		log.Fatalf("invalid DEFAULT_VOLATILITY_INDEX: %v", err)
	}

	engine := rateengine.New(r, c, secLendClient, volatilityClient, eventsClient, rateengine.Config{
		VolatilityFactor:       volFactor,
		EventRiskFactorMult:    eventFactor,
		DefaultVolatilityIndex: defaultVolIndex,
		DefaultEventRiskFactor: cfg.Rates.DefaultEventRiskFactor,
	}, logger)

	auditQueue, err := audit.New(cfg.Audit.QueueSize, cfg.Audit.SpillDir, r, logger)
	if err != nil {
		log.Fatalf("audit queue init error: %v", err)
	}
	auditCtx, cancelAudit := context.WithCancel(context.Background())
	defer cancelAudit()
	auditQueue.StartWorkers(auditCtx, cfg.Audit.Workers)

	reconciler := audit.NewSpillReconciler(cfg.Audit.SpillDir, r.AppendAudit, logger)
	if n, err := reconciler.Reconcile(); err != nil {
		logger.Warn("audit spill reconciliation failed at startup", "error", err)
	} else if n > 0 {
		logger.Info("replayed spilled audit records at startup", "count", n)
	}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-auditCtx.Done():
				return
			case <-ticker.C:
				if n, err := reconciler.Reconcile(); err != nil {
					logger.Warn("audit spill reconciliation failed", "error", err)
				} else if n > 0 {
					logger.Info("replayed spilled audit records", "count", n)
				}
			}
		}
	}()

	srv := server.New(server.Config{
		Repo:             r,
		Cache:            c,
		RateEngine:       engine,
		Authenticator:    auth.New(r),
		RateLimiter:      auth.NewRateLimiter(rdb),
		AuditQueue:       auditQueue,
		Metrics:          reg,
		Logger:           logger,
		DefaultRateLimit: cfg.Rates.RateLimitDefault,
	})

	handler := otelhttp.NewHandler(srv.Handler(), "locatefeesvc")

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("starting locatefeesvc", "addr", cfg.ListenAddr, "env", cfg.Env)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
