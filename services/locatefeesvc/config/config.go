package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures the runtime settings for locatefeesvc, resolved once at
// startup from environment inputs and threaded through as a frozen record —
// no package re-reads the environment after FromEnv returns.
type Config struct {
	Env        string
	ListenAddr string
	DatabaseURL string

	Redis RedisConfig

	SecLend    UpstreamConfig
	Volatility UpstreamConfig
	Events     UpstreamConfig

	Cache CacheConfig
	Audit AuditConfig
	Rates RateConfig

	OTLPEndpoint string
	OTLPHeaders  string
	OTLPInsecure bool

	RequestDeadline time.Duration
}

// RedisConfig configures the L2 cache and rate-limiter bucket store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// UpstreamConfig configures one of the three upstream providers (SecLend,
// Volatility, Events).
type UpstreamConfig struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	Timeout     time.Duration
}

// CacheConfig enumerates the per-namespace TTLs from spec §4.3.
type CacheConfig struct {
	BorrowRateL2TTL   time.Duration
	BorrowRateL1TTL   time.Duration
	VolatilityL2TTL   time.Duration
	VolatilityL1TTL   time.Duration
	EventRiskL2TTL    time.Duration
	EventRiskL1TTL    time.Duration
	BrokerConfigL2TTL time.Duration
	BrokerConfigL1TTL time.Duration
	MinRateL2TTL      time.Duration
	LocateFeeL2TTL    time.Duration
}

// AuditConfig configures the bounded audit queue and its worker pool.
type AuditConfig struct {
	QueueSize int
	Workers   int
	SpillDir  string
}

// RateConfig carries the rate-engine tunables enumerated in spec §6.3.
type RateConfig struct {
	MinBorrowRate          string
	DefaultVolatilityIndex string
	DefaultEventRiskFactor int
	VolatilityFactor       string
	EventRiskFactorMult    string
	DaysInYear             int
	RateLimitDefault       int
}

const (
	envEnv             = "LOCATEFEE_ENV"
	envListenAddr      = "LOCATEFEE_LISTEN_ADDR"
	envDatabaseURL     = "LOCATEFEE_DATABASE_URL"
	envRedisAddr       = "LOCATEFEE_REDIS_ADDR"
	envRedisPassword   = "LOCATEFEE_REDIS_PASSWORD"
	envRedisDB         = "LOCATEFEE_REDIS_DB"
	envSeclendBaseURL  = "LOCATEFEE_SECLEND_BASE_URL"
	envSeclendAPIKey   = "LOCATEFEE_SECLEND_API_KEY"
	envVolBaseURL      = "LOCATEFEE_VOLATILITY_BASE_URL"
	envVolBearer       = "LOCATEFEE_VOLATILITY_BEARER_TOKEN"
	envEventsBaseURL   = "LOCATEFEE_EVENTS_BASE_URL"
	envEventsAPIKey    = "LOCATEFEE_EVENTS_API_KEY"
	envAuditSpillDir   = "LOCATEFEE_AUDIT_SPILL_DIR"
	envAuditQueueSize  = "LOCATEFEE_AUDIT_QUEUE_SIZE"
	envAuditWorkers    = "LOCATEFEE_AUDIT_WORKERS"
	envRequestDeadline = "REQUEST_DEADLINE_MS"
	envOTLPEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOTLPHeaders     = "OTEL_EXPORTER_OTLP_HEADERS"
	envOTLPInsecure    = "OTEL_EXPORTER_OTLP_INSECURE"

	defaultListenAddr  = "0.0.0.0:8080"
	defaultRedisAddr   = "127.0.0.1:6379"
	defaultSpillDir    = "./spill"
	defaultQueueSize   = 4096
	defaultWorkers     = 4
	defaultDeadlineMS  = 250
)

// FromEnv constructs a Config using environment variables and the defaults
// enumerated in spec §6.3/§6.5.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:         stringFromEnv(envEnv, "development"),
		ListenAddr:  stringFromEnv(envListenAddr, defaultListenAddr),
		DatabaseURL: strings.TrimSpace(os.Getenv(envDatabaseURL)),
		Redis: RedisConfig{
			Addr:     stringFromEnv(envRedisAddr, defaultRedisAddr),
			Password: strings.TrimSpace(os.Getenv(envRedisPassword)),
			DB:       intFromEnv(envRedisDB, 0),
		},
		SecLend: UpstreamConfig{
			BaseURL: strings.TrimSpace(os.Getenv(envSeclendBaseURL)),
			APIKey:  strings.TrimSpace(os.Getenv(envSeclendAPIKey)),
			Timeout: 500 * time.Millisecond,
		},
		Volatility: UpstreamConfig{
			BaseURL:     strings.TrimSpace(os.Getenv(envVolBaseURL)),
			BearerToken: strings.TrimSpace(os.Getenv(envVolBearer)),
			Timeout:     300 * time.Millisecond,
		},
		Events: UpstreamConfig{
			BaseURL: strings.TrimSpace(os.Getenv(envEventsBaseURL)),
			APIKey:  strings.TrimSpace(os.Getenv(envEventsAPIKey)),
			Timeout: 300 * time.Millisecond,
		},
		Cache: CacheConfig{
			BorrowRateL2TTL:   300 * time.Second,
			BorrowRateL1TTL:   60 * time.Second,
			VolatilityL2TTL:   900 * time.Second,
			VolatilityL1TTL:   60 * time.Second,
			EventRiskL2TTL:    3600 * time.Second,
			EventRiskL1TTL:    60 * time.Second,
			BrokerConfigL2TTL: 1800 * time.Second,
			BrokerConfigL1TTL: 60 * time.Second,
			MinRateL2TTL:      86400 * time.Second,
			LocateFeeL2TTL:    60 * time.Second,
		},
		Audit: AuditConfig{
			QueueSize: intFromEnv(envAuditQueueSize, defaultQueueSize),
			Workers:   intFromEnv(envAuditWorkers, defaultWorkers),
			SpillDir:  stringFromEnv(envAuditSpillDir, defaultSpillDir),
		},
		Rates: RateConfig{
			MinBorrowRate:          stringFromEnv("MIN_BORROW_RATE", "0.0025"),
			DefaultVolatilityIndex: stringFromEnv("DEFAULT_VOLATILITY_INDEX", "20.0"),
			DefaultEventRiskFactor: intFromEnv("DEFAULT_EVENT_RISK_FACTOR", 0),
			VolatilityFactor:       stringFromEnv("VOLATILITY_FACTOR", "0.01"),
			EventRiskFactorMult:    stringFromEnv("EVENT_RISK_FACTOR_MULT", "0.05"),
			DaysInYear:             intFromEnv("DAYS_IN_YEAR", 365),
			RateLimitDefault:       intFromEnv("RATE_LIMIT_DEFAULT", 60),
		},
		OTLPEndpoint: strings.TrimSpace(os.Getenv(envOTLPEndpoint)),
		OTLPHeaders:  strings.TrimSpace(os.Getenv(envOTLPHeaders)),
		OTLPInsecure: boolFromEnv(envOTLPInsecure, true),

		RequestDeadline: time.Duration(intFromEnv(envRequestDeadline, defaultDeadlineMS)) * time.Millisecond,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit queue size must be positive")
	}
	if cfg.Audit.Workers <= 0 {
		return fmt.Errorf("audit worker count must be positive")
	}
	if cfg.Rates.DaysInYear <= 0 {
		return fmt.Errorf("days in year must be positive")
	}
	return nil
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	clone.DatabaseURL = maskSecret(clone.DatabaseURL)
	clone.Redis.Password = maskSecret(clone.Redis.Password)
	clone.SecLend.APIKey = maskSecret(clone.SecLend.APIKey)
	clone.Volatility.BearerToken = maskSecret(clone.Volatility.BearerToken)
	clone.Events.APIKey = maskSecret(clone.Events.APIKey)
	return clone
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	return "***"
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func intFromEnv(key string, fallback int) int {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}
