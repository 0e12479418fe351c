// Package rateengine implements C5: the effective annual borrow rate for a
// ticker, with provenance recorded for every input, per spec §4.5.
package rateengine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"locatefeesvc/services/locatefeesvc/cache"
	"locatefeesvc/services/locatefeesvc/fallback"
	"locatefeesvc/services/locatefeesvc/money"
	"locatefeesvc/services/locatefeesvc/repo"
	"locatefeesvc/services/locatefeesvc/upstream"
	"locatefeesvc/services/locatefeesvc/validate"
)

// Config carries the configurable constants of spec §6.3/§4.5: Vf, Ef, and
// the defaults used when volatility/events are unreachable.
type Config struct {
	VolatilityFactor       money.Decimal // Vf, default 0.01
	EventRiskFactorMult    money.Decimal // Ef, default 0.05
	DefaultVolatilityIndex money.Decimal // default 20.0
	DefaultEventRiskFactor int           // default 0
}

// Result is the adjusted rate plus the provenance of each of its inputs.
type Result struct {
	BorrowRateUsed  money.Decimal
	BorrowStatus    repo.BorrowStatus
	VolIndex        money.Decimal
	EventRiskFactor int
	BorrowRateProv  fallback.Provenance
	VolatilityProv  fallback.Provenance
	EventRiskProv   fallback.Provenance
}

// stockLookup is the narrow slice of *repo.Repository the engine needs,
// so tests can supply a fake without a database.
type stockLookup interface {
	GetStock(ctx context.Context, ticker string) (repo.Stock, bool, error)
}

// secLendFetcher, volatilityFetcher, and eventsFetcher are the narrow slices
// of the concrete upstream clients the engine depends on.
type secLendFetcher interface {
	Fetch(ctx context.Context, ticker string) (upstream.SecLendResult, error)
}

type volatilityFetcher interface {
	Fetch(ctx context.Context, ticker string) (upstream.VolatilityResult, error)
}

type eventsFetcher interface {
	Fetch(ctx context.Context, ticker string) (upstream.EventsResult, error)
}

// Engine produces Result values. It holds no mutable state beyond its
// collaborators; two-times-TTL cache freshness is evaluated against the
// cache's own stored timestamp via cache.Age.
type Engine struct {
	repo       stockLookup
	cache      *cache.Cache
	secLend    secLendFetcher
	volatility volatilityFetcher
	events     eventsFetcher
	cfg        Config
	logger     *slog.Logger
}

// New constructs a rate Engine.
func New(r stockLookup, c *cache.Cache, secLend secLendFetcher, vol volatilityFetcher, events eventsFetcher, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: r, cache: c, secLend: secLend, volatility: vol, events: events, cfg: cfg, logger: logger}
}

// Rate computes the adjusted borrow rate for ticker, step 1-8 of spec §4.5.
func (e *Engine) Rate(ctx context.Context, ticker string) (Result, error) {
	stock, found, err := e.repo.GetStock(ctx, ticker)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, validate.New(validate.CodeTickerNotFound, "ticker not found")
	}
	minRate, err := money.NewFromString(stock.MinBorrowRate)
	if err != nil {
		return Result{}, validate.New(validate.CodeCalculationError, "stored min_borrow_rate is malformed")
	}

	var (
		baseRate   money.Decimal
		baseProv   fallback.Provenance
		baseErr    error
		status     repo.BorrowStatus
		volIndex   money.Decimal
		volProv    fallback.Provenance
		eventRisk  int
		eventProv  fallback.Provenance
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rateKey := cache.Key(ticker)
		result, err := e.secLend.Fetch(gctx, ticker)
		if err == nil {
			baseRate, baseProv, baseErr = result.Rate, fallback.ProvenanceAPI, nil
			status = repo.BorrowStatus(result.Status)
			e.cache.Put(gctx, cache.NamespaceBorrowRate, rateKey, result)
			return nil
		}
		cachedFn := func() (upstream.SecLendResult, bool) {
			age, ok := e.cache.Age(gctx, cache.NamespaceBorrowRate, rateKey)
			if !ok {
				return upstream.SecLendResult{}, false
			}
			const twoXTTL = 600 // seconds, 2x the 300s L2 TTL from spec §4.3
			if age.Seconds() > twoXTTL {
				return upstream.SecLendResult{}, false
			}
			v, hit, _ := cache.GetOrLoad(gctx, e.cache, cache.NamespaceBorrowRate, rateKey, func(context.Context) (upstream.SecLendResult, error) {
				return upstream.SecLendResult{}, err
			})
			return v, hit
		}
		v, prov, rerr := fallback.Resolve(func() (upstream.SecLendResult, error) { return upstream.SecLendResult{}, err }, cachedFn, upstream.SecLendResult{Rate: minRate})
		if rerr != nil {
			baseErr = rerr
			return nil
		}
		if prov == fallback.ProvenanceDefault {
			prov = fallback.ProvenanceStoredMinimum
		}
		baseRate, baseProv, status = v.Rate, prov, repo.BorrowStatus(v.Status)
		return nil
	})
	g.Go(func() error {
		volKey := cache.Key(ticker)
		result, err := e.volatility.Fetch(gctx, ticker)
		if err == nil {
			volIndex, volProv = result.VolIndex, fallback.ProvenanceAPI
			e.cache.Put(gctx, cache.NamespaceVolatility, volKey, result)
			return nil
		}
		age, ok := e.cache.Age(gctx, cache.NamespaceVolatility, volKey)
		if ok && age.Seconds() <= 1800 { // 2x the 900s L2 TTL
			v, hit, _ := cache.GetOrLoad(gctx, e.cache, cache.NamespaceVolatility, volKey, func(context.Context) (upstream.VolatilityResult, error) {
				return upstream.VolatilityResult{}, err
			})
			if hit {
				volIndex, volProv = v.VolIndex, fallback.ProvenanceCache
				return nil
			}
		}
		volIndex, volProv = e.cfg.DefaultVolatilityIndex, fallback.ProvenanceDefault
		return nil
	})
	g.Go(func() error {
		riskKey := cache.Key(ticker)
		result, err := e.events.Fetch(gctx, ticker)
		if err == nil {
			eventRisk, eventProv = clamp(result.RiskFactor), fallback.ProvenanceAPI
			e.cache.Put(gctx, cache.NamespaceEventRisk, riskKey, result)
			return nil
		}
		age, ok := e.cache.Age(gctx, cache.NamespaceEventRisk, riskKey)
		if ok && age.Seconds() <= 7200 { // 2x the 3600s L2 TTL
			v, hit, _ := cache.GetOrLoad(gctx, e.cache, cache.NamespaceEventRisk, riskKey, func(context.Context) (upstream.EventsResult, error) {
				return upstream.EventsResult{}, err
			})
			if hit {
				eventRisk, eventProv = clamp(v.RiskFactor), fallback.ProvenanceCache
				return nil
			}
		}
		eventRisk, eventProv = e.cfg.DefaultEventRiskFactor, fallback.ProvenanceDefault
		return nil
	})
	_ = g.Wait() // each goroutine always returns nil; fallback resolution happens inline

	if baseErr != nil {
		return Result{}, baseErr
	}

	adjusted := computeAdjusted(baseRate, volIndex, eventRisk, e.cfg.VolatilityFactor, e.cfg.EventRiskFactorMult)
	final := money.Max(money.Quantize(adjusted, 4), minRate)

	rateKey := cache.Key(ticker)
	e.cache.Put(ctx, cache.NamespaceBorrowRate, "final:"+rateKey, final)

	return Result{
		BorrowRateUsed:  final,
		BorrowStatus:    status,
		VolIndex:        volIndex,
		EventRiskFactor: eventRisk,
		BorrowRateProv:  baseProv,
		VolatilityProv:  volProv,
		EventRiskProv:   eventProv,
	}, nil
}

// computeAdjusted implements spec §3's invariant:
// adjusted_rate = base_rate x (1 + vol_index x Vf + (event_risk/10) x Ef).
func computeAdjusted(base, vol money.Decimal, eventRisk int, vf, ef money.Decimal) money.Decimal {
	volTerm := money.Mul(vol, vf)
	eventTerm := money.Mul(money.Div(money.NewFromInt(int64(eventRisk)), money.NewFromInt(10)), ef)
	multiplier := money.Add(money.Add(money.NewFromInt(1), volTerm), eventTerm)
	return money.Mul(base, multiplier)
}

func clamp(risk int) int {
	if risk < 0 {
		return 0
	}
	if risk > 10 {
		return 10
	}
	return risk
}
