package rateengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"locatefeesvc/services/locatefeesvc/cache"
	"locatefeesvc/services/locatefeesvc/clockutil"
	"locatefeesvc/services/locatefeesvc/money"
	"locatefeesvc/services/locatefeesvc/repo"
	"locatefeesvc/services/locatefeesvc/upstream"
	"locatefeesvc/services/locatefeesvc/validate"
)

type fakeStockLookup struct {
	stock repo.Stock
	found bool
}

func (f fakeStockLookup) GetStock(ctx context.Context, ticker string) (repo.Stock, bool, error) {
	return f.stock, f.found, nil
}

type fakeSecLend struct {
	result upstream.SecLendResult
	err    error
}

func (f fakeSecLend) Fetch(ctx context.Context, ticker string) (upstream.SecLendResult, error) {
	return f.result, f.err
}

type fakeVolatility struct {
	result upstream.VolatilityResult
	err    error
}

func (f fakeVolatility) Fetch(ctx context.Context, ticker string) (upstream.VolatilityResult, error) {
	return f.result, f.err
}

type fakeEvents struct {
	result upstream.EventsResult
	err    error
}

func (f fakeEvents) Fetch(ctx context.Context, ticker string) (upstream.EventsResult, error) {
	return f.result, f.err
}

func testCache() *cache.Cache {
	ttls := map[cache.Namespace]cache.TTLs{
		cache.NamespaceBorrowRate:   {L1: time.Minute, L2: 5 * time.Minute},
		cache.NamespaceVolatility:   {L1: time.Minute, L2: 15 * time.Minute},
		cache.NamespaceEventRisk:    {L1: time.Minute, L2: time.Hour},
		cache.NamespaceMinRate:      {},
		cache.NamespaceBrokerConfig: {L1: time.Minute, L2: 5 * time.Minute},
		cache.NamespaceLocateFee:    {},
	}
	return cache.New(nil, ttls, clockutil.NewFixed(time.Unix(0, 0)), nil)
}

func defaultConfig() Config {
	return Config{
		VolatilityFactor:       money.NewFromFloat(0.01),
		EventRiskFactorMult:    money.NewFromFloat(0.05),
		DefaultVolatilityIndex: money.NewFromFloat(20.0),
		DefaultEventRiskFactor: 0,
	}
}

func TestRateAllSourcesHealthy(t *testing.T) {
	stock := fakeStockLookup{stock: repo.Stock{Ticker: "AAPL", MinBorrowRate: "0.25"}, found: true}
	secLend := fakeSecLend{result: upstream.SecLendResult{Rate: money.NewFromFloat(7.3), Status: "MEDIUM"}}
	vol := fakeVolatility{result: upstream.VolatilityResult{VolIndex: money.NewFromFloat(45.0)}}
	events := fakeEvents{result: upstream.EventsResult{RiskFactor: 3}}

	eng := New(stock, testCache(), secLend, vol, events, defaultConfig(), nil)
	res, err := eng.Rate(context.Background(), "AAPL")
	require.NoError(t, err)

	want := computeAdjusted(money.NewFromFloat(7.3), money.NewFromFloat(45.0), 3, money.NewFromFloat(0.01), money.NewFromFloat(0.05))
	require.True(t, res.BorrowRateUsed.Equal(want), "got %s want %s", res.BorrowRateUsed, want)
	require.Equal(t, repo.BorrowStatus("MEDIUM"), res.BorrowStatus)
}

func TestRateFloorsAtStoredMinimum(t *testing.T) {
	stock := fakeStockLookup{stock: repo.Stock{Ticker: "GME", MinBorrowRate: "50.0"}, found: true}
	secLend := fakeSecLend{result: upstream.SecLendResult{Rate: money.NewFromFloat(1.0), Status: "EASY"}}
	vol := fakeVolatility{result: upstream.VolatilityResult{VolIndex: money.NewFromFloat(10.0)}}
	events := fakeEvents{result: upstream.EventsResult{RiskFactor: 0}}

	eng := New(stock, testCache(), secLend, vol, events, defaultConfig(), nil)
	res, err := eng.Rate(context.Background(), "GME")
	require.NoError(t, err)
	require.True(t, res.BorrowRateUsed.Equal(money.NewFromFloat(50.0)))
}

func TestRateMissingTickerIsTickerNotFound(t *testing.T) {
	stock := fakeStockLookup{found: false}
	eng := New(stock, testCache(), fakeSecLend{}, fakeVolatility{}, fakeEvents{}, defaultConfig(), nil)
	_, err := eng.Rate(context.Background(), "ZZZZ")
	require.Error(t, err)
	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, validate.CodeTickerNotFound, verr.Code)
}

func TestRateUsesDefaultsWhenVolatilityAndEventsUnreachable(t *testing.T) {
	stock := fakeStockLookup{stock: repo.Stock{Ticker: "AAPL", MinBorrowRate: "0.25"}, found: true}
	secLend := fakeSecLend{result: upstream.SecLendResult{Rate: money.NewFromFloat(7.3), Status: "MEDIUM"}}
	vol := fakeVolatility{err: &upstream.TransientError{Endpoint: "volatility"}}
	events := fakeEvents{err: &upstream.TransientError{Endpoint: "events"}}

	eng := New(stock, testCache(), secLend, vol, events, defaultConfig(), nil)
	res, err := eng.Rate(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, res.VolIndex.Equal(money.NewFromFloat(20.0)))
	require.Equal(t, 0, res.EventRiskFactor)
}
