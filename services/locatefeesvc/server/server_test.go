package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"locatefeesvc/services/locatefeesvc/audit"
	"locatefeesvc/services/locatefeesvc/auth"
	"locatefeesvc/services/locatefeesvc/cache"
	"locatefeesvc/services/locatefeesvc/clockutil"
	"locatefeesvc/services/locatefeesvc/money"
	"locatefeesvc/services/locatefeesvc/rateengine"
	"locatefeesvc/services/locatefeesvc/repo"
	"locatefeesvc/services/locatefeesvc/upstream"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
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

type fakeSecLend struct{ result upstream.SecLendResult }

func (f fakeSecLend) Fetch(context.Context, string) (upstream.SecLendResult, error) {
	return f.result, nil
}

type fakeVolatility struct{ result upstream.VolatilityResult }

func (f fakeVolatility) Fetch(context.Context, string) (upstream.VolatilityResult, error) {
	return f.result, nil
}

type fakeEvents struct{ result upstream.EventsResult }

func (f fakeEvents) Fetch(context.Context, string) (upstream.EventsResult, error) {
	return f.result, nil
}

// testServer wires a Server entirely against in-memory backends (sqlite,
// miniredis) so the HTTP surface can be exercised without real
// infrastructure.
func testServer(t *testing.T) (*Server, *gorm.DB, string) {
	t.Helper()
	db := setupTestDB(t)
	c := testCache(t)
	r := repo.New(db, c)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	engine := rateengine.New(
		r,
		c,
		fakeSecLend{result: upstream.SecLendResult{Rate: money.NewFromFloat(0.05), Status: "EASY"}},
		fakeVolatility{result: upstream.VolatilityResult{VolIndex: money.NewFromFloat(20)}},
		fakeEvents{result: upstream.EventsResult{RiskFactor: 2}},
		rateengine.Config{
			VolatilityFactor:       money.NewFromFloat(0.01),
			EventRiskFactorMult:    money.NewFromFloat(0.05),
			DefaultVolatilityIndex: money.NewFromFloat(20),
			DefaultEventRiskFactor: 0,
		},
		nil,
	)

	queue, err := audit.New(16, t.TempDir(), r, nil)
	require.NoError(t, err)
	queue.StartWorkers(context.Background(), 1)
	t.Cleanup(queue.Wait)
	t.Cleanup(func() { _ = queue.Close() })

	s := New(Config{
		Repo:          r,
		Cache:         c,
		RateEngine:    engine,
		Authenticator: auth.New(r),
		RateLimiter:   auth.NewRateLimiter(rdb),
		AuditQueue:    queue,
	})

	apiKey := "test-raw-key"
	require.NoError(t, db.Create(&repo.ApiKey{
		KeyHash:   auth.HashKey(apiKey),
		ClientID:  "ACME",
		RateLimit: 100,
	}).Error)
	require.NoError(t, db.Create(&repo.Stock{
		Ticker:        "GME",
		BorrowStatus:  repo.BorrowStatusEasy,
		MinBorrowRate: "0.01",
	}).Error)
	require.NoError(t, db.Create(&repo.Broker{
		ClientID:           "ACME",
		MarkupPercentage:   "10",
		TransactionFeeType: repo.TransactionFeeFlat,
		TransactionAmount:  "5.00",
		Active:             true,
	}).Error)

	return s, db, apiKey
}

func TestHandleHealthOK(t *testing.T) {
	s, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCalculateLocateRequiresAPIKey(t *testing.T) {
	s, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calculate-locate?ticker=GME&position_value=10000&loan_days=5&client_id=ACME", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "UNAUTHORIZED", string(body.ErrorCode))
}

func TestCalculateLocateSuccess(t *testing.T) {
	s, _, apiKey := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calculate-locate?ticker=GME&position_value=10000&loan_days=5&client_id=ACME", nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body calculateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "success", body.Status)
	require.True(t, body.TotalFee.AsDecimal().IsPositive())
}

func TestCalculateLocateUnknownClientIsClientNotFound(t *testing.T) {
	s, _, apiKey := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calculate-locate?ticker=GME&position_value=10000&loan_days=5&client_id=NOBODY", nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "CLIENT_NOT_FOUND", string(body.ErrorCode))
}

func TestCalculateLocateIdempotencyKeyReturnsCachedResponse(t *testing.T) {
	s, _, apiKey := testServer(t)
	payload := []byte(`{"ticker":"GME","position_value":"10000","loan_days":5,"client_id":"ACME"}`)

	req1 := httptest.NewRequest(http.MethodPost, "/api/v1/calculate-locate", bytes.NewReader(payload))
	req1.Header.Set("X-API-Key", apiKey)
	req1.Header.Set("Idempotency-Key", "dedup-1")
	rec1 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)
	var first calculateResponse
	require.NoError(t, json.NewDecoder(rec1.Body).Decode(&first))

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/calculate-locate", bytes.NewReader(payload))
	req2.Header.Set("X-API-Key", apiKey)
	req2.Header.Set("Idempotency-Key", "dedup-1")
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	var second calculateResponse
	require.NoError(t, json.NewDecoder(rec2.Body).Decode(&second))

	require.Equal(t, first.TotalFee.AsDecimal().String(), second.TotalFee.AsDecimal().String())
}

func TestHandleRatesSuccess(t *testing.T) {
	s, _, apiKey := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/GME", nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body ratesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "GME", body.Ticker)
}

func TestHandleRatesUnknownTickerIsNotFound(t *testing.T) {
	s, _, apiKey := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/ZZZZ", nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
