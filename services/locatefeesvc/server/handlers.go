package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"locatefeesvc/services/locatefeesvc/cache"
	"locatefeesvc/services/locatefeesvc/feeengine"
	"locatefeesvc/services/locatefeesvc/money"
	"locatefeesvc/services/locatefeesvc/rateengine"
	"locatefeesvc/services/locatefeesvc/repo"
	"locatefeesvc/services/locatefeesvc/validate"
)

type calculateRequestBody struct {
	Ticker        string      `json:"ticker"`
	PositionValue json.Number `json:"position_value"`
	LoanDays      int         `json:"loan_days"`
	ClientID      string      `json:"client_id"`
}

type breakdownResponse struct {
	BorrowCost      money.APIDecimal `json:"borrow_cost"`
	Markup          money.APIDecimal `json:"markup"`
	TransactionFees money.APIDecimal `json:"transaction_fees"`
}

type calculateResponse struct {
	Status         string            `json:"status"`
	TotalFee       money.APIDecimal  `json:"total_fee"`
	Breakdown      breakdownResponse `json:"breakdown"`
	BorrowRateUsed money.APIDecimal  `json:"borrow_rate_used"`
}

// handleCalculateLocate implements POST/GET /api/v1/calculate-locate, spec
// §6.1. It follows the teacher's parse -> validate -> dispatch -> writeJSON
// shape. Idempotency-Key support reuses the locate_fee cache namespace (C3)
// as the idempotency store, per SPEC_FULL.md §4.10: the cache TTL is the
// idempotency window.
func (s *Server) handleCalculateLocate(w http.ResponseWriter, r *http.Request) {
	raw, err := parseCalculateRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	positionValue, perr := money.NewFromString(raw.PositionValue)
	if perr != nil {
		writeError(w, validate.WithField(validate.CodeInvalidParameter, "position_value must be numeric", "position_value"))
		return
	}

	req, verr := validate.CalculateFields(raw.Ticker, positionValue, raw.LoanDays, raw.ClientID)
	if verr != nil {
		writeError(w, verr)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	idemCacheKey := "idem:" + cache.Key(idemKey)
	if idemKey != "" {
		if cached, ok := s.lookupIdempotent(r.Context(), idemCacheKey); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	rateResult, err := s.rateEngine.Rate(r.Context(), req.Ticker)
	if err != nil {
		writeError(w, err)
		return
	}

	broker, found, err := s.repo.GetBroker(r.Context(), req.ClientID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, validate.New(validate.CodeClientNotFound, "client not found or inactive"))
		return
	}
	markup, err := money.NewFromString(broker.MarkupPercentage)
	if err != nil {
		writeError(w, validate.New(validate.CodeCalculationError, "broker markup_percentage is malformed"))
		return
	}
	txnAmount, err := money.NewFromString(broker.TransactionAmount)
	if err != nil {
		writeError(w, validate.New(validate.CodeCalculationError, "broker transaction_amount is malformed"))
		return
	}

	breakdown := feeengine.Compute(feeengine.Input{
		BorrowRateAnnual:  rateResult.BorrowRateUsed,
		PositionValue:     req.PositionValue,
		LoanDays:          req.LoanDays,
		MarkupPercentage:  markup,
		FeeType:           broker.TransactionFeeType,
		TransactionAmount: txnAmount,
	})
	if err := money.GuardMagnitude(breakdown.TotalFee); err != nil {
		writeError(w, validate.New(validate.CodeCalculationError, "fee computation overflowed"))
		return
	}
	if money.IsNegative(breakdown.BorrowCost) || money.IsNegative(breakdown.Markup) || money.IsNegative(breakdown.TransactionFee) {
		writeError(w, validate.New(validate.CodeCalculationError, "fee computation produced a negative component"))
		return
	}

	resp := calculateResponse{
		Status:   "success",
		TotalFee: money.WireDecimal(breakdown.TotalFee),
		Breakdown: breakdownResponse{
			BorrowCost:      money.WireDecimal(breakdown.BorrowCost),
			Markup:          money.WireDecimal(breakdown.Markup),
			TransactionFees: money.WireDecimal(breakdown.TransactionFee),
		},
		BorrowRateUsed: money.WireDecimal(rateResult.BorrowRateUsed),
	}

	s.recordAudit(r.Context(), req, rateResult, breakdown)

	if idemKey != "" {
		s.cache.Put(r.Context(), cache.NamespaceLocateFee, idemCacheKey, resp)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookupIdempotent(ctx context.Context, idemCacheKey string) (calculateResponse, bool) {
	v, hit, err := cache.GetOrLoad(ctx, s.cache, cache.NamespaceLocateFee, idemCacheKey, func(context.Context) (calculateResponse, error) {
		return calculateResponse{}, errNoIdempotentRecord
	})
	if err != nil || !hit {
		return calculateResponse{}, false
	}
	return v, true
}

func (s *Server) recordAudit(ctx context.Context, req validate.CalculateRequest, rateResult rateengine.Result, breakdown feeengine.Breakdown) {
	rec := repo.AuditRecordInput{
		AuditID:        uuid.New(),
		Timestamp:      time.Now().UTC(),
		ClientID:       req.ClientID,
		Ticker:         req.Ticker,
		PositionValue:  req.PositionValue.String(),
		LoanDays:       req.LoanDays,
		BorrowRateUsed: rateResult.BorrowRateUsed.String(),
		TotalFee:       breakdown.TotalFee.String(),
		DataSources: map[string]string{
			"borrow_rate": string(rateResult.BorrowRateProv),
			"volatility":  string(rateResult.VolatilityProv),
			"event_risk":  string(rateResult.EventRiskProv),
		},
		Breakdown: map[string]string{
			"borrow_cost":      breakdown.BorrowCost.String(),
			"markup":           breakdown.Markup.String(),
			"transaction_fees": breakdown.TransactionFee.String(),
		},
	}
	if err := s.auditQueue.Enqueue(rec); err != nil {
		s.logger.Error("audit enqueue failed", "audit_id", rec.AuditID, "error", err)
	}
}

type ratesResponse struct {
	Ticker          string           `json:"ticker"`
	CurrentRate     money.APIDecimal `json:"current_rate"`
	BorrowStatus    string           `json:"borrow_status"`
	VolatilityIndex money.APIDecimal `json:"volatility_index"`
	EventRiskFactor int              `json:"event_risk_factor"`
	LastUpdated     string           `json:"last_updated"`
}

// handleRates implements GET /api/v1/rates/{ticker}, spec §6.1.
func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	ticker, verr := validate.Ticker(chi.URLParam(r, "ticker"))
	if verr != nil {
		writeError(w, verr)
		return
	}
	result, err := s.rateEngine.Rate(r.Context(), ticker)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratesResponse{
		Ticker:          ticker,
		CurrentRate:     money.WireDecimal(result.BorrowRateUsed),
		BorrowStatus:    string(result.BorrowStatus),
		VolatilityIndex: money.WireDecimal(result.VolIndex),
		EventRiskFactor: result.EventRiskFactor,
		LastUpdated:     time.Now().UTC().Format(time.RFC3339),
	})
}

type healthResponse struct {
	Status string   `json:"status"`
	Failed []string `json:"failed,omitempty"`
}

// handleHealth implements GET /api/v1/health, spec §6.1: 200 when the DB and
// L2 cache are reachable, 503 enumerating failures otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var failed []string
	if err := s.repo.Ping(r.Context()); err != nil {
		failed = append(failed, "database")
	}
	if err := s.cache.Ping(r.Context()); err != nil {
		failed = append(failed, "l2_cache")
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Failed: failed})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

type rawCalculateRequest struct {
	Ticker        string
	PositionValue string
	LoanDays      int
	ClientID      string
}

func parseCalculateRequest(r *http.Request) (rawCalculateRequest, *validate.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		loanDays, _ := strconv.Atoi(q.Get("loan_days"))
		return rawCalculateRequest{
			Ticker:        q.Get("ticker"),
			PositionValue: q.Get("position_value"),
			LoanDays:      loanDays,
			ClientID:      q.Get("client_id"),
		}, nil
	}
	var body calculateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return rawCalculateRequest{}, validate.New(validate.CodeInvalidParameter, "malformed JSON body")
	}
	return rawCalculateRequest{
		Ticker:        body.Ticker,
		PositionValue: body.PositionValue.String(),
		LoanDays:      body.LoanDays,
		ClientID:      body.ClientID,
	}, nil
}

var errNoIdempotentRecord = validate.New(validate.CodeInternalError, "no idempotent record cached")
