package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"locatefeesvc/services/locatefeesvc/money"
)

// SecLendResult is the decoded response of GET /api/borrows/{ticker}.
type SecLendResult struct {
	Rate   money.Decimal
	Status string // EASY | MEDIUM | HARD
}

type secLendWire struct {
	Rate   json.Number `json:"rate"`
	Status string      `json:"status"`
}

// SecLendClient wraps the SecLend securities-lending feed behind the
// resilience fabric. Timeout default 500ms per spec §6.2.
type SecLendClient struct {
	baseURL string
	apiKey  string
	fabric  *Fabric
}

// NewSecLendClient constructs a client for the SecLend upstream.
func NewSecLendClient(baseURL, apiKey string, fabric *Fabric) *SecLendClient {
	return &SecLendClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, fabric: fabric}
}

// Fetch retrieves the current borrow rate and status for ticker.
func (c *SecLendClient) Fetch(ctx context.Context, ticker string) (SecLendResult, error) {
	return Fetch(ctx, c.fabric, func(ctx context.Context) (SecLendResult, error) {
		url := fmt.Sprintf("%s/api/borrows/%s", c.baseURL, ticker)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return SecLendResult{}, &TransientError{Endpoint: "seclend", Err: err}
		}
		req.Header.Set("X-API-Key", c.apiKey)

		resp, err := c.fabric.HTTPClient().Do(req)
		if err != nil {
			return SecLendResult{}, &TransientError{Endpoint: "seclend", Err: err}
		}
		defer resp.Body.Close()

		if err := ClassifyHTTPStatus("seclend", resp.StatusCode); err != nil {
			return SecLendResult{}, err
		}

		var wire secLendWire
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return SecLendResult{}, &PermanentError{Endpoint: "seclend", Err: err}
		}
		rate, err := money.NewFromString(wire.Rate.String())
		if err != nil {
			return SecLendResult{}, &PermanentError{Endpoint: "seclend", Err: err}
		}
		if rate.IsNegative() {
			// Negative rates are nonsensical feed data, treated as a
			// transient failure per spec §4.5's edge policy rather than a
			// schema violation, so the normal fallback chain applies.
			return SecLendResult{}, &TransientError{Endpoint: "seclend", Err: fmt.Errorf("negative rate %s", rate.String())}
		}
		status := strings.ToUpper(strings.TrimSpace(wire.Status))
		return SecLendResult{Rate: rate, Status: status}, nil
	})
}
