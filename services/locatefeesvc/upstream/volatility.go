package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"locatefeesvc/services/locatefeesvc/money"
)

// VolatilityResult is the decoded response of GET /api/market/volatility/{ticker}.
type VolatilityResult struct {
	VolIndex money.Decimal
}

type volatilityWire struct {
	Value     json.Number `json:"value"`
	Timestamp string      `json:"timestamp"`
}

// VolatilityClient wraps the market volatility feed. Timeout default 300ms.
type VolatilityClient struct {
	baseURL     string
	bearerToken string
	fabric      *Fabric
}

// NewVolatilityClient constructs a client for the Volatility upstream.
func NewVolatilityClient(baseURL, bearerToken string, fabric *Fabric) *VolatilityClient {
	return &VolatilityClient{baseURL: strings.TrimRight(baseURL, "/"), bearerToken: bearerToken, fabric: fabric}
}

// Fetch retrieves the current volatility index for ticker.
func (c *VolatilityClient) Fetch(ctx context.Context, ticker string) (VolatilityResult, error) {
	return Fetch(ctx, c.fabric, func(ctx context.Context) (VolatilityResult, error) {
		url := fmt.Sprintf("%s/api/market/volatility/%s", c.baseURL, ticker)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return VolatilityResult{}, &TransientError{Endpoint: "volatility", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)

		resp, err := c.fabric.HTTPClient().Do(req)
		if err != nil {
			return VolatilityResult{}, &TransientError{Endpoint: "volatility", Err: err}
		}
		defer resp.Body.Close()

		if err := ClassifyHTTPStatus("volatility", resp.StatusCode); err != nil {
			return VolatilityResult{}, err
		}

		var wire volatilityWire
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return VolatilityResult{}, &PermanentError{Endpoint: "volatility", Err: err}
		}
		idx, err := money.NewFromString(wire.Value.String())
		if err != nil {
			return VolatilityResult{}, &PermanentError{Endpoint: "volatility", Err: err}
		}
		if idx.IsNegative() {
			return VolatilityResult{}, &TransientError{Endpoint: "volatility", Err: fmt.Errorf("negative vol_index %s", idx.String())}
		}
		return VolatilityResult{VolIndex: idx}, nil
	})
}
