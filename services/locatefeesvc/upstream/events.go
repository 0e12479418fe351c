package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// EventsResult is the reduced outcome of GET /api/calendar/events: the
// maximum risk_factor among events within the next 30 days (spec §6.2,
// §9's resolved "max" choice for event-risk aggregation).
type EventsResult struct {
	RiskFactor int
}

type eventsWire struct {
	Events []struct {
		Type       string `json:"type"`
		Date       string `json:"date"`
		RiskFactor int    `json:"risk_factor"`
	} `json:"events"`
}

// EventsClient wraps the corporate-events calendar feed. Timeout default 300ms.
type EventsClient struct {
	baseURL string
	apiKey  string
	fabric  *Fabric
	now     func() time.Time
}

// NewEventsClient constructs a client for the Events upstream. now defaults
// to time.Now when nil; callers may inject a fixed clock.
func NewEventsClient(baseURL, apiKey string, fabric *Fabric, now func() time.Time) *EventsClient {
	if now == nil {
		now = time.Now
	}
	return &EventsClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, fabric: fabric, now: now}
}

// Fetch retrieves the reduced event-risk factor for ticker, clamped to [0,10].
func (c *EventsClient) Fetch(ctx context.Context, ticker string) (EventsResult, error) {
	return Fetch(ctx, c.fabric, func(ctx context.Context) (EventsResult, error) {
		reqURL := fmt.Sprintf("%s/api/calendar/events?ticker=%s", c.baseURL, url.QueryEscape(ticker))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return EventsResult{}, &TransientError{Endpoint: "events", Err: err}
		}
		req.Header.Set("X-API-Key", c.apiKey)

		resp, err := c.fabric.HTTPClient().Do(req)
		if err != nil {
			return EventsResult{}, &TransientError{Endpoint: "events", Err: err}
		}
		defer resp.Body.Close()

		if err := ClassifyHTTPStatus("events", resp.StatusCode); err != nil {
			return EventsResult{}, err
		}

		var wire eventsWire
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return EventsResult{}, &PermanentError{Endpoint: "events", Err: err}
		}

		now := c.now().UTC()
		cutoff := now.Add(30 * 24 * time.Hour)
		max := 0
		for _, evt := range wire.Events {
			eventDate, err := time.Parse(time.RFC3339, evt.Date)
			if err != nil {
				continue
			}
			if eventDate.Before(now) || eventDate.After(cutoff) {
				continue
			}
			if evt.RiskFactor > max {
				max = evt.RiskFactor
			}
		}
		if max < 0 {
			max = 0
		}
		if max > 10 {
			max = 10
		}
		return EventsResult{RiskFactor: max}, nil
	})
}
