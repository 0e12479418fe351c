package upstream

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings mirrors spec §4.2's per-endpoint breaker table: N
// consecutive failures within the sliding window trips CLOSED->OPEN; after
// Timeout the breaker allows a HALF_OPEN probe; K consecutive successes in
// HALF_OPEN close it again, any failure reopens it.
type BreakerSettings struct {
	Name               string
	ConsecutiveFailures uint32
	Window             time.Duration
	OpenTimeout        time.Duration
	HalfOpenSuccesses  uint32
}

// SecLendBreakerSettings, VolatilityBreakerSettings and EventsBreakerSettings
// are the concrete per-endpoint thresholds from spec §4.2.
var (
	SecLendBreakerSettings = BreakerSettings{
		Name:                "seclend",
		ConsecutiveFailures: 5,
		Window:              30 * time.Second,
		OpenTimeout:         60 * time.Second,
		HalfOpenSuccesses:   3,
	}
	VolatilityBreakerSettings = BreakerSettings{
		Name:                "volatility",
		ConsecutiveFailures: 3,
		Window:              30 * time.Second,
		OpenTimeout:         30 * time.Second,
		HalfOpenSuccesses:   2,
	}
	EventsBreakerSettings = BreakerSettings{
		Name:                "events",
		ConsecutiveFailures: 5,
		Window:              30 * time.Second,
		OpenTimeout:         60 * time.Second,
		HalfOpenSuccesses:   2,
	}
)

// StateChangeFunc is notified of every breaker state transition, so the
// server's metrics registry can increment breaker_state_changes_total
// without package upstream importing package metrics.
type StateChangeFunc func(endpoint, state string)

func newBreaker(s BreakerSettings, logger *slog.Logger, onStateChange StateChangeFunc) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenSuccesses,
		Interval:    s.Window,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if onStateChange != nil {
				onStateChange(name, to.String())
			}
		},
	})
}
