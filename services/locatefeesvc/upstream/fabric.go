// Package upstream implements the resilient transport fabric spec §4.2
// requires for the three heterogeneous upstream providers: a per-call
// timeout, bounded exponential-backoff retry, and a per-endpoint circuit
// breaker, composed in that order (timeout -> retry -> breaker).
package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Fabric wraps one upstream endpoint's HTTP access with the timeout, retry
// and circuit-breaker policies. It never panics or raises for protocol-level
// failures; Fetch returns a *TransientError or *PermanentError instead.
type Fabric struct {
	endpoint       string
	defaultTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker
	logger         *slog.Logger
	httpClient     *http.Client
}

// NewFabric constructs a Fabric for one endpoint. onStateChange may be nil;
// when set, it is notified of every breaker state transition (wire the
// server's metrics registry here without upstream importing it).
func NewFabric(endpoint string, defaultTimeout time.Duration, breakerSettings BreakerSettings, httpClient *http.Client, logger *slog.Logger, onStateChange StateChangeFunc) *Fabric {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fabric{
		endpoint:       endpoint,
		defaultTimeout: defaultTimeout,
		breaker:        newBreaker(breakerSettings, logger, onStateChange),
		logger:         logger,
		httpClient:     httpClient,
	}
}

// HTTPClient exposes the fabric's transport for callers building requests.
func (f *Fabric) HTTPClient() *http.Client { return f.httpClient }

// Fetch runs call under the fabric's timeout/retry/breaker composition. call
// must itself classify its own failures via ClassifyHTTPStatus or by
// returning a *PermanentError/*TransientError directly; any other error is
// treated as transient (connection failure, decode failure mid-retry, etc).
func Fetch[T any](ctx context.Context, f *Fabric, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	deadline := f.defaultTimeout
	callCtx := ctx
	if _, ok := ctx.Deadline(); !ok && deadline > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return retryWithContext(callCtx, func() (T, error) {
			return call(callCtx)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, transient(f.endpoint, err)
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return zero, err
		}
		var trans *TransientError
		if errors.As(err, &trans) {
			return zero, err
		}
		return zero, transient(f.endpoint, err)
	}
	v, _ := result.(T)
	return v, nil
}

// retryWithContext retries call up to 3 times total with exponential backoff
// (base 1s, factor 2, +/-10% jitter), stopping early on the caller's context
// or on a *PermanentError (4xx / schema violations are never retried).
func retryWithContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var last T
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.1
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx)

	op := func() error {
		v, err := call()
		last = v
		if err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, bounded); err != nil {
		var zero T
		var perm *PermanentError
		if errors.As(err, &perm) {
			return zero, err
		}
		return zero, transientErr(err)
	}
	return last, nil
}

func transientErr(err error) error {
	var t *TransientError
	if errors.As(err, &t) {
		return err
	}
	return &TransientError{Endpoint: "retry", Err: err}
}

// ClassifyHTTPStatus maps an HTTP status code into the transient/permanent
// taxonomy: 5xx and unexpected transport failures are transient; 4xx is
// permanent (never retried).
func ClassifyHTTPStatus(endpoint string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return transient(endpoint, errUnexpectedStatus(status))
	case status >= 400:
		return permanent(endpoint, errUnexpectedStatus(status))
	default:
		return transient(endpoint, errUnexpectedStatus(status))
	}
}

type unexpectedStatusError int

func (e unexpectedStatusError) Error() string {
	return "unexpected HTTP status"
}

func errUnexpectedStatus(status int) error {
	return unexpectedStatusError(status)
}
