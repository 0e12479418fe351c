package upstream

import "fmt"

// TransientError wraps a failure the fallback chain should absorb: timeouts,
// connection failures, 5xx responses, and an open circuit breaker.
type TransientError struct {
	Endpoint string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("upstream %s: transient: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that must surface as-is: 4xx responses and
// schema violations. Permanent failures never trigger a fallback.
type PermanentError struct {
	Endpoint string
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("upstream %s: permanent: %v", e.Endpoint, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func transient(endpoint string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Endpoint: endpoint, Err: err}
}

func permanent(endpoint string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Endpoint: endpoint, Err: err}
}
