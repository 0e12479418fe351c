// Package fallback implements the centralized provenance table of spec
// §4.11: for each data source, a primary lookup, a cached fallback on
// transient failure, and either a default value or a hard failure on full
// outage, so the audit trail can be proven from inputs alone.
package fallback

import (
	"errors"

	"locatefeesvc/services/locatefeesvc/upstream"
)

// Provenance tags record which source supplied a value in a given
// calculation, per the glossary.
type Provenance string

const (
	ProvenanceAPI            Provenance = "api"
	ProvenanceCache          Provenance = "cache"
	ProvenanceFallback       Provenance = "fallback"
	ProvenanceStoredMinimum  Provenance = "stored_minimum"
	ProvenanceDefault        Provenance = "default"
)

// Resolve implements one row of spec §4.11's table for a market-data source
// (borrow rate, volatility, event risk): try primary; on transient failure
// fall back to a cached value if present; otherwise use the default. err is
// only non-nil for a permanent (non-transient) primary failure, which must
// surface as-is.
func Resolve[T any](
	primary func() (T, error),
	cached func() (T, bool),
	def T,
) (T, Provenance, error) {
	v, err := primary()
	if err == nil {
		return v, ProvenanceAPI, nil
	}
	if !isTransient(err) {
		var zero T
		return zero, "", err
	}
	if cv, ok := cached(); ok {
		return cv, ProvenanceCache, nil
	}
	return def, ProvenanceDefault, nil
}

// ResolveIdentity implements the identity-bearing row shape (broker, stock):
// primary, then a cached fallback within window, then a hard failure — there
// is no default value fallback, because these rows are identity-bearing, not
// market data.
func ResolveIdentity[T any](
	primary func() (T, error),
	cached func() (T, bool),
	notFound error,
) (T, Provenance, error) {
	v, err := primary()
	if err == nil {
		return v, ProvenanceAPI, nil
	}
	if !isTransient(err) {
		var zero T
		return zero, "", err
	}
	if cv, ok := cached(); ok {
		return cv, ProvenanceCache, nil
	}
	var zero T
	return zero, "", notFound
}

func isTransient(err error) bool {
	var t *upstream.TransientError
	return errors.As(err, &t)
}
