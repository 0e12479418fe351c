// Package cache implements the two-level cache spec §4.3 requires: an
// in-process L1 (hashicorp/golang-lru's expirable LRU) layered in front of a
// shared L2 (Redis), with single-flight de-duplication of concurrent loaders
// and a monotonic version tag so a straggling invalidation can never clobber
// a newer write.
package cache

import "time"

// Namespace is one of the typed key namespaces from spec §4.3's table. Using
// a distinct namespace per data type, rather than a duck-typed shared cache,
// is what prevents ticker keys from colliding with client_id keys.
type Namespace string

const (
	NamespaceBorrowRate   Namespace = "borrow_rate"
	NamespaceVolatility   Namespace = "volatility"
	NamespaceEventRisk    Namespace = "event_risk"
	NamespaceBrokerConfig Namespace = "broker_config"
	NamespaceMinRate      Namespace = "min_rate"
	NamespaceLocateFee    Namespace = "locate_fee"
)

// TTLs bundles the L1/L2 TTL pair configured for one namespace.
type TTLs struct {
	L1 time.Duration
	L2 time.Duration
}
