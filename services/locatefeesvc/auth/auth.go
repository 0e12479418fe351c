// Package auth implements C8: API-key authentication and a Redis-backed
// token-bucket rate limiter, per spec §4.8. Authentication never falls back
// to a degraded mode on upstream outage — a DB outage here surfaces as
// INTERNAL_ERROR, not an open door.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"locatefeesvc/services/locatefeesvc/repo"
)

// ErrMissingKey is returned when the request carries no API key at all.
var ErrMissingKey = errors.New("auth: missing api key")

// ErrInvalidKey is returned for an unknown, expired, or malformed key. The
// constant-time comparison guards only the digest equality step; lookups
// are keyed by digest, not compared one-by-one, so there is no timing
// channel for key enumeration either way.
var ErrInvalidKey = errors.New("auth: invalid or expired api key")

// keyLookup is the narrow slice of *repo.Repository authentication needs.
type keyLookup interface {
	GetAPIKey(ctx context.Context, keyHash string) (repo.ApiKey, bool, error)
}

// Principal is the authenticated identity attached to a request context.
type Principal struct {
	ClientID  string
	RateLimit int
}

type principalContextKey struct{}

// PrincipalFromContext extracts the Principal a prior call to Authenticate
// attached to ctx.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Authenticator verifies the X-API-Key header of spec §4.8 against the
// ApiKey table, hashing the raw key with SHA-256 before lookup so the
// database never stores (or the process never logs) a usable secret.
type Authenticator struct {
	repo keyLookup
	now  func() time.Time
}

// New constructs an Authenticator backed by repo's API-key table.
func New(r keyLookup) *Authenticator {
	return &Authenticator{repo: r, now: time.Now}
}

// HashKey returns the hex-encoded SHA-256 digest of a raw API key, the
// primary-key shape stored in ApiKey.KeyHash.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticate extracts X-API-Key from r, verifies it, and returns the
// resolved Principal.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (Principal, error) {
	raw := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if raw == "" {
		return Principal{}, ErrMissingKey
	}
	hash := HashKey(raw)
	key, found, err := a.repo.GetAPIKey(ctx, hash)
	if err != nil {
		return Principal{}, err
	}
	if !found {
		return Principal{}, ErrInvalidKey
	}
	// key.KeyHash was looked up by exact digest match at the DB layer, but we
	// re-verify in-process with a constant-time compare so the cache layer
	// GetAPIKey reads through can't be timed to leak digest bytes.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return Principal{}, ErrInvalidKey
	}
	if key.ExpiresAt != nil && a.now().After(*key.ExpiresAt) {
		return Principal{}, ErrInvalidKey
	}
	return Principal{ClientID: key.ClientID, RateLimit: key.RateLimit}, nil
}

// WithPrincipal attaches p to ctx for downstream handlers.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}
