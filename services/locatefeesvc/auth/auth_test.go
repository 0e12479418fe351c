package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"locatefeesvc/services/locatefeesvc/repo"
)

type fakeKeyLookup struct {
	keys map[string]repo.ApiKey
}

func (f fakeKeyLookup) GetAPIKey(ctx context.Context, keyHash string) (repo.ApiKey, bool, error) {
	k, ok := f.keys[keyHash]
	return k, ok, nil
}

func TestAuthenticateSuccess(t *testing.T) {
	raw := "sk_live_abc123"
	hash := HashKey(raw)
	lookup := fakeKeyLookup{keys: map[string]repo.ApiKey{
		hash: {KeyHash: hash, ClientID: "broker-1", RateLimit: 120},
	}}
	a := New(lookup)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/AAPL", nil)
	req.Header.Set("X-API-Key", raw)

	p, err := a.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "broker-1", p.ClientID)
	require.Equal(t, 120, p.RateLimit)
}

func TestAuthenticateMissingKey(t *testing.T) {
	a := New(fakeKeyLookup{keys: map[string]repo.ApiKey{}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/AAPL", nil)
	_, err := a.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestAuthenticateUnknownKey(t *testing.T) {
	a := New(fakeKeyLookup{keys: map[string]repo.ApiKey{}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/AAPL", nil)
	req.Header.Set("X-API-Key", "nope")
	_, err := a.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestAuthenticateExpiredKey(t *testing.T) {
	raw := "sk_live_expired"
	hash := HashKey(raw)
	past := time.Now().Add(-time.Hour)
	lookup := fakeKeyLookup{keys: map[string]repo.ApiKey{
		hash: {KeyHash: hash, ClientID: "broker-2", ExpiresAt: &past},
	}}
	a := New(lookup)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/AAPL", nil)
	req.Header.Set("X-API-Key", raw)
	_, err := a.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidKey)
}
