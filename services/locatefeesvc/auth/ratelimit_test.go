package auth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRateLimiter(rdb)
}

func TestRateLimiterAllowsWithinCapacity(t *testing.T) {
	l := testLimiter(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		res, err := l.Allow(ctx, "client-a", 60)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}

func TestRateLimiterRejectsOverCapacity(t *testing.T) {
	l := testLimiter(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := l.Allow(ctx, "client-b", 2)
		require.NoError(t, err)
	}
	res, err := l.Allow(ctx, "client-b", 2)
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestRateLimiterBucketsAreIndependentPerClient(t *testing.T) {
	l := testLimiter(t)
	ctx := context.Background()
	_, err := l.Allow(ctx, "client-c", 1)
	require.NoError(t, err)
	res, err := l.Allow(ctx, "client-c", 1)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	other, err := l.Allow(ctx, "client-d", 1)
	require.NoError(t, err)
	require.True(t, other.Allowed)
}
