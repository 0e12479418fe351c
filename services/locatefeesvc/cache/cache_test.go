package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"locatefeesvc/services/locatefeesvc/clockutil"
)

func testCache() *Cache {
	ttls := map[Namespace]TTLs{
		NamespaceBorrowRate: {L1: 60 * time.Second, L2: 300 * time.Second},
	}
	return New(nil, ttls, clockutil.NewFixed(time.Unix(0, 0)), nil)
}

func TestGetOrLoadCachesAfterFirstLoad(t *testing.T) {
	c := testCache()
	var calls int64
	loader := func(ctx context.Context) (string, error) {
		atomic.AddInt64(&calls, 1)
		return "loaded-value", nil
	}

	v, hit, err := GetOrLoad(context.Background(), c, NamespaceBorrowRate, "AAPL", loader)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, "loaded-value", v)

	v2, hit2, err := GetOrLoad(context.Background(), c, NamespaceBorrowRate, "AAPL", loader)
	require.NoError(t, err)
	require.True(t, hit2)
	require.Equal(t, "loaded-value", v2)
	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestKeyNormalization(t *testing.T) {
	require.Equal(t, Key("aapl"), Key(" AAPL "))
	require.NotEqual(t, Key("aapl"), Key("gme"))
}
