package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"locatefeesvc/services/locatefeesvc/clockutil"
)

// entry is the on-wire shape stored at both L1 and L2. Version is a
// monotonic tag (StoredAt.UnixNano) so a write never regresses behind a
// stale value arriving out of order.
type entry struct {
	Version  int64           `json:"version"`
	StoredAt time.Time       `json:"stored_at"`
	Payload  json.RawMessage `json:"payload"`
}

// compareAndSet is the Lua script backing L2's version-guarded write: only
// overwrite the stored value if the new version is not older than what's
// there, and always (re)apply the TTL.
const compareAndSetScript = `
local existing = redis.call("GET", KEYS[1])
if existing then
  local ok, decoded = pcall(cjson.decode, existing)
  if ok and decoded.version and tonumber(decoded.version) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`

// Cache is the two-level cache shared by every read-through repository
// method and the rate engine.
type Cache struct {
	rdb    *redis.Client
	clock  clockutil.Clock
	logger *slog.Logger

	mu sync.Mutex
	l1 map[Namespace]*expirable.LRU[string, entry]
	sf map[Namespace]*singleflight.Group

	ttls map[Namespace]TTLs
	cas  *redis.Script

	// onResult, when set, is notified of every GetOrLoad outcome so the
	// server's metrics registry can track cache_results_total without this
	// package importing it.
	onResult func(ns Namespace, hit bool)
}

// OnResult registers a callback invoked after every GetOrLoad call with
// whether it was served from L1/L2 (hit) or ran the loader (miss).
func (c *Cache) OnResult(fn func(ns Namespace, hit bool)) {
	c.onResult = fn
}

// New constructs a Cache. ttls must contain an entry for every Namespace the
// caller intends to use; L1 size defaults to 4096 entries per namespace.
func New(rdb *redis.Client, ttls map[Namespace]TTLs, clock clockutil.Clock, logger *slog.Logger) *Cache {
	if clock == nil {
		clock = clockutil.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		rdb:    rdb,
		clock:  clock,
		logger: logger,
		l1:     make(map[Namespace]*expirable.LRU[string, entry]),
		sf:     make(map[Namespace]*singleflight.Group),
		ttls:   ttls,
		cas:    redis.NewScript(compareAndSetScript),
	}
	for ns, ttl := range ttls {
		l1ttl := ttl.L1
		if l1ttl <= 0 {
			// Namespaces with no L1 tier (min_rate, locate_fee) still get a
			// cheap, very short in-process cache so a burst of identical
			// requests within the same millisecond doesn't all hit L2.
			l1ttl = time.Second
		}
		c.l1[ns] = expirable.NewLRU[string, entry](4096, nil, l1ttl)
		c.sf[ns] = &singleflight.Group{}
	}
	return c
}

// GetOrLoad implements the contract of spec §4.3: L1 hit returns
// immediately; L1 miss checks L2 and refreshes L1 on hit; full miss runs
// loader at most once per process per in-flight key (single-flight), then
// writes L2 then L1. Cache write failures are logged and never fail the
// caller.
func GetOrLoad[T any](ctx context.Context, c *Cache, ns Namespace, key string, loader func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T

	if l1, ok := c.l1[ns]; ok {
		if e, ok := l1.Get(key); ok {
			var v T
			if err := json.Unmarshal(e.Payload, &v); err == nil {
				c.notifyResult(ns, true)
				return v, true, nil
			}
		}
	}

	if e, ok := c.getL2(ctx, ns, key); ok {
		var v T
		if err := json.Unmarshal(e.Payload, &v); err == nil {
			c.putL1(ns, key, e)
			c.notifyResult(ns, true)
			return v, true, nil
		}
	}

	sf := c.sf[ns]
	raw, err, _ := sf.Do(string(ns)+"|"+key, func() (interface{}, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, ns, key, v)
		return v, nil
	})
	c.notifyResult(ns, false)
	if err != nil {
		return zero, false, err
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false, errors.New("cache: loader returned unexpected type")
	}
	return v, false, nil
}

func (c *Cache) notifyResult(ns Namespace, hit bool) {
	if c.onResult != nil {
		c.onResult(ns, hit)
	}
}

// Put writes v into L2 then L1 under a fresh monotonic version tag. Write
// failures are logged and swallowed: a cache write never fails the caller.
func (c *Cache) Put(ctx context.Context, ns Namespace, key string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", "namespace", ns, "key", key, "error", err)
		return
	}
	e := entry{
		Version:  c.clock.Now().UnixNano(),
		StoredAt: c.clock.Now(),
		Payload:  payload,
	}
	c.putL2(ctx, ns, key, e)
	c.putL1(ns, key, e)
}

// Age reports how long ago the entry at (ns, key) was stored, used by the
// rate engine's "cached rate within 2xTTL" fallback rule. ok is false on a
// full miss.
func (c *Cache) Age(ctx context.Context, ns Namespace, key string) (time.Duration, bool) {
	if l1, ok := c.l1[ns]; ok {
		if e, ok := l1.Get(key); ok {
			return c.clock.Now().Sub(e.StoredAt), true
		}
	}
	if e, ok := c.getL2(ctx, ns, key); ok {
		return c.clock.Now().Sub(e.StoredAt), true
	}
	return 0, false
}

func (c *Cache) putL1(ns Namespace, key string, e entry) {
	l1, ok := c.l1[ns]
	if !ok {
		return
	}
	l1.Add(key, e)
}

func (c *Cache) putL2(ctx context.Context, ns Namespace, key string, e entry) {
	if c.rdb == nil {
		return
	}
	ttl := c.ttls[ns].L2
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	blob, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("cache L2 encode failed", "namespace", ns, "key", key, "error", err)
		return
	}
	redisKey := string(ns) + ":" + key
	if err := c.cas.Run(ctx, c.rdb, []string{redisKey}, string(blob), e.Version, ttl.Milliseconds()).Err(); err != nil {
		c.logger.Warn("cache L2 write failed", "namespace", ns, "key", key, "error", err)
	}
}

func (c *Cache) getL2(ctx context.Context, ns Namespace, key string) (entry, bool) {
	if c.rdb == nil {
		return entry{}, false
	}
	redisKey := string(ns) + ":" + key
	raw, err := c.rdb.Get(ctx, redisKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache L2 read failed", "namespace", ns, "key", key, "error", err)
		}
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.logger.Warn("cache L2 decode failed", "namespace", ns, "key", key, "error", err)
		return entry{}, false
	}
	return e, true
}

// Ping verifies the L2 Redis connection is reachable, for the health
// endpoint of spec §6.1. A cache with no Redis client (L1-only, as in tests)
// always reports healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Publish best-effort invalidates key across replicas via Redis pub/sub, per
// spec §4.3's "TTL + pub/sub" invalidation for borrow_rate and
// broker_config. A straggler arriving after a fresher write is harmless: the
// subscriber only ever drops its own L1 entry, and the next read re-checks
// L2's version-guarded value.
func (c *Cache) Publish(ctx context.Context, ns Namespace, key string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Publish(ctx, "invalidate:"+string(ns), key).Err(); err != nil {
		c.logger.Warn("cache invalidate publish failed", "namespace", ns, "key", key, "error", err)
	}
}

// Subscribe starts a goroutine that evicts the local L1 entry for ns whenever
// an invalidation message for that namespace arrives. Callers should invoke
// this once per namespace at startup for borrow_rate and broker_config.
func (c *Cache) Subscribe(ctx context.Context, ns Namespace) {
	if c.rdb == nil {
		return
	}
	sub := c.rdb.Subscribe(ctx, "invalidate:"+string(ns))
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if l1, ok := c.l1[ns]; ok {
					l1.Remove(msg.Payload)
				}
			}
		}
	}()
}
