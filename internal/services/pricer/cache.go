package pricer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL how long a fetched price is reused.
const DefaultTTL = 120 * time.Second

// sharedFetchTimeout bounds an upstream fetch shared by collapsed callers.
const sharedFetchTimeout = 30 * time.Second

// Cache stores prices per coin with expiry.
type Cache interface {
	Get(ctx context.Context, coins []string) (map[string]decimal.Decimal, error)
	Set(ctx context.Context, prices map[string]decimal.Decimal, ttl time.Duration) error
}

// Cached serves prices from cache and fetches only the missing coins from the wrapped oracle.
// Concurrent misses for the same coins share one upstream call.
type Cached struct {
	next   Oracle
	cache  Cache
	logger *zap.Logger
	group  singleflight.Group
	ttl    time.Duration
}

// NewCached wraps next with cache. A non-positive ttl uses DefaultTTL.
func NewCached(next Oracle, cache Cache, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *Cached) GetPrice(ctx context.Context, coin string) (decimal.Decimal, error) {
	return priceOf(ctx, c.GetPrices, coin)
}

// GetPrices returns cached prices plus freshly fetched ones. When the upstream
// fetch fails the cached subset is returned together with the error.
func (c *Cached) GetPrices(ctx context.Context, coins []string) (map[string]decimal.Decimal, error) {
	coins = normalizeCoins(coins)
	if len(coins) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	prices, err := c.cache.Get(ctx, coins)
	if err != nil {
		c.logger.Warn("price cache read failed", zap.Error(err))
		prices = nil
	}
	if prices == nil {
		prices = make(map[string]decimal.Decimal, len(coins))
	}

	missing := make([]string, 0, len(coins))
	for _, coin := range coins {
		if _, ok := prices[coin]; !ok {
			missing = append(missing, coin)
		}
	}
	if len(missing) == 0 {
		return prices, nil
	}

	// detached: a caller's deadline must not fail the others sharing the key.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strings.Join(missing, ","), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(detached, sharedFetchTimeout)
		defer cancel()

		fresh, err := c.next.GetPrices(fetchCtx, missing)
		if len(fresh) > 0 {
			if err := c.cache.Set(fetchCtx, fresh, c.ttl); err != nil {
				c.logger.Warn("price cache write failed", zap.Error(err))
			}
		}
		return fresh, err
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return prices, ctx.Err()
	}

	fresh, _ := res.Val.(map[string]decimal.Decimal)
	for coin, price := range fresh {
		prices[coin] = price
	}
	if res.Err != nil {
		return prices, res.Err
	}

	return prices, nil
}

type memoryItem struct {
	expires time.Time
	price   decimal.Decimal
}

// MemoryCache in-process price cache.
type MemoryCache struct {
	items map[string]memoryItem
	now   func() time.Time
	mu    sync.Mutex
}

// NewMemoryCache creates an empty cache using the wall clock.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(time.Now)
}

// NewMemoryCacheWithClock creates an empty cache reading time from now.
func NewMemoryCacheWithClock(now func() time.Time) *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: now}
}

func (m *MemoryCache) Get(_ context.Context, coins []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make(map[string]decimal.Decimal, len(coins))
	for _, coin := range coins {
		item, ok := m.items[coin]
		if !ok {
			continue
		}
		if !now.Before(item.expires) {
			delete(m.items, coin)
			continue
		}
		out[coin] = item.price
	}
	return out, nil
}

func (m *MemoryCache) Set(_ context.Context, prices map[string]decimal.Decimal, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires := m.now().Add(ttl)
	for coin, price := range prices {
		m.items[coin] = memoryItem{expires: expires, price: price}
	}
	return nil
}

const defaultRedisPrefix = "tokenledger:price:"

// RedisCache shares prices between processes through Redis.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache creates a cache storing keys under prefix. An empty prefix uses the default.
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, coins []string) (map[string]decimal.Decimal, error) {
	if len(coins) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	keys := make([]string, len(coins))
	for i, coin := range coins {
		keys[i] = r.prefix + coin
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget prices")
	}

	out := make(map[string]decimal.Decimal, len(coins))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decode cached price of %s", coins[i])
		}
		out[coins[i]] = price
	}
	return out, nil
}

func (r *RedisCache) Set(ctx context.Context, prices map[string]decimal.Decimal, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	for coin, price := range prices {
		pipe.Set(ctx, r.prefix+coin, price.String(), ttl)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "redis set prices")
}
