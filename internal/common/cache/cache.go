package cache

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"

	"laminate/internal/circuitbreaker"
)

// l1MaxTTL caps how long the local tier of a TwoTierCache keeps an entry
const l1MaxTTL = 5 * time.Minute

// Cache stores compiled Lua scripts keyed by template name and source hash
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
	Exists(ctx context.Context, key string) (bool, error)
}

// NopCache never stores anything; every Get misses
type NopCache struct{}

func (NopCache) Get(context.Context, string) (string, bool)               { return "", false }
func (NopCache) Set(context.Context, string, string, time.Duration) error { return nil }
func (NopCache) Delete(context.Context, string) error                     { return nil }
func (NopCache) DeletePrefix(context.Context, string) error               { return nil }
func (NopCache) Clear(context.Context) error                              { return nil }
func (NopCache) Exists(context.Context, string) (bool, error)             { return false, nil }

// LocalCache wraps patrickmn/go-cache for in-memory caching
type LocalCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates a new local cache instance
func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the local cache
func (l *LocalCache) Get(ctx context.Context, key string) (string, bool) {
	v, found := l.cache.Get(key)
	if !found {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set stores a value in the local cache
func (l *LocalCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	l.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the local cache
func (l *LocalCache) Delete(ctx context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

// DeletePrefix removes every matching key from the local cache
func (l *LocalCache) DeletePrefix(ctx context.Context, prefix string) error {
	for key := range l.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			l.cache.Delete(key)
		}
	}
	return nil
}

// Clear removes all items from the local cache
func (l *LocalCache) Clear(ctx context.Context) error {
	l.cache.Flush()
	return nil
}

// Exists checks if a key exists
func (l *LocalCache) Exists(ctx context.Context, key string) (bool, error) {
	_, found := l.cache.Get(key)
	return found, nil
}

// Len returns the number of unexpired items
func (l *LocalCache) Len() int {
	return l.cache.ItemCount()
}

// RedisCache wraps go-redis for distributed caching. Scripts are stored as
// plain strings. When a breaker is set, an unreachable Redis turns every Get
// into a miss instead of slowing each render down.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	breaker   *circuitbreaker.Breaker
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// WithBreaker guards every Redis round trip with b
func (r *RedisCache) WithBreaker(b *circuitbreaker.Breaker) *RedisCache {
	r.breaker = b
	return r
}

func (r *RedisCache) do(ctx context.Context, fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	return r.breaker.Execute(ctx, fn)
}

// Get retrieves a value from Redis. Errors are reported as misses.
func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	var (
		val   string
		found bool
	)
	err := r.do(ctx, func() error {
		v, err := r.client.Get(ctx, r.keyPrefix+key).Result()
		if stderrors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	if err != nil {
		return "", false
	}
	return val, found
}

// Set stores a value in Redis
func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.do(ctx, func() error {
		return r.client.Set(ctx, r.keyPrefix+key, value, ttl).Err()
	})
}

// Delete removes a value from Redis
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.do(ctx, func() error {
		return r.client.Del(ctx, r.keyPrefix+key).Err()
	})
}

// DeletePrefix removes every key under keyPrefix+prefix
func (r *RedisCache) DeletePrefix(ctx context.Context, prefix string) error {
	return r.do(ctx, func() error {
		return r.deleteMatching(ctx, r.keyPrefix+prefix+"*")
	})
}

// Clear removes all items with the key prefix from Redis
func (r *RedisCache) Clear(ctx context.Context) error {
	return r.do(ctx, func() error {
		return r.deleteMatching(ctx, r.keyPrefix+"*")
	})
}

func (r *RedisCache) deleteMatching(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Exists checks if a key exists
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.do(ctx, func() error {
		var err error
		n, err = r.client.Exists(ctx, r.keyPrefix+key).Result()
		return err
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TwoTierCache keeps hot scripts in process (L1) in front of Redis (L2)
type TwoTierCache struct {
	l1 *LocalCache
	l2 *RedisCache
}

// NewTwoTierCache creates a cache with local L1 and Redis L2
func NewTwoTierCache(localTTL, cleanupInterval time.Duration, l2 *RedisCache) *TwoTierCache {
	return &TwoTierCache{
		l1: NewLocalCache(localTTL, cleanupInterval),
		l2: l2,
	}
}

// Get checks L1 first, then L2
func (t *TwoTierCache) Get(ctx context.Context, key string) (string, bool) {
	if val, found := t.l1.Get(ctx, key); found {
		return val, true
	}

	if val, found := t.l2.Get(ctx, key); found {
		t.l1.Set(ctx, key, val, l1MaxTTL)
		return val, true
	}

	return "", false
}

// Set stores in both L1 and L2
func (t *TwoTierCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	// L2 is the source of truth; a failed write there still fills L1
	err := t.l2.Set(ctx, key, value, ttl)
	t.l1.Set(ctx, key, value, capTTL(ttl))
	return err
}

// Delete removes from both L1 and L2
func (t *TwoTierCache) Delete(ctx context.Context, key string) error {
	t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

// DeletePrefix removes matching keys from both tiers
func (t *TwoTierCache) DeletePrefix(ctx context.Context, prefix string) error {
	t.l1.DeletePrefix(ctx, prefix)
	return t.l2.DeletePrefix(ctx, prefix)
}

// Clear removes all items from both caches
func (t *TwoTierCache) Clear(ctx context.Context) error {
	t.l1.Clear(ctx)
	return t.l2.Clear(ctx)
}

// Exists checks if a key exists in either cache
func (t *TwoTierCache) Exists(ctx context.Context, key string) (bool, error) {
	if exists, _ := t.l1.Exists(ctx, key); exists {
		return true, nil
	}
	return t.l2.Exists(ctx, key)
}

// Local returns the in-process tier, so a peer invalidation can drop it
// without touching Redis
func (t *TwoTierCache) Local() *LocalCache {
	return t.l1
}

func capTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > l1MaxTTL {
		return l1MaxTTL
	}
	return ttl
}

var (
	_ Cache = NopCache{}
	_ Cache = (*LocalCache)(nil)
	_ Cache = (*RedisCache)(nil)
	_ Cache = (*TwoTierCache)(nil)
)
