// Package cache stores compiled template scripts.
//
// This package wraps:
//   - github.com/patrickmn/go-cache for local in-memory caching
//   - github.com/go-redis/redis/v8 for a cache shared between instances
//
// Four cache types are available:
//
// 1. None - every lookup misses; templates compile on every render
//
// 2. Local - in-process cache using go-cache, with TTL and periodic cleanup
//
// 3. Redis - shared cache; values are stored as plain strings under a key
// prefix, and a circuit breaker turns an unreachable Redis into misses
//
// 4. Two-Tier - local L1 (entries capped at five minutes) in front of Redis
//
// Keys are "<template name>:<md5 of source>", so DeletePrefix(name+":")
// drops every compiled version of a template.
//
// Usage:
//
//	c, err := cache.New(cache.Config{
//		Type:        cache.TypeTwoTier,
//		TTL:         time.Hour,
//		KeyPrefix:   "laminate:script:",
//		RedisClient: client.Redis(),
//	})
//	c.Set(ctx, "welcome:5d41402a", script, time.Hour)
//	script, found := c.Get(ctx, "welcome:5d41402a")
package cache
