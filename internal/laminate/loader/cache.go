package loader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"laminate/internal/common/cache"
	"laminate/internal/common/logging"
)

// CompiledCache stores generated Lua keyed by template name, dialect and
// source hash, so an edited template never hits a stale script
type CompiledCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, script string) error
	// Invalidate drops every cached version of the named template
	Invalidate(ctx context.Context, name string) error
}

// CacheKey is the CompiledCache key for a template's current source as
// parsed with the named dialect
func CacheKey(name, dialect, source string) string {
	sum := md5.Sum([]byte(source))
	return name + ":" + dialect + ":" + hex.EncodeToString(sum[:])
}

// ScriptCache adapts a cache.Cache to CompiledCache
type ScriptCache struct {
	cache  cache.Cache
	ttl    time.Duration
	logger logging.Logger
}

// NewScriptCache wraps c; entries live for ttl (0 uses the backend default)
func NewScriptCache(c cache.Cache, ttl time.Duration) *ScriptCache {
	return &ScriptCache{
		cache:  c,
		ttl:    ttl,
		logger: logging.ForComponent("script-cache"),
	}
}

func (s *ScriptCache) Get(ctx context.Context, key string) (string, bool) {
	return s.cache.Get(ctx, key)
}

// Put stores a script. A failing backend is logged and ignored; the
// template is simply compiled again next time.
func (s *ScriptCache) Put(ctx context.Context, key, script string) error {
	if err := s.cache.Set(ctx, key, script, s.ttl); err != nil {
		s.logger.Warn("Failed to cache compiled script",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
	return nil
}

func (s *ScriptCache) Invalidate(ctx context.Context, name string) error {
	return s.cache.DeletePrefix(ctx, name+":")
}

// Flush drops every compiled script
func (s *ScriptCache) Flush(ctx context.Context) error {
	return s.cache.Clear(ctx)
}
