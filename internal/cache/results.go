package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chris-regnier/callsite/internal/engine"
)

var cacheTracer = otel.Tracer("github.com/chris-regnier/callsite/internal/cache")

var _ engine.ResultCache = (*ResultCache)(nil)

// storedResult is the on-disk form of a cached file result.
type storedResult struct {
	Key       string             `json:"key"`
	Result    *engine.FileResult `json:"result"`
	Timestamp int64              `json:"timestamp"`
}

// ResultCache serves file results from memory first and from storage on a
// memory miss, warming memory on a storage hit. Storage failures degrade to
// misses; they never fail a run.
type ResultCache struct {
	mem    *Cache
	disk   Storage
	ttl    time.Duration
	logger *slog.Logger
}

// ResultCacheOption configures a ResultCache.
type ResultCacheOption func(*ResultCache)

// WithStorage adds a persistent tier.
func WithStorage(s Storage) ResultCacheOption {
	return func(c *ResultCache) {
		c.disk = s
	}
}

// WithMemory replaces the default in-memory tier.
func WithMemory(m *Cache) ResultCacheOption {
	return func(c *ResultCache) {
		c.mem = m
	}
}

// WithResultTTL bounds how old a stored entry may be; zero keeps entries
// forever.
func WithResultTTL(d time.Duration) ResultCacheOption {
	return func(c *ResultCache) {
		c.ttl = d
	}
}

// WithCacheLogger sets the logger for storage failures.
func WithCacheLogger(l *slog.Logger) ResultCacheOption {
	return func(c *ResultCache) {
		c.logger = l
	}
}

// NewResultCache returns a memory-only cache unless WithStorage is given.
func NewResultCache(opts ...ResultCacheOption) *ResultCache {
	c := &ResultCache{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.mem == nil {
		c.mem = New(WithTTL(c.ttl))
	}
	return c
}

// Lookup implements engine.ResultCache.
func (c *ResultCache) Lookup(ctx context.Context, key string) (*engine.FileResult, bool) {
	ctx, span := cacheTracer.Start(ctx, "cache lookup")
	defer span.End()

	hashed := GenerateKey(key)
	span.SetAttributes(attribute.String("callsite.cache.key", hashed))

	if res, ok := c.mem.Get(hashed); ok {
		span.SetAttributes(attribute.Bool("callsite.cache.hit", true), attribute.String("callsite.cache.tier", "memory"))
		return res, true
	}
	if c.disk == nil {
		span.SetAttributes(attribute.Bool("callsite.cache.hit", false))
		return nil, false
	}

	data, err := c.disk.Get(ctx, hashed)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Debug("cache read failed", "key", hashed, "err", err)
		}
		span.SetAttributes(attribute.Bool("callsite.cache.hit", false))
		return nil, false
	}

	var stored storedResult
	if err := json.Unmarshal(data, &stored); err != nil || stored.Result == nil || stored.Key != key {
		c.logger.Debug("discarding unreadable cache entry", "key", hashed, "err", err)
		_ = c.disk.Delete(ctx, hashed)
		span.SetAttributes(attribute.Bool("callsite.cache.hit", false))
		return nil, false
	}
	if c.ttl > 0 && time.Since(time.Unix(stored.Timestamp, 0)) > c.ttl {
		_ = c.disk.Delete(ctx, hashed)
		span.SetAttributes(attribute.Bool("callsite.cache.hit", false), attribute.Bool("callsite.cache.expired", true))
		return nil, false
	}

	c.mem.Set(hashed, stored.Result)
	span.SetAttributes(attribute.Bool("callsite.cache.hit", true), attribute.String("callsite.cache.tier", "storage"))
	return stored.Result, true
}

// Save implements engine.ResultCache.
func (c *ResultCache) Save(ctx context.Context, key string, res *engine.FileResult) {
	ctx, span := cacheTracer.Start(ctx, "cache store")
	defer span.End()

	hashed := GenerateKey(key)
	span.SetAttributes(attribute.String("callsite.cache.key", hashed))

	c.mem.Set(hashed, res)
	if c.disk == nil {
		return
	}

	data, err := json.Marshal(storedResult{Key: key, Result: res, Timestamp: time.Now().Unix()})
	if err == nil {
		err = c.disk.Put(ctx, hashed, data)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("cache write failed", "path", res.Path, "err", err)
	}
}

// Stats reports the in-memory tier's counters.
func (c *ResultCache) Stats() CacheStats {
	return c.mem.Stats()
}
