// Package cache keeps traversal results between runs so unchanged files are
// not walked again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/chris-regnier/callsite/internal/engine"
)

var ErrCacheMiss = errors.New("cache miss")

// Entry is one in-memory cached file result.
type Entry struct {
	Key       string
	Result    *engine.FileResult
	CreatedAt time.Time
	ExpiresAt time.Time
	HitCount  int64
}

// IsExpired returns true if the entry has expired
func (e *Entry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}

// Cache is a thread-safe in-memory result cache with TTL and a size bound.
// When full, the entry created first is evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	maxSize int
	ttl     time.Duration

	hits      int64
	misses    int64
	evictions int64
}

// Option configures a Cache
type Option func(*Cache)

// WithMaxSize sets the maximum number of entries
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		c.maxSize = n
	}
}

// WithTTL sets the default time-to-live for entries; zero never expires.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.ttl = d
	}
}

// New creates a new cache with the given options
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*Entry),
		maxSize: 4096,
		ttl:     time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the result stored under key if present and not expired.
func (c *Cache) Get(key string) (*engine.FileResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if entry.IsExpired() {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	entry.HitCount++
	c.hits++
	return entry.Result, true
}

// Set stores a result with the default TTL
func (c *Cache) Set(key string, res *engine.FileResult) {
	c.SetWithTTL(key, res, c.ttl)
}

// SetWithTTL stores a result with a custom TTL
func (c *Cache) SetWithTTL(key string, res *engine.FileResult, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	c.entries[key] = &Entry{
		Key:       key,
		Result:    res,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
}

// Delete removes an entry from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Size returns the current number of entries
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		HitRate:   hitRate,
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Evictions: c.evictions,
	}
}

// CacheStats holds cache statistics
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Evictions int64   `json:"evictions"`
}

// evictOldest must be called with the lock held.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// Cleanup removes all expired entries and returns how many it removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, entry := range c.entries {
		if entry.IsExpired() {
			delete(c.entries, key)
			count++
		}
	}
	return count
}

// GenerateKey hashes components into a fixed-length storage key. Runner
// cache keys contain ':' and vary in length, so they are hashed before use
// as file names.
func GenerateKey(components ...string) string {
	h := sha256.New()
	for i, comp := range components {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(comp))
	}
	return hex.EncodeToString(h.Sum(nil))
}
