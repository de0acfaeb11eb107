package hls

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// TTLCache wraps a private ristretto.Cache as the concurrent,
// lazily-evicted TTL cache spec.md §5 calls for (playlist/key/segment
// caches: "concurrent maps with TTL; eviction is cooperative (lazy on
// read + periodic sweep)" — exactly ristretto's own documented
// eviction model). An Orchestrator holds one TTLCache instance, for
// decryption keys; playlists and segments are not cached.
type TTLCache[T any] struct {
	cache *ristretto.Cache
}

// NewTTLCache returns a TTLCache sized for roughly maxItems entries.
func NewTTLCache[T any](maxItems int64) (*TTLCache[T], error) {
	if maxItems <= 0 {
		maxItems = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &TTLCache[T]{cache: c}, nil
}

// Set stores value under key with the given TTL and cost 1. It blocks
// until the set has propagated through ristretto's internal buffers, so
// a Get immediately following Set observes it deterministically (tests
// rely on this).
func (c *TTLCache[T]) Set(key string, value T, ttl time.Duration) {
	c.cache.SetWithTTL(key, value, 1, ttl)
	c.cache.Wait()
}

// Get returns the cached value for key, if present and unexpired.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := c.cache.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Del evicts key immediately.
func (c *TTLCache[T]) Del(key string) {
	c.cache.Del(key)
}

// Close releases the underlying ristretto cache's background goroutines.
func (c *TTLCache[T]) Close() {
	c.cache.Close()
}
