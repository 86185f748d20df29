package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tile"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/metrics"
)

const DefaultMemoryCapacity = 20

// LRUCache is the memory tier. It holds live tiles, bounded at a fixed
// capacity, and writes each evicted loaded tile through to its child.
// Every operation runs under mu, eviction included.
type LRUCache struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[TileCacheKey, *tile.Tile]
	child  TileCache
	logger logger.Logger
}

// NewLRUCache creates the memory tier. child may be nil.
func NewLRUCache(capacity int, child TileCache, l logger.Logger) (*LRUCache, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}

	c := &LRUCache{
		child:  child,
		logger: logger.OrNoOp(l),
	}

	lru, err := simplelru.NewLRU[TileCacheKey, *tile.Tile](capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	c.lru = lru

	return c, nil
}

// Get returns the tile for k and marks it most recently used.
func (c *LRUCache) Get(k TileCacheKey) (*tile.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Get(k)
}

// Peek returns the tile for k without touching the recency order.
func (c *LRUCache) Peek(k TileCacheKey) (*tile.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Peek(k)
}

// Set inserts or replaces the tile for k. Crossing capacity evicts exactly
// one least recently used entry.
func (c *LRUCache) Set(k TileCacheKey, t *tile.Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(k, t)
}

func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// Keys returns resident keys from least to most recently used.
func (c *LRUCache) Keys() []TileCacheKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Keys()
}

// Flush writes every resident loaded tile to the child tier. Entries stay
// resident. It returns how many tiles were written.
func (c *LRUCache) Flush() (int, error) {
	if c.child == nil {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		written int
		errs    []error
	)
	for _, k := range c.lru.Keys() {
		t, ok := c.lru.Peek(k)
		if !ok || !t.IsLoaded() {
			continue
		}
		if err := c.child.Set(k, t.Data()); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", k, err))
			continue
		}
		written++
	}

	c.logger.Info("memory cache flushed", "written", written, "resident", c.lru.Len())

	return written, errors.Join(errs...)
}

// onEvict runs inside lru.Add, so mu is already held.
func (c *LRUCache) onEvict(k TileCacheKey, t *tile.Tile) {
	metrics.CacheEvictions.Inc()

	if c.child == nil || !t.IsLoaded() {
		c.logger.Debug("evicted tile dropped", "url", k, "state", t.State())
		return
	}

	if err := c.child.Set(k, t.Data()); err != nil {
		metrics.CacheWriteThroughErrors.Inc()
		c.logger.Error("failed to write evicted tile through", "url", k, "error", err)
		return
	}

	c.logger.Debug("evicted tile written through", "url", k)
}
