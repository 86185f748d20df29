package cache

import (
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tile"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/metrics"
)

const MemoryTier = "memory"

// Chain is the memory tier followed by ordered durable tiers. Evictions
// from memory flow into the first durable tier.
type Chain struct {
	memory  *LRUCache
	durable []NamedTier
	logger  logger.Logger
}

func NewChain(capacity int, l logger.Logger, durable ...NamedTier) (*Chain, error) {
	l = logger.OrNoOp(l)

	var child TileCache
	if len(durable) > 0 {
		child = durable[0].Cache
	}

	memory, err := NewLRUCache(capacity, child, l)
	if err != nil {
		return nil, err
	}

	return &Chain{
		memory:  memory,
		durable: durable,
		logger:  l,
	}, nil
}

func (c *Chain) Memory() *LRUCache {
	return c.memory
}

// Tiers lists the tier names in lookup order.
func (c *Chain) Tiers() []string {
	names := []string{MemoryTier}
	for _, d := range c.durable {
		names = append(names, d.Name)
	}
	return names
}

// GetMemory looks k up in the memory tier only.
func (c *Chain) GetMemory(k TileCacheKey) (*tile.Tile, bool) {
	t, ok := c.memory.Get(k)
	if ok {
		metrics.CacheHits.WithLabelValues(MemoryTier).Inc()
	}
	return t, ok
}

// GetDurable consults durable tiers in order and stops at the first hit.
// A failing tier is logged and treated as a miss.
func (c *Chain) GetDurable(k TileCacheKey) (TileCacheValue, string, bool) {
	for _, d := range c.durable {
		v, ok, err := d.Cache.Get(k)
		if err != nil {
			c.logger.Warn("durable cache lookup failed", "tier", d.Name, "url", k, "error", err)
			continue
		}
		if ok {
			metrics.CacheHits.WithLabelValues(d.Name).Inc()
			return v, d.Name, true
		}
	}

	metrics.CacheMisses.Inc()
	return nil, "", false
}

// Put inserts t into the memory tier.
func (c *Chain) Put(k TileCacheKey, t *tile.Tile) {
	c.memory.Set(k, t)
}

// Flush pushes memory resident tiles down to the first durable tier.
func (c *Chain) Flush() (int, error) {
	return c.memory.Flush()
}
