package tilefactory

import (
	"fmt"
	"time"

	"github.com/jaennil/guide_helper/backend/mapviewer/internal/projection"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/provider"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/scheduler"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tile"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/paulmach/orb"
	"golang.org/x/sync/singleflight"
)

// Scheduler is the part of the fetch scheduler the factory drives.
type Scheduler interface {
	Enqueue(t *tile.Tile) error
	Promote(t *tile.Tile) bool
	IsQueued(t *tile.Tile) bool
}

type Config struct {
	// PromoteOnDurableHit inserts tiles restored from a durable tier into
	// the memory tier.
	PromoteOnDurableHit bool
	// RetryAfter is how long a failed tile is left alone before an eager
	// request fetches it again. Zero disables retries of failed tiles.
	RetryAfter time.Duration
}

// Factory hands out tiles by address. It owns no goroutines; fetching is
// left to the scheduler.
type Factory struct {
	provider  provider.Provider
	levels    *projection.ZoomLevels
	chain     *cache.Chain
	scheduler Scheduler
	cfg       Config
	logger    logger.Logger

	group singleflight.Group
	now   func() time.Time
}

func New(p provider.Provider, chain *cache.Chain, s Scheduler, cfg Config, l logger.Logger) (*Factory, error) {
	levels, err := p.ZoomLevels()
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name, err)
	}

	return &Factory{
		provider:  p,
		levels:    levels,
		chain:     chain,
		scheduler: s,
		cfg:       cfg,
		logger:    logger.OrNoOp(l),
		now:       time.Now,
	}, nil
}

func (f *Factory) Provider() provider.Provider {
	return f.provider
}

func (f *Factory) Levels() *projection.ZoomLevels {
	return f.levels
}

// GetTile returns the tile at (x, y, zoom) right away, loaded or not, and
// schedules a high priority fetch when needed.
func (f *Factory) GetTile(x, y, zoom int) *tile.Tile {
	return f.getTile(x, y, zoom, true)
}

// Prefetch is GetTile at low priority.
func (f *Factory) Prefetch(x, y, zoom int) *tile.Tile {
	return f.getTile(x, y, zoom, false)
}

// PrefetchAround prefetches the ring of tiles within radius of (x, y),
// skipping the center and off-map neighbours.
func (f *Factory) PrefetchAround(x, y, zoom, radius int) []*tile.Tile {
	var tiles []*tile.Tile
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			t := f.Prefetch(x+dx, y+dy, zoom)
			if !t.IsOffMap() {
				tiles = append(tiles, t)
			}
		}
	}
	return tiles
}

// Lookup returns the memory resident tile for an address without
// scheduling anything.
func (f *Factory) Lookup(x, y, zoom int) (*tile.Tile, bool) {
	url := f.TileURL(x, y, zoom)
	if url == "" {
		return nil, false
	}
	return f.chain.Memory().Peek(cache.TileCacheKey(url))
}

// Promote asks the scheduler to fetch a queued low priority tile sooner.
func (f *Factory) Promote(t *tile.Tile) bool {
	return f.scheduler.Promote(t)
}

// TileURL returns the cache key for an address after wraparound, or "" for
// off-map addresses.
func (f *Factory) TileURL(x, y, zoom int) string {
	x = f.levels.WrapX(x, zoom)
	if !f.levels.IsValidTile(x, y, zoom) {
		return ""
	}
	return f.provider.TileURL(x, y, zoom)
}

func (f *Factory) PixelFromGeo(pos projection.GeoPosition, zoom int) orb.Point {
	return f.levels.PixelFromGeo(pos, zoom)
}

func (f *Factory) GeoFromPixel(p orb.Point, zoom int) projection.GeoPosition {
	return f.levels.GeoFromPixel(p, zoom)
}

func (f *Factory) MapSize(zoom int) (width, height int) {
	return f.levels.MapSize(zoom)
}

// Flush pushes loaded memory tiles down to the durable tier.
func (f *Factory) Flush() (int, error) {
	return f.chain.Flush()
}

type lookup struct {
	tile    *tile.Tile
	created bool
}

func (f *Factory) getTile(x, y, zoom int, eager bool) *tile.Tile {
	x = f.levels.WrapX(x, zoom)

	if !f.levels.IsValidTile(x, y, zoom) {
		return tile.NewOffMap(x, y, zoom)
	}

	key := cache.TileCacheKey(f.provider.TileURL(x, y, zoom))

	if t, ok := f.chain.GetMemory(key); ok {
		f.refresh(t, eager)
		return t
	}

	v, _, _ := f.group.Do(string(key), func() (any, error) {
		return f.load(key, x, y, zoom, eager), nil
	})

	res := v.(lookup)
	if !res.created {
		f.refresh(res.tile, eager)
	}
	return res.tile
}

// load runs once per key at a time. The memory tier is checked again since
// another flight may have inserted the tile meanwhile.
func (f *Factory) load(key cache.TileCacheKey, x, y, zoom int, eager bool) lookup {
	if t, ok := f.chain.Memory().Peek(key); ok {
		return lookup{tile: t}
	}

	if data, tier, ok := f.chain.GetDurable(key); ok {
		img, err := scheduler.Decode(data)
		if err == nil {
			t := tile.NewLoaded(x, y, zoom, string(key), img, data)
			if f.cfg.PromoteOnDurableHit {
				f.chain.Put(key, t)
			}
			f.logger.Debug("tile restored from durable cache", "url", key, "tier", tier)
			return lookup{tile: t, created: true}
		}
		f.logger.Warn("durable cache entry is not an image, refetching", "url", key, "tier", tier, "error", err)
	}

	priority := tile.PriorityLow
	if eager {
		priority = tile.PriorityHigh
	}

	t := tile.New(x, y, zoom, string(key), priority)
	f.chain.Put(key, t)
	f.enqueue(t)

	return lookup{tile: t, created: true}
}

// refresh applies the hit rules to a cached tile: promote low priority
// tiles on eager access, retry failed tiles once RetryAfter has passed and
// requeue tiles left idle by a full queue.
func (f *Factory) refresh(t *tile.Tile, eager bool) {
	if t.IsOffMap() || t.IsLoaded() {
		return
	}

	if t.IsFailed() {
		if !eager || f.cfg.RetryAfter <= 0 || f.now().Sub(t.FailedAt()) < f.cfg.RetryAfter {
			return
		}
		if t.ResetFailure() {
			f.logger.Info("retrying failed tile", "url", t.URL())
			t.SetPriority(tile.PriorityHigh)
			f.enqueue(t)
		}
		return
	}

	if eager && t.Priority() == tile.PriorityLow {
		f.scheduler.Promote(t)
	}

	if !t.IsLoading() && !f.scheduler.IsQueued(t) {
		if eager {
			t.SetPriority(tile.PriorityHigh)
		}
		f.enqueue(t)
	}
}

func (f *Factory) enqueue(t *tile.Tile) {
	if err := f.scheduler.Enqueue(t); err != nil {
		f.logger.Warn("tile not scheduled, it stays idle until requested again", "url", t.URL(), "error", err)
	}
}
