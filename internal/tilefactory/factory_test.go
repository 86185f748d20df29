package tilefactory

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/mapviewer/internal/provider"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/scheduler"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tile"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	mu       sync.Mutex
	enqueued []*tile.Tile
	promoted []*tile.Tile
	queued   map[*tile.Tile]bool
	failNext error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{queued: make(map[*tile.Tile]bool)}
}

func (s *fakeScheduler) Enqueue(t *tile.Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.enqueued = append(s.enqueued, t)
	s.queued[t] = true
	return nil
}

func (s *fakeScheduler) Promote(t *tile.Tile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.queued[t] || t.Priority() == tile.PriorityHigh {
		return false
	}
	t.SetPriority(tile.PriorityHigh)
	s.promoted = append(s.promoted, t)
	return true
}

func (s *fakeScheduler) IsQueued(t *tile.Tile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued[t]
}

// dequeue simulates a worker taking t.
func (s *fakeScheduler) dequeue(t *tile.Tile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queued, t)
}

func (s *fakeScheduler) enqueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enqueued)
}

func testProvider(t *testing.T) provider.Provider {
	t.Helper()
	p, err := provider.Lookup("openstreetmap")
	require.NoError(t, err)
	p.BaseURL = "http://tiles.test/"
	return p
}

func newTestFactory(t *testing.T, cfg Config, durable ...cache.NamedTier) (*Factory, *fakeScheduler, *cache.Chain) {
	t.Helper()
	chain, err := cache.NewChain(cache.DefaultMemoryCapacity, logger.NewNoOpLogger(), durable...)
	require.NoError(t, err)

	s := newFakeScheduler()
	f, err := New(testProvider(t), chain, s, cfg, logger.NewNoOpLogger())
	require.NoError(t, err)
	return f, s, chain
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestFactory_Wraparound(t *testing.T) {
	f, s, _ := newTestFactory(t, Config{})

	assert.Equal(t, 2, f.Levels().GridWidth(1))
	assert.Same(t, f.GetTile(0, 0, 1), f.GetTile(2, 0, 1))
	assert.Same(t, f.GetTile(-1, 0, 1), f.GetTile(1, 0, 1))
	assert.Equal(t, f.TileURL(-1, 3, 4), f.TileURL(f.Levels().GridWidth(4)-1, 3, 4))
	assert.Equal(t, "http://tiles.test/1/0/0.png", f.TileURL(2, 0, 1))

	assert.Equal(t, 2, s.enqueuedCount())
}

func TestFactory_OffMapTiles(t *testing.T) {
	f, s, chain := newTestFactory(t, Config{})

	for _, addr := range [][3]int{{0, 2, 1}, {0, -1, 1}, {0, 0, 0}, {0, 0, 16}, {0, 0, 99}} {
		tl := f.GetTile(addr[0], addr[1], addr[2])
		assert.True(t, tl.IsOffMap(), "addr=%v", addr)
		assert.Empty(t, tl.URL())
		assert.False(t, tl.IsLoaded())
		assert.Empty(t, f.TileURL(addr[0], addr[1], addr[2]))
	}

	assert.Zero(t, s.enqueuedCount())
	assert.Zero(t, chain.Memory().Len())
}

func TestFactory_MissEnqueuesAndCaches(t *testing.T) {
	f, s, chain := newTestFactory(t, Config{})

	tl := f.GetTile(1, 1, 2)
	assert.Equal(t, "http://tiles.test/2/1/1.png", tl.URL())
	assert.Equal(t, tile.PriorityHigh, tl.Priority())
	assert.False(t, tl.IsLoaded())

	cached, ok := chain.Memory().Peek(cache.TileCacheKey(tl.URL()))
	require.True(t, ok)
	assert.Same(t, tl, cached)
	assert.Equal(t, 1, s.enqueuedCount())

	low := f.Prefetch(2, 1, 2)
	assert.Equal(t, tile.PriorityLow, low.Priority())
}

func TestFactory_ConcurrentCallersShareOneTile(t *testing.T) {
	f, s, _ := newTestFactory(t, Config{})

	const callers = 64
	tiles := make([]*tile.Tile, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tiles[i] = f.GetTile(3, 3, 5)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, tl := range tiles {
		assert.Same(t, tiles[0], tl)
	}
	assert.Equal(t, 1, s.enqueuedCount())
}

func TestFactory_EagerHitPromotesLowTile(t *testing.T) {
	f, s, _ := newTestFactory(t, Config{})

	low := f.Prefetch(1, 1, 3)
	require.Equal(t, tile.PriorityLow, low.Priority())

	got := f.GetTile(1, 1, 3)
	assert.Same(t, low, got)
	assert.Equal(t, tile.PriorityHigh, got.Priority())
	assert.Equal(t, []*tile.Tile{low}, s.promoted)
	assert.Equal(t, 1, s.enqueuedCount())

	f.Prefetch(1, 1, 3)
	assert.Len(t, s.promoted, 1, "prefetch never promotes")
}

func TestFactory_FailedTileNotRetriedByDefault(t *testing.T) {
	f, s, _ := newTestFactory(t, Config{})

	tl := f.GetTile(0, 0, 1)
	s.dequeue(tl)
	tl.Fail(errors.New("gone"))

	assert.Same(t, tl, f.GetTile(0, 0, 1))
	assert.True(t, tl.IsFailed())
	assert.Equal(t, 1, s.enqueuedCount())
}

func TestFactory_FailedTileRetriedAfterDelay(t *testing.T) {
	f, s, _ := newTestFactory(t, Config{RetryAfter: time.Minute})

	now := time.Now()
	f.now = func() time.Time { return now }

	tl := f.GetTile(0, 0, 1)
	s.dequeue(tl)
	tl.Fail(errors.New("gone"))

	f.GetTile(0, 0, 1)
	assert.Equal(t, 1, s.enqueuedCount(), "too early")

	f.now = func() time.Time { return now.Add(2 * time.Minute) }
	f.Prefetch(0, 0, 1)
	assert.Equal(t, 1, s.enqueuedCount(), "prefetch does not retry failures")

	got := f.GetTile(0, 0, 1)
	assert.Same(t, tl, got)
	assert.False(t, got.IsFailed())
	assert.Equal(t, 2, s.enqueuedCount())
}

func TestFactory_IdleTileIsRequeued(t *testing.T) {
	f, s, _ := newTestFactory(t, Config{})
	s.failNext = scheduler.ErrQueueFull

	tl := f.GetTile(1, 0, 1)
	assert.Equal(t, tile.StateIdle, tl.State())
	assert.Zero(t, s.enqueuedCount())

	assert.Same(t, tl, f.GetTile(1, 0, 1))
	assert.Equal(t, 1, s.enqueuedCount())

	f.GetTile(1, 0, 1)
	assert.Equal(t, 1, s.enqueuedCount(), "queued tiles are not added twice")
}

func TestFactory_DurableHit(t *testing.T) {
	for _, promote := range []bool{true, false} {
		durable := cache.NewMapCache()
		f, s, chain := newTestFactory(t, Config{PromoteOnDurableHit: promote},
			cache.NamedTier{Name: "map", Cache: durable})

		url := f.TileURL(1, 1, 1)
		data := pngBytes(t)
		require.NoError(t, durable.Set(cache.TileCacheKey(url), data))

		tl := f.GetTile(1, 1, 1)
		assert.True(t, tl.IsLoaded(), "promote=%v", promote)
		assert.Equal(t, data, tl.Data())
		assert.Equal(t, image.Rect(0, 0, 4, 4), tl.Image().Bounds())
		assert.Zero(t, s.enqueuedCount())

		_, inMemory := chain.Memory().Peek(cache.TileCacheKey(url))
		assert.Equal(t, promote, inMemory, "promote=%v", promote)
	}
}

func TestFactory_CorruptDurableEntryIsRefetched(t *testing.T) {
	durable := cache.NewMapCache()
	f, s, _ := newTestFactory(t, Config{PromoteOnDurableHit: true},
		cache.NamedTier{Name: "map", Cache: durable})

	require.NoError(t, durable.Set(cache.TileCacheKey(f.TileURL(0, 1, 1)), []byte("junk")))

	tl := f.GetTile(0, 1, 1)
	assert.False(t, tl.IsLoaded())
	assert.Equal(t, 1, s.enqueuedCount())
}

func TestFactory_PrefetchAround(t *testing.T) {
	f, s, _ := newTestFactory(t, Config{})

	tiles := f.PrefetchAround(0, 0, 2, 1)

	// y = -1 is off the map; x = -1 wraps to 3.
	require.Len(t, tiles, 5)
	for _, tl := range tiles {
		assert.Equal(t, tile.PriorityLow, tl.Priority())
		assert.GreaterOrEqual(t, tl.X(), 0)
	}
	assert.Equal(t, 5, s.enqueuedCount())
	assert.Contains(t, tiles, f.Prefetch(3, 1, 2))
}

func TestFactory_FlushWritesLoadedTiles(t *testing.T) {
	durable := cache.NewMapCache()
	f, _, _ := newTestFactory(t, Config{}, cache.NamedTier{Name: "map", Cache: durable})

	tl := f.GetTile(1, 0, 1)
	tl.Complete(nil, []byte("bytes"))
	f.GetTile(0, 0, 1)

	written, err := f.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	v, ok, err := durable.Get(cache.TileCacheKey(tl.URL()))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cache.TileCacheValue("bytes"), v)
}

type stubFetcher struct {
	data []byte
}

func (s stubFetcher) Fetch(_ context.Context, _ string) (image.Image, []byte, error) {
	img, err := scheduler.Decode(s.data)
	return img, s.data, err
}

func TestFactory_WithRealScheduler(t *testing.T) {
	chain, err := cache.NewChain(2, nil)
	require.NoError(t, err)

	sched := scheduler.New(stubFetcher{data: pngBytes(t)}, scheduler.Config{}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})

	f, err := New(testProvider(t), chain, sched, Config{}, nil)
	require.NoError(t, err)

	events := make(chan tile.Event, 1)
	tl := f.GetTile(5, 7, 4)
	tl.OnEvent(func(_ *tile.Tile, ev tile.Event) { events <- ev })

	select {
	case ev := <-events:
		assert.Equal(t, tile.EventLoaded, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("tile never loaded")
	}
	assert.True(t, tl.IsLoaded())
	assert.Same(t, tl, f.GetTile(5, 7, 4))
}
