package scheduler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tile"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeFetcher records fetch order. The first fetch of gateURL signals
// started and blocks until release is closed.
type fakeFetcher struct {
	mu      sync.Mutex
	order   []string
	calls   atomic.Int32
	gateURL string
	gate    sync.Once
	started chan struct{}
	release chan struct{}
	fn      func(ctx context.Context, url string, call int32) error
}

func newGatedFetcher(gateURL string) *fakeFetcher {
	return &fakeFetcher{
		gateURL: gateURL,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (image.Image, []byte, error) {
	call := f.calls.Add(1)

	f.mu.Lock()
	f.order = append(f.order, url)
	f.mu.Unlock()

	if url == f.gateURL && f.started != nil {
		f.gate.Do(func() { close(f.started) })
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	if f.fn != nil {
		if err := f.fn(ctx, url, call); err != nil {
			return nil, nil, err
		}
	}

	return image.NewRGBA(image.Rect(0, 0, 1, 1)), []byte(url), nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func waitDone(t *testing.T, tiles ...*tile.Tile) {
	t.Helper()
	for _, tl := range tiles {
		select {
		case <-tl.Done():
		case <-time.After(waitTimeout):
			t.Fatalf("tile %s did not finish", tl.URL())
		}
	}
}

func waitStarted(t *testing.T, f *fakeFetcher) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(waitTimeout):
		t.Fatal("gated fetch did not start")
	}
}

func newTestScheduler(t *testing.T, f Fetcher, cfg Config) *Scheduler {
	t.Helper()
	s := New(f, cfg, logger.NewNoOpLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func TestScheduler_HighBeforeLow(t *testing.T) {
	for _, lowFirst := range []bool{true, false} {
		f := newGatedFetcher("blocker")
		s := newTestScheduler(t, f, Config{})

		blocker := tile.New(0, 0, 1, "blocker", tile.PriorityHigh)
		low := tile.New(1, 0, 1, "low", tile.PriorityLow)
		high := tile.New(0, 1, 1, "high", tile.PriorityHigh)

		require.NoError(t, s.Enqueue(blocker))
		waitStarted(t, f)

		if lowFirst {
			require.NoError(t, s.Enqueue(low))
			require.NoError(t, s.Enqueue(high))
		} else {
			require.NoError(t, s.Enqueue(high))
			require.NoError(t, s.Enqueue(low))
		}
		close(f.release)

		waitDone(t, blocker, low, high)
		assert.Equal(t, []string{"blocker", "high", "low"}, f.fetched(), "lowFirst=%v", lowFirst)
	}
}

func TestScheduler_PromoteQueuedLowTile(t *testing.T) {
	f := newGatedFetcher("blocker")
	s := newTestScheduler(t, f, Config{})

	blocker := tile.New(0, 0, 1, "blocker", tile.PriorityHigh)
	first := tile.New(1, 0, 1, "first", tile.PriorityLow)
	second := tile.New(0, 1, 1, "second", tile.PriorityLow)

	require.NoError(t, s.Enqueue(blocker))
	waitStarted(t, f)
	require.NoError(t, s.Enqueue(first))
	require.NoError(t, s.Enqueue(second))

	assert.True(t, s.Promote(second))
	assert.False(t, s.Promote(second), "already high")
	assert.False(t, s.Promote(blocker), "in flight")
	assert.Equal(t, tile.PriorityHigh, second.Priority())

	close(f.release)
	waitDone(t, blocker, first, second)

	assert.Equal(t, []string{"blocker", "second", "first"}, f.fetched())
}

func TestScheduler_RetryBudgetExhausted(t *testing.T) {
	cause := errors.New("connection reset")
	f := &fakeFetcher{fn: func(context.Context, string, int32) error { return cause }}
	s := newTestScheduler(t, f, Config{})

	events := make(chan tile.Event, 1)
	tl := tile.New(0, 0, 1, "flaky", tile.PriorityHigh)
	tl.OnEvent(func(_ *tile.Tile, ev tile.Event) { events <- ev })

	require.NoError(t, s.Enqueue(tl))
	waitDone(t, tl)

	select {
	case ev := <-events:
		assert.Equal(t, tile.EventUnrecoverableError, ev)
	case <-time.After(waitTimeout):
		t.Fatal("no terminal event")
	}

	assert.EqualValues(t, DefaultAttempts, f.calls.Load())
	assert.False(t, tl.IsLoaded())
	assert.ErrorIs(t, tl.Err(), cause)

	assert.Eventually(t, func() bool { return !tl.IsLoading() }, waitTimeout, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, DefaultAttempts, f.calls.Load(), "failed tile must not be retried automatically")
	assert.Zero(t, s.Pending())
}

func TestScheduler_TransientFailureThenSuccess(t *testing.T) {
	f := &fakeFetcher{fn: func(_ context.Context, _ string, call int32) error {
		if call < 3 {
			return errors.New("temporary")
		}
		return nil
	}}
	s := newTestScheduler(t, f, Config{})

	tl := tile.New(0, 0, 1, "eventually", tile.PriorityHigh)
	require.NoError(t, s.Enqueue(tl))
	waitDone(t, tl)

	assert.True(t, tl.IsLoaded())
	assert.NoError(t, tl.Err())
	assert.EqualValues(t, 3, f.calls.Load())
}

func TestScheduler_PanicIsAnAttemptFailure(t *testing.T) {
	f := &fakeFetcher{fn: func(_ context.Context, url string, call int32) error {
		if url == "hostile" {
			panic("image: corrupt")
		}
		return nil
	}}
	s := newTestScheduler(t, f, Config{})

	hostile := tile.New(0, 0, 1, "hostile", tile.PriorityHigh)
	fine := tile.New(1, 0, 1, "fine", tile.PriorityLow)
	require.NoError(t, s.Enqueue(hostile))
	require.NoError(t, s.Enqueue(fine))
	waitDone(t, hostile, fine)

	assert.ErrorIs(t, hostile.Err(), ErrFetchPanic)
	assert.True(t, fine.IsLoaded(), "worker keeps running after a panic")
}

func TestScheduler_ConstantBackoff(t *testing.T) {
	f := &fakeFetcher{fn: func(context.Context, string, int32) error { return errors.New("down") }}
	s := newTestScheduler(t, f, Config{Retry: ConstantRetryPolicy(3, 20*time.Millisecond)})

	tl := tile.New(0, 0, 1, "down", tile.PriorityHigh)
	start := time.Now()
	require.NoError(t, s.Enqueue(tl))
	waitDone(t, tl)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.EqualValues(t, 3, f.calls.Load())
}

func TestScheduler_WorkerPool(t *testing.T) {
	f := &fakeFetcher{}
	s := newTestScheduler(t, f, Config{Workers: 4})

	tiles := make([]*tile.Tile, 20)
	for i := range tiles {
		tiles[i] = tile.New(i, 0, 5, "u"+string(rune('a'+i)), tile.PriorityLow)
		require.NoError(t, s.Enqueue(tiles[i]))
	}
	waitDone(t, tiles...)

	for _, tl := range tiles {
		assert.True(t, tl.IsLoaded())
	}
	assert.EqualValues(t, len(tiles), f.calls.Load())
}

func TestScheduler_Shutdown(t *testing.T) {
	f := &fakeFetcher{}
	s := New(f, Config{}, nil)

	tiles := []*tile.Tile{
		tile.New(0, 0, 1, "a", tile.PriorityLow),
		tile.New(1, 0, 1, "b", tile.PriorityLow),
	}
	for _, tl := range tiles {
		require.NoError(t, s.Enqueue(tl))
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	for _, tl := range tiles {
		assert.True(t, tl.IsLoaded(), "queued tiles are drained on shutdown")
	}

	err := s.Enqueue(tile.New(0, 1, 1, "late", tile.PriorityHigh))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScheduler_ShutdownDeadlineCancelsInflight(t *testing.T) {
	f := newGatedFetcher("stuck")
	s := New(f, Config{}, nil)

	tl := tile.New(0, 0, 1, "stuck", tile.PriorityHigh)
	require.NoError(t, s.Enqueue(tl))
	waitStarted(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)

	waitDone(t, tl)
	assert.False(t, tl.IsLoaded())
	assert.True(t, tl.IsFailed())
}

func TestScheduler_Cancel(t *testing.T) {
	f := newGatedFetcher("blocker")
	s := newTestScheduler(t, f, Config{})

	blocker := tile.New(0, 0, 1, "blocker", tile.PriorityHigh)
	unwanted := tile.New(1, 0, 1, "unwanted", tile.PriorityLow)

	require.NoError(t, s.Enqueue(blocker))
	waitStarted(t, f)
	require.NoError(t, s.Enqueue(unwanted))
	assert.True(t, s.IsQueued(unwanted))
	assert.True(t, s.Cancel(unwanted))
	assert.False(t, s.Cancel(unwanted))

	close(f.release)
	waitDone(t, blocker)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, []string{"blocker"}, f.fetched())
}

func TestHTTPFetcher(t *testing.T) {
	body := encodePNG(t)

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(body)
		case "/garbage.png":
			w.Write([]byte("<html>not an image</html>"))
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher("GuideHelperTest/1.0", time.Second)
	ctx := context.Background()

	img, data, err := f.Fetch(ctx, srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	assert.Equal(t, "GuideHelperTest/1.0", gotUA.Load())

	_, _, err = f.Fetch(ctx, srv.URL+"/missing.png")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	_, _, err = f.Fetch(ctx, srv.URL+"/garbage.png")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestQueue(t *testing.T) {
	q := NewQueue(2)

	a := tile.New(0, 0, 1, "a", tile.PriorityLow)
	b := tile.New(1, 0, 1, "b", tile.PriorityLow)
	c := tile.New(0, 1, 1, "c", tile.PriorityHigh)

	require.NoError(t, q.Push(a, tile.PriorityLow))
	require.NoError(t, q.Push(a, tile.PriorityLow), "duplicate push is a no-op")
	require.NoError(t, q.Push(b, tile.PriorityLow))
	assert.ErrorIs(t, q.Push(c, tile.PriorityHigh), ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	ctx := context.Background()
	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Same(t, a, got, "fifo within a priority")
	assert.True(t, a.IsLoading())

	require.NoError(t, q.Push(a, tile.PriorityHigh), "in flight tiles are not requeued")
	assert.Equal(t, 1, q.Len())

	q.Close()
	assert.ErrorIs(t, q.Push(c, tile.PriorityHigh), ErrClosed)

	got, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue(0)
	tl := tile.New(0, 0, 1, "later", tile.PriorityLow)

	got := make(chan *tile.Tile, 1)
	go func() {
		p, err := q.Pop(context.Background())
		if err == nil {
			got <- p
		}
	}()

	select {
	case <-got:
		t.Fatal("pop returned on an empty queue")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, q.Push(tl, tile.PriorityLow))
	select {
	case p := <-got:
		assert.Same(t, tl, p)
	case <-time.After(waitTimeout):
		t.Fatal("pop was not woken by push")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
