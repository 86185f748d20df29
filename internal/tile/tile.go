package tile

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

type Priority int32

const (
	PriorityHigh Priority = iota
	PriorityLow
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

type Event int

const (
	EventLoaded Event = iota + 1
	EventUnrecoverableError
)

func (e Event) String() string {
	switch e {
	case EventLoaded:
		return "loaded"
	case EventUnrecoverableError:
		return "unrecoverable_error"
	default:
		return "unknown"
	}
}

// Listener receives the one-shot terminal notification of a tile. It runs
// on its own goroutine.
type Listener func(t *Tile, ev Event)

// State is a snapshot name of the tile lifecycle.
type State string

const (
	StateOffMap  State = "off_map"
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateFailed  State = "failed"
)

// Tile is one square image of the world bitmap. Flags are atomic so the
// render path never blocks on a fetch; the payload is guarded by mu.
type Tile struct {
	x, y, zoom int
	url        string

	loaded   atomic.Bool
	loading  atomic.Bool
	priority atomic.Int32

	mu       sync.RWMutex
	img      image.Image
	data     []byte
	err      error
	failedAt time.Time
	done     chan struct{}
	closed   bool

	lmu      sync.Mutex
	listener Listener
}

// New returns an unloaded tile that will be fetched from url.
func New(x, y, zoom int, url string, p Priority) *Tile {
	t := &Tile{
		x:    x,
		y:    y,
		zoom: zoom,
		url:  url,
		done: make(chan struct{}),
	}
	t.priority.Store(int32(p))
	return t
}

// NewOffMap returns a placeholder for an address outside the map. It has
// no url and is never loaded.
func NewOffMap(x, y, zoom int) *Tile {
	return New(x, y, zoom, "", PriorityLow)
}

// NewLoaded returns a tile already holding its payload, e.g. one restored
// from a durable cache tier.
func NewLoaded(x, y, zoom int, url string, img image.Image, data []byte) *Tile {
	t := New(x, y, zoom, url, PriorityHigh)
	t.img = img
	t.data = data
	t.loaded.Store(true)
	t.closed = true
	close(t.done)
	return t
}

func (t *Tile) X() int      { return t.x }
func (t *Tile) Y() int      { return t.y }
func (t *Tile) Zoom() int   { return t.zoom }
func (t *Tile) URL() string { return t.url }

// IsOffMap reports whether the tile is a placeholder without url.
func (t *Tile) IsOffMap() bool {
	return t.url == ""
}

func (t *Tile) IsLoaded() bool {
	return t.loaded.Load()
}

func (t *Tile) IsLoading() bool {
	return t.loading.Load()
}

// SetLoading marks the tile in flight. It is called by the fetch queue.
func (t *Tile) SetLoading(v bool) {
	t.loading.Store(v)
}

func (t *Tile) Priority() Priority {
	return Priority(t.priority.Load())
}

func (t *Tile) SetPriority(p Priority) {
	t.priority.Store(int32(p))
}

func (t *Tile) Image() image.Image {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.img
}

// Data returns the raw encoded image bytes.
func (t *Tile) Data() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.data
}

// Err returns the last error of an exhausted fetch.
func (t *Tile) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// FailedAt returns when the tile last exhausted its fetch attempts.
func (t *Tile) FailedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failedAt
}

func (t *Tile) IsFailed() bool {
	return t.Err() != nil
}

func (t *Tile) State() State {
	switch {
	case t.IsOffMap():
		return StateOffMap
	case t.IsLoaded():
		return StateLoaded
	case t.IsFailed():
		return StateFailed
	case t.IsLoading():
		return StateLoading
	default:
		return StateIdle
	}
}

// Done returns a channel closed when the tile reaches a terminal state.
// After ResetFailure a new channel is handed out.
func (t *Tile) Done() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.done
}

// Complete stores the payload, marks the tile loaded and fires EventLoaded.
func (t *Tile) Complete(img image.Image, data []byte) {
	t.mu.Lock()
	t.img = img
	t.data = data
	t.err = nil
	t.failedAt = time.Time{}
	t.loaded.Store(true)
	t.closeDone()
	t.mu.Unlock()

	t.fire(EventLoaded)
}

// Fail records err as the final error and fires EventUnrecoverableError.
// The tile stays unloaded.
func (t *Tile) Fail(err error) {
	t.mu.Lock()
	t.err = err
	t.failedAt = time.Now()
	t.closeDone()
	t.mu.Unlock()

	t.fire(EventUnrecoverableError)
}

// ResetFailure clears a recorded failure so the tile can be fetched again.
// It reports whether the tile was failed.
func (t *Tile) ResetFailure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err == nil {
		return false
	}
	t.err = nil
	t.failedAt = time.Time{}
	t.done = make(chan struct{})
	t.closed = false
	return true
}

// OnEvent registers fn as the tile's only listener, replacing any previous
// one. fn is invoked at most once. A tile already loaded or failed invokes
// fn right away.
func (t *Tile) OnEvent(fn Listener) {
	t.lmu.Lock()
	defer t.lmu.Unlock()

	switch {
	case t.IsLoaded():
		go fn(t, EventLoaded)
	case t.IsFailed():
		go fn(t, EventUnrecoverableError)
	default:
		t.listener = fn
	}
}

func (t *Tile) fire(ev Event) {
	t.lmu.Lock()
	fn := t.listener
	t.listener = nil
	t.lmu.Unlock()

	if fn != nil {
		go fn(t, ev)
	}
}

// closeDone must be called with mu held.
func (t *Tile) closeDone() {
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}
