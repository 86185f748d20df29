package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tile"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/metrics"
)

var (
	ErrQueueFull = errors.New("fetch queue is full")
	ErrClosed    = errors.New("fetch queue is closed")
)

const DefaultQueueCapacity = 1024

type item struct {
	tile     *tile.Tile
	priority tile.Priority
	seq      uint64
	index    int
}

// itemHeap orders by priority, then by insertion sequence.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a bounded priority queue of tiles. High priority tiles always
// leave before low priority ones; ties leave in insertion order. Pop
// blocks on the wake channel instead of polling.
type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	byTile   map[*tile.Tile]*item
	seq      uint64
	capacity int
	closed   bool
	wake     chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		byTile:   make(map[*tile.Tile]*item),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Push adds t at priority p. A tile that is already queued, in flight or
// loaded is not added twice; a queued low priority tile pushed again at
// high priority is promoted.
func (q *Queue) Push(t *tile.Tile, p tile.Priority) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	if it, ok := q.byTile[t]; ok {
		if p == tile.PriorityHigh {
			q.promoteLocked(it)
		}
		q.mu.Unlock()
		return nil
	}

	if t.IsLoading() || t.IsLoaded() {
		q.mu.Unlock()
		return nil
	}

	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}

	q.seq++
	it := &item{tile: t, priority: p, seq: q.seq}
	heap.Push(&q.items, it)
	q.byTile[t] = it
	t.SetPriority(p)
	metrics.QueueDepth.Set(float64(len(q.items)))

	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop removes the highest priority tile and marks it in flight. It blocks
// while the queue is empty and returns ErrClosed once the queue is closed
// and drained.
func (q *Queue) Pop(ctx context.Context) (*tile.Tile, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := heap.Pop(&q.items).(*item)
			delete(q.byTile, it.tile)
			it.tile.SetLoading(true)
			remaining := len(q.items)
			metrics.QueueDepth.Set(float64(remaining))
			q.mu.Unlock()

			if remaining > 0 {
				q.signal()
			}
			return it.tile, nil
		}
		if q.closed {
			q.mu.Unlock()
			q.signal()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Promote moves a queued low priority tile behind the queued high priority
// ones. It reports whether anything changed.
func (q *Queue) Promote(t *tile.Tile) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byTile[t]
	if !ok {
		return false
	}
	return q.promoteLocked(it)
}

func (q *Queue) promoteLocked(it *item) bool {
	if it.priority == tile.PriorityHigh {
		return false
	}
	q.seq++
	it.priority = tile.PriorityHigh
	it.seq = q.seq
	heap.Fix(&q.items, it.index)
	it.tile.SetPriority(tile.PriorityHigh)
	return true
}

// Remove drops a queued tile. It reports whether the tile was queued.
func (q *Queue) Remove(t *tile.Tile) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byTile[t]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byTile, t)
	metrics.QueueDepth.Set(float64(len(q.items)))
	return true
}

func (q *Queue) Contains(t *tile.Tile) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.byTile[t]
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Close stops accepting tiles. Queued tiles can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
