package eventlog

import (
	"container/list"
	"sync"

	"github.com/fleetshift/deployctl/internal/domain"
)

// BoundedQueue decouples event producers from a (possibly slow) downstream
// sink: Emit is always non-blocking. When the queue is full, the oldest
// non-terminal in_progress event is dropped to make room; started and
// terminal (finished/failed) events, and stage-level error events, are
// never dropped (spec.md section 5).
type BoundedQueue struct {
	downstream domain.EventSink
	capacity   int

	mu      sync.Mutex
	cond    *sync.Cond
	buf     *list.List
	closed  bool
	wg      sync.WaitGroup
}

func NewBoundedQueue(downstream domain.EventSink, capacity int) *BoundedQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &BoundedQueue{downstream: downstream, capacity: capacity, buf: list.New()}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.drain()
	return q
}

func (q *BoundedQueue) Emit(e domain.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	if q.buf.Len() >= q.capacity {
		if !q.evictOldestInProgress() {
			// Nothing droppable (every buffered event is started/terminal/
			// error); grow rather than drop a protected event.
		}
	}
	q.buf.PushBack(e)
	q.cond.Signal()
}

// evictOldestInProgress removes the oldest in_progress event from the
// buffer, if any, returning whether it found one to remove.
func (q *BoundedQueue) evictOldestInProgress() bool {
	for el := q.buf.Front(); el != nil; el = el.Next() {
		ev := el.Value.(domain.Event)
		if ev.Error == nil && ev.State == domain.TaskInProgress {
			q.buf.Remove(el)
			return true
		}
	}
	return false
}

func (q *BoundedQueue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for q.buf.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.buf.Len() == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		el := q.buf.Front()
		q.buf.Remove(el)
		q.mu.Unlock()

		q.downstream.Emit(el.Value.(domain.Event))
	}
}

// Close stops accepting new events immediately (later Emit calls are
// dropped) and blocks until every already-buffered event has reached the
// downstream sink.
func (q *BoundedQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	q.wg.Wait()
}

var _ domain.EventSink = (*BoundedQueue)(nil)
