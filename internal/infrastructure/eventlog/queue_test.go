package eventlog

import (
	"reflect"
	"sync"
	"testing"

	"github.com/fleetshift/deployctl/internal/domain"
)

// blockingSink stalls its first Emit call until release is closed, so a
// test can push events past the queue's capacity while the drain
// goroutine is known to be stuck delivering the first one.
type blockingSink struct {
	first   chan struct{}
	release chan struct{}
	once    sync.Once

	mu       sync.Mutex
	received []domain.Event
}

func (s *blockingSink) Emit(e domain.Event) {
	s.once.Do(func() {
		close(s.first)
		<-s.release
	})
	s.mu.Lock()
	s.received = append(s.received, e)
	s.mu.Unlock()
}

func (s *blockingSink) tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	for i, e := range s.received {
		out[i] = e.Task
	}
	return out
}

func TestBoundedQueue_EvictsOldestInProgressWhenFull(t *testing.T) {
	sink := &blockingSink{first: make(chan struct{}), release: make(chan struct{})}
	q := NewBoundedQueue(sink, 2)

	q.Emit(domain.Event{Task: "a", State: domain.TaskStarted})
	<-sink.first // drain has pulled "a" off the buffer and is blocked delivering it

	q.Emit(domain.Event{Task: "b", State: domain.TaskInProgress})
	q.Emit(domain.Event{Task: "c", State: domain.TaskInProgress})
	// The buffer is now full (capacity 2: "b", "c"); this push must evict
	// the oldest in_progress event ("b") rather than grow unbounded.
	q.Emit(domain.Event{Task: "d", State: domain.TaskInProgress})

	close(sink.release)
	q.Close()

	want := []string{"a", "c", "d"}
	if got := sink.tasks(); !reflect.DeepEqual(got, want) {
		t.Fatalf("tasks = %v, want %v ('b' should have been evicted)", got, want)
	}
}

func TestBoundedQueue_GrowsRatherThanDropsWhenNothingEvictable(t *testing.T) {
	sink := &blockingSink{first: make(chan struct{}), release: make(chan struct{})}
	q := NewBoundedQueue(sink, 2)

	q.Emit(domain.Event{Task: "a", State: domain.TaskStarted})
	<-sink.first

	// None of these are in_progress, so none is evictable: started and
	// finished events are both protected.
	q.Emit(domain.Event{Task: "b", State: domain.TaskStarted})
	q.Emit(domain.Event{Task: "c", State: domain.TaskFinished})
	// The buffer is already at capacity (2: "b", "c") and holds nothing
	// droppable, so this push must grow the buffer instead of dropping "c".
	q.Emit(domain.Event{Task: "d", State: domain.TaskFinished})

	close(sink.release)
	q.Close()

	want := []string{"a", "b", "c", "d"}
	if got := sink.tasks(); !reflect.DeepEqual(got, want) {
		t.Fatalf("tasks = %v, want %v (no event should have been dropped)", got, want)
	}
}
