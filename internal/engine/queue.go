package engine

import (
	"container/heap"
	"sync"

	"github.com/hollis-dev/tempest/internal/graph"
	"github.com/hollis-dev/tempest/internal/tag"
)

// event is one pending (tag, trigger, value) entry.
//
// seq is a process-wide arrival sequence number stamped at schedule time.
// It is the documented tie-break for events that race to the same tag
// (physical actions arriving "simultaneously"): same-tag events are
// delivered in arrival order, so the order is deterministic given the same
// arrival interleaving, never an unordered set.
type event struct {
	tag     tag.Tag
	trigger graph.TriggerID
	value   any
	seq     int64
}

// eventHeap orders events by (tag, arrival seq).
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if c := h[i].tag.Compare(h[j].tag); c != 0 {
		return c < 0
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil // release for GC
	*h = old[:n-1]
	return ev
}

// eventQueue is the thread-safe tag-ordered priority queue.
//
// Thread-safety exists for physical actions and stop requests arriving from
// other goroutines; the scheduler loop is the sole consumer. The signal
// channel (buffered, size 1, coalescing) lets the loop block context-aware
// while keepalive holds.
type eventQueue struct {
	mu     sync.Mutex
	heap   eventHeap
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		heap:   make(eventHeap, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Push inserts an event. Returns false if the queue is closed.
// Safe from any goroutine.
func (q *eventQueue) Push(ev *event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	heap.Push(&q.heap, ev)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// MinTag returns the smallest pending tag without removing anything.
func (q *eventQueue) MinTag() (tag.Tag, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return tag.Tag{}, false
	}
	return q.heap[0].tag, true
}

// PopTag removes and returns every event whose tag equals t, in arrival
// order. Multiple events at one tag are the fan-out case: they are all
// delivered within a single dispatch.
func (q *eventQueue) PopTag(t tag.Tag) []*event {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*event
	for len(q.heap) > 0 && q.heap[0].tag.Compare(t) == 0 {
		out = append(out, heap.Pop(&q.heap).(*event))
	}
	return out
}

// Poke fires the availability signal without enqueuing anything. Stop
// requests use it to wake a loop blocked in a keepalive wait.
func (q *eventQueue) Poke() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns the availability signal channel. It closes when the queue
// closes, so waiters always wake on shutdown.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close marks the queue closed and wakes all waiters. Pushes after Close
// are dropped; the stop request has already cancelled everything beyond
// the shutdown tag.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
