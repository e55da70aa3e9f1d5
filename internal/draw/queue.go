// Package draw defers visual updates until the audio they belong to is
// actually audible. The scheduler posts an event stamped with the audio
// clock time of a tick; the presentation layer drains the queue once per
// rendered frame with the audio position the listener currently hears.
package draw

import (
	"container/heap"
	"sync"

	"github.com/cbegin/musicbox-go/internal/transport"
)

type event struct {
	at  transport.Time
	seq uint64
	fn  func()
}

type eventHeap []event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = event{}
	*h = old[:n-1]
	return ev
}

// Queue is safe for concurrent use. Callbacks run with the queue locked and
// must not call back into it.
type Queue struct {
	mu     sync.Mutex
	events eventHeap
	seq    uint64
}

func NewQueue() *Queue {
	return &Queue{}
}

// Schedule queues fn to run at the first Drain whose now is at or after at.
// Events with equal times run in the order they were scheduled.
func (q *Queue) Schedule(at transport.Time, fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.events, event{at: at, seq: q.seq, fn: fn})
	q.seq++
}

// Drain runs every event due at now and returns how many ran.
func (q *Queue) Drain(now transport.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for len(q.events) > 0 && q.events[0].at <= now {
		ev := heap.Pop(&q.events).(event)
		ev.fn()
		n++
	}
	return n
}

// Cancel drops every pending event. Nothing queued before Cancel returns
// will ever run.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = q.events[:0]
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
