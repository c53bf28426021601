package assembler

import (
	"strings"
	"sync"
)

// DefaultObservationCapacity bounds the pending observation queue.
const DefaultObservationCapacity = 64

// ObservationQueue is a bounded FIFO of short texts noticed between wakes. When full, the oldest
// observation is dropped. Delivery is best-effort.
type ObservationQueue struct {
	mu      sync.Mutex
	buf     []string
	head    int
	n       int
	dropped int64
}

func NewObservationQueue(capacity int) *ObservationQueue {
	if capacity <= 0 {
		capacity = DefaultObservationCapacity
	}
	return &ObservationQueue{buf: make([]string, capacity)}
}

// Push enqueues text. Blank text is ignored.
func (q *ObservationQueue) Push(text string) {
	if q == nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == len(q.buf) {
		q.buf[q.head] = ""
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
	}
	q.buf[(q.head+q.n)%len(q.buf)] = text
	q.n++
}

// Drain removes and returns every queued observation, oldest first.
func (q *ObservationQueue) Drain() []string {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return nil
	}
	out := make([]string, q.n)
	for i := 0; i < q.n; i++ {
		idx := (q.head + i) % len(q.buf)
		out[i] = q.buf[idx]
		q.buf[idx] = ""
	}
	q.head = 0
	q.n = 0
	return out
}

func (q *ObservationQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Dropped counts observations discarded on overflow since creation.
func (q *ObservationQueue) Dropped() int64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
