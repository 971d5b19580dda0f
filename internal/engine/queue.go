package engine

import "sync"

// workQueue is a thread-safe FIFO of event ids waiting for dispatch.
//
// An id in the queue means "look at this id's pending mutations again". The
// dispatch loop decides whether anything can be sent; enqueuing the same id
// twice is harmless.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the dispatch loop.
type workQueue struct {
	mu     sync.Mutex
	ids    []string
	queued map[string]bool
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

// newWorkQueue creates an empty queue.
func newWorkQueue() *workQueue {
	return &workQueue{
		ids:    make([]string, 0, 16),
		queued: make(map[string]bool),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an id to the back of the queue unless it is already waiting.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *workQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if !q.queued[id] {
		q.queued[id] = true
		q.ids = append(q.ids, id)
	}

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns ("", false) if queue is empty.
func (q *workQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	delete(q.queued, id)
	if len(q.ids) == 1 {
		q.ids = q.ids[:0]
	} else {
		q.ids = q.ids[1:]
	}
	return id, true
}

// Wait returns a channel that signals when ids may be available.
// The channel is closed when the queue is closed.
func (q *workQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Close signals that no more ids will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *workQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
