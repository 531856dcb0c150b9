package engine

import (
	"sync"
	"time"
)

// dequeuePollInterval bounds how long a blocked Dequeue waits before
// re-checking for shutdown.
const dequeuePollInterval = 500 * time.Millisecond

// Entry is the minimal tuple kept in the queue. The richer Task record
// lives in the engine's task map, so reordering entries never mutates
// task identity.
type Entry struct {
	TaskID string
	Input  string
}

// Queue is a thread-safe, reorderable FIFO of pending entries.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool

	wake    chan struct{} // buffered; nudges one blocked Dequeue
	closeCh chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		wake:    make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Enqueue appends an entry and wakes one waiting worker.
func (q *Queue) Enqueue(e Entry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue blocks until an entry is available or the queue is closed.
// The returned entry is removed atomically; ok is false on shutdown.
func (q *Queue) Dequeue() (e Entry, ok bool) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			e = q.entries[0]
			q.entries = q.entries[1:]
			q.mu.Unlock()
			return e, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Entry{}, false
		}

		select {
		case <-q.wake:
		case <-q.closeCh:
		case <-time.After(dequeuePollInterval):
		}
	}
}

// Move shifts the entry for taskID one place up (-1) or down (+1),
// swapping it with its neighbor under the same lock Dequeue uses, so a
// move can never race with a concurrent pop. Boundary moves and unknown
// IDs are no-ops; it returns whether a swap happened.
func (q *Queue) Move(taskID string, direction int) bool {
	if direction != -1 && direction != 1 {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].TaskID != taskID {
			continue
		}
		j := i + direction
		if j < 0 || j >= len(q.entries) {
			return false
		}
		q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
		return true
	}
	return false
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a copy of the queued entries in order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Close wakes all blocked Dequeue calls; they drain remaining entries
// and then report shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.closeCh)
}
