package router

import (
	"sort"
	"sync"
)

// boundedQueue is a thread-safe bounded queue ordered by priority
// (highest first), FIFO within equal priority.
type boundedQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*task
	capacity int
	closed   bool
}

// newBoundedQueue creates a queue holding at most capacity tasks.
func newBoundedQueue(capacity int) *boundedQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &boundedQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a task at its priority position. Fails with ErrQueueFull
// at capacity and ErrQueueClosed after Close.
func (q *boundedQueue) Push(t *task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}

	// Insert before the first task with strictly lower priority; equal
	// priorities keep arrival order.
	idx := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].priority < t.priority
	})
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = t

	q.cond.Signal()
	return nil
}

// Pop blocks until a task is available or the queue is closed. The second
// return is false once the queue is closed and drained.
func (q *boundedQueue) Pop() (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Clear drops every pending task and returns how many were dropped.
func (q *boundedQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	return n
}

// Close wakes any blocked Pop; pending tasks may still be drained.
func (q *boundedQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Depth returns the number of pending tasks.
func (q *boundedQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
