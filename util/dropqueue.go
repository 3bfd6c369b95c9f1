package util

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueClosed  = errors.New("queue closed")
	ErrQueueTimeout = errors.New("queue receive timed out")
)

// QueueStats are the counters of a DropQueue.
type QueueStats struct {
	Sent    uint64
	Dropped uint64
}

// DropQueue is a fixed-capacity FIFO with a drop-newest overflow policy.
// TryPush never blocks and is safe to call from real-time callback threads.
// A single consumer drains it with Pop.
type DropQueue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	stats     QueueStats
}

// NewDropQueue creates a queue that holds at most capacity items.
func NewDropQueue[T any](capacity int) *DropQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &DropQueue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// TryPush enqueues item if there is room. When the queue is full or closed
// the item is discarded, the drop counter is incremented and false is returned.
func (q *DropQueue[T]) TryPush(item T) bool {
	if q.closed.Load() {
		atomic.AddUint64(&q.stats.Dropped, 1)
		return false
	}
	select {
	case q.ch <- item:
		atomic.AddUint64(&q.stats.Sent, 1)
		return true
	default:
		atomic.AddUint64(&q.stats.Dropped, 1)
		return false
	}
}

// Pop waits at most timeout for the next item. It returns ErrQueueTimeout when
// nothing arrived and ErrQueueClosed once the queue has been closed.
func (q *DropQueue[T]) Pop(timeout time.Duration) (T, error) {
	var zero T
	if q.closed.Load() {
		return zero, ErrQueueClosed
	}
	if item, ok := q.TryPop(); ok {
		return item, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		return zero, ErrQueueClosed
	case <-timer.C:
		return zero, ErrQueueTimeout
	}
}

// TryPop returns the next item if one is buffered.
func (q *DropQueue[T]) TryPop() (T, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of queued items.
func (q *DropQueue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the capacity of the queue.
func (q *DropQueue[T]) Cap() int {
	return cap(q.ch)
}

// Stats returns a snapshot of the counters.
func (q *DropQueue[T]) Stats() QueueStats {
	return QueueStats{
		Sent:    atomic.LoadUint64(&q.stats.Sent),
		Dropped: atomic.LoadUint64(&q.stats.Dropped),
	}
}

// Close wakes up a waiting consumer. Items still buffered are discarded.
// Calling Close more than once is a no-op.
func (q *DropQueue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}
