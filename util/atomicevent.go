package util

import (
	"sync"
)

// AtomicEvent holds the latest value of something that changes, together
// with a sequence number counting the updates. Readers poll Load and compare
// the sequence with the last one they handled; intermediate values are
// overwritten, so any number of readers can follow it without a channel.
type AtomicEvent[T any] struct {
	mu    sync.Mutex
	value T
	seq   uint64
}

func NewAtomicEvent[T any]() *AtomicEvent[T] {
	return &AtomicEvent[T]{}
}

// Send replaces the latest value. It never blocks.
func (ae *AtomicEvent[T]) Send(event T) {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	ae.value = event
	ae.seq++
}

// Value returns the latest value.
func (ae *AtomicEvent[T]) Value() T {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return ae.value
}

// Load returns the latest value and the number of Sends so far. Sequence 0
// means nothing was sent yet.
func (ae *AtomicEvent[T]) Load() (T, uint64) {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return ae.value, ae.seq
}
