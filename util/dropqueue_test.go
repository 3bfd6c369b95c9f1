package util

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDropQueue_DropsNewestWhenFull(t *testing.T) {
	q := NewDropQueue[int](3)
	for i := range 5 {
		q.TryPush(i)
	}
	stats := q.Stats()
	assert.Equal(t, uint64(3), stats.Sent)
	assert.Equal(t, uint64(2), stats.Dropped)

	// the oldest items survive, in order
	for want := range 3 {
		got, err := q.Pop(10 * time.Millisecond)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDropQueue_PopTimeout(t *testing.T) {
	q := NewDropQueue[int](1)
	start := time.Now()
	_, err := q.Pop(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDropQueue_CloseWakesConsumer(t *testing.T) {
	q := NewDropQueue[int](1)
	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		_, err = q.Pop(5 * time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close() // second close is a no-op
	wg.Wait()
	assert.ErrorIs(t, err, ErrQueueClosed)

	assert.False(t, q.TryPush(1), "push after close must fail")
	assert.Equal(t, uint64(1), q.Stats().Dropped)
}

func TestDropQueue_ConcurrentProducers(t *testing.T) {
	q := NewDropQueue[int](50)
	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := range 100 {
				q.TryPush(p*1000 + i)
			}
		}(p)
	}
	wg.Wait()
	stats := q.Stats()
	assert.Equal(t, uint64(400), stats.Sent+stats.Dropped)
	assert.Equal(t, uint64(50), stats.Sent)
	assert.Equal(t, 50, q.Len())
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 350*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Current())
	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestDropQueue_TryPop(t *testing.T) {
	q := NewDropQueue[string](2)
	_, ok := q.TryPop()
	assert.False(t, ok)
	q.TryPush("a")
	v, ok := q.TryPop()
	assert.True(t, ok)
	assert.Equal(t, "a", v)
}
