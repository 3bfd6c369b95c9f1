package output

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/dmx"
)

// fakePort records writes and detects overlapping writers.
type fakePort struct {
	delay   time.Duration
	block   chan struct{}
	fail    atomic.Bool
	active  atomic.Int32
	overlap atomic.Bool
	closes  atomic.Int32

	mu     sync.Mutex
	writes [][]byte
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.active.Add(-1)
	if p.block != nil {
		<-p.block
	}
	time.Sleep(p.delay)
	if p.fail.Load() {
		return 0, errors.New("device unplugged")
	}
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.mu.Unlock()
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closes.Add(1)
	return nil
}

func (p *fakePort) last() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		return nil
	}
	return p.writes[len(p.writes)-1]
}

func outputConfig() config.OutputConfig {
	return config.OutputConfig{
		WriteTimeout:     50 * time.Millisecond,
		FailureThreshold: 3,
		ReconnectMin:     time.Millisecond,
		ReconnectMax:     4 * time.Millisecond,
	}
}

func opener(p Port) (Opener, *atomic.Int32) {
	var n atomic.Int32
	return func() (Port, error) {
		n.Add(1)
		return p, nil
	}, &n
}

func TestSend_AtMostOneWriter(t *testing.T) {
	port := &fakePort{delay: 2 * time.Millisecond}
	open, _ := opener(port)
	ch := New(outputConfig(), open)

	var wg sync.WaitGroup
	var busy atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			frame := &dmx.Frame{}
			for range 25 {
				if errors.Is(ch.Send(frame), ErrBusy) {
					busy.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.False(t, port.overlap.Load(), "writes must never overlap")
	stats := ch.Stats()
	assert.Equal(t, uint64(200), stats.Sent+stats.Dropped)
	assert.Equal(t, uint64(busy.Load()), stats.Dropped)
	assert.Positive(t, busy.Load(), "concurrent senders are turned away")
	assert.Positive(t, stats.Sent)
}

func TestSend_EncodesFrame(t *testing.T) {
	port := &fakePort{}
	open, _ := opener(port)
	ch := New(outputConfig(), open)
	var frame dmx.Frame
	frame.Set(1, 255)
	frame.Set(512, 7)
	require.NoError(t, ch.Send(&frame))
	assert.Equal(t, dmx.EncodeFrame(&frame), port.last())
}

func TestSend_TimeoutKeepsChannelBusy(t *testing.T) {
	port := &fakePort{block: make(chan struct{})}
	open, _ := opener(port)
	ch := New(outputConfig(), open)

	start := time.Now()
	err := ch.Send(&dmx.Frame{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, ch.Send(&dmx.Frame{}), ErrBusy, "the stuck write still owns the port")

	close(port.block)
	require.Eventually(t, func() bool { return ch.Send(&dmx.Frame{}) == nil }, time.Second, time.Millisecond)
	assert.False(t, port.overlap.Load())
	assert.Equal(t, 0, ch.Stats().Failures)
}

func TestSend_StuckWriteDegradesAndReopens(t *testing.T) {
	stuck := &fakePort{block: make(chan struct{})}
	t.Cleanup(func() { close(stuck.block) })
	healthy := &fakePort{}
	var opens atomic.Int32
	ch := New(outputConfig(), func() (Port, error) {
		if opens.Add(1) == 1 {
			return stuck, nil
		}
		return healthy, nil
	})
	var degraded atomic.Int32
	ch.OnDegraded = func(error) { degraded.Add(1) }

	assert.ErrorIs(t, ch.Send(&dmx.Frame{}), ErrTimeout)
	for i := 0; i < 10 && !ch.Degraded(); i++ {
		assert.ErrorIs(t, ch.Send(&dmx.Frame{}), ErrBusy)
	}
	require.True(t, ch.Degraded(), "busy ticks behind a stuck write count as failures")
	assert.Equal(t, int32(1), degraded.Load())
	assert.Equal(t, int32(1), stuck.closes.Load(), "the stuck port is closed")

	require.Eventually(t, func() bool { return ch.Send(&dmx.Frame{}) == nil }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), opens.Load())
	assert.False(t, ch.Degraded())
	assert.NotNil(t, healthy.last())
}

func TestSend_BusyWithoutTimeoutIsNoFailure(t *testing.T) {
	port := &fakePort{delay: 20 * time.Millisecond}
	open, _ := opener(port)
	ch := New(outputConfig(), open)

	done := make(chan error)
	go func() { done <- ch.Send(&dmx.Frame{}) }()
	require.Eventually(t, func() bool { return port.active.Load() == 1 }, time.Second, time.Millisecond)
	for range 5 {
		assert.ErrorIs(t, ch.Send(&dmx.Frame{}), ErrBusy)
	}
	assert.Equal(t, 0, ch.Stats().Failures)
	require.NoError(t, <-done)
}

func TestSend_DegradesAndRecovers(t *testing.T) {
	port := &fakePort{}
	port.fail.Store(true)
	open, opens := opener(port)
	ch := New(outputConfig(), open)

	var degraded, recovered atomic.Int32
	ch.OnDegraded = func(error) { degraded.Add(1) }
	ch.OnRecovered = func() { recovered.Add(1) }

	for i := 0; i < 20 && !ch.Degraded(); i++ {
		ch.Send(&dmx.Frame{})
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, ch.Degraded())
	for range 5 {
		ch.Send(&dmx.Frame{})
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int32(1), degraded.Load(), "hook fires once")
	assert.Greater(t, opens.Load(), int32(1), "failed ports are reopened")
	assert.Positive(t, port.closes.Load())

	port.fail.Store(false)
	require.Eventually(t, func() bool { return ch.Send(&dmx.Frame{}) == nil }, time.Second, 5*time.Millisecond)
	assert.False(t, ch.Degraded())
	assert.Equal(t, int32(1), recovered.Load())
	assert.Equal(t, 0, ch.Stats().Failures)
}

func TestSend_OpenFailureBacksOff(t *testing.T) {
	var attempts atomic.Int32
	cfg := outputConfig()
	cfg.ReconnectMin = time.Hour
	cfg.ReconnectMax = time.Hour
	ch := New(cfg, func() (Port, error) {
		attempts.Add(1)
		return nil, errors.New("no such device")
	})
	for range 5 {
		assert.ErrorIs(t, ch.Send(&dmx.Frame{}), ErrNotConnected)
	}
	assert.Equal(t, int32(1), attempts.Load(), "no reopen before the backoff delay")
	assert.True(t, ch.Degraded())
	assert.Equal(t, uint64(5), ch.Stats().Dropped)
}

func TestClose_Idempotent(t *testing.T) {
	port := &fakePort{}
	open, _ := opener(port)
	ch := New(outputConfig(), open)

	var frame dmx.Frame
	frame.Set(3, 200)
	require.NoError(t, ch.Send(&frame))

	assert.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())
	assert.Equal(t, int32(1), port.closes.Load())
	assert.Equal(t, dmx.EncodeFrame(&dmx.Frame{}), port.last(), "close blacks out")
	assert.ErrorIs(t, ch.Send(&frame), ErrClosed)
}

func TestClose_NeverOpened(t *testing.T) {
	ch := New(outputConfig(), func() (Port, error) { return nil, errors.New("unused") })
	assert.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(&dmx.Frame{}), ErrClosed)
}
