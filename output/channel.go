// Package output owns the connection to the DMX widget and guarantees that
// at most one frame is on the wire at any time.
package output

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/dmx"
	"lautenbacher.net/golights/util"
)

var (
	ErrBusy         = errors.New("output busy")
	ErrTimeout      = errors.New("output write timed out")
	ErrClosed       = errors.New("output closed")
	ErrNotConnected = errors.New("output not connected")
)

// Port is the byte sink of a widget, a serial port or a simulation.
type Port interface {
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens the port, again after a failure.
type Opener func() (Port, error)

type closedPort struct{}

func (closedPort) Write([]byte) (int, error) { return 0, ErrClosed }
func (closedPort) Close() error              { return nil }

// Stats are the counters of a Channel.
type Stats struct {
	Sent       uint64
	Dropped    uint64
	Failures   int // consecutive
	Reconnects uint64
	Degraded   bool
}

// Channel sends frames to a port. Send never starts a write while another
// one is in flight; a write that exceeds the timeout keeps the channel busy
// until it returns or, once the failure threshold is reached, until the port
// is closed and abandoned.
type Channel struct {
	cfg  config.OutputConfig
	open Opener

	// OnDegraded is called once when consecutive failures reach the
	// threshold, OnRecovered on the first success afterwards. Set both
	// before the first Send.
	OnDegraded  func(err error)
	OnRecovered func()

	busy    atomic.Bool
	sent    atomic.Uint64
	dropped atomic.Uint64

	mu         sync.Mutex
	port       Port
	closed     bool
	failures   int
	degraded   bool
	reconnects uint64
	backoff    *util.Backoff
	nextOpen   time.Time

	// gen identifies the write that owns busy; stuck is set while a
	// timed-out write has not returned.
	gen   uint64
	stuck bool
}

// New creates a channel. The port is opened lazily by the first Send.
func New(cfg config.OutputConfig, open Opener) *Channel {
	return &Channel{
		cfg:     cfg,
		open:    open,
		backoff: util.NewBackoff(cfg.ReconnectMin, cfg.ReconnectMax),
	}
}

// Send writes one frame. It returns ErrBusy without waiting when a write is
// in flight, ErrTimeout when the write does not complete in time. While a
// timed-out write is still pending every ErrBusy counts as a failure.
func (c *Channel) Send(frame *dmx.Frame) error {
	if !c.busy.CompareAndSwap(false, true) {
		c.dropped.Add(1)
		c.checkStuck()
		return ErrBusy
	}
	port, err := c.connect()
	if err != nil {
		c.busy.Store(false)
		c.dropped.Add(1)
		if !errors.Is(err, ErrClosed) {
			c.failed(err, false)
		}
		return err
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	done := make(chan error, 1)
	buf := dmx.EncodeFrame(frame)
	go func() {
		_, err := port.Write(buf)
		c.mu.Lock()
		if c.gen == gen {
			c.stuck = false
			c.busy.Store(false)
		}
		c.mu.Unlock()
		done <- err
	}()

	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case err = <-done:
	case <-timer.C:
		err = ErrTimeout
		c.mu.Lock()
		if c.gen == gen && c.busy.Load() {
			c.stuck = true
		}
		c.mu.Unlock()
	}
	if err != nil {
		c.dropped.Add(1)
		c.failed(err, !errors.Is(err, ErrTimeout))
		return err
	}
	c.sent.Add(1)
	c.succeeded()
	return nil
}

// checkStuck counts a failure for a write that outlived its timeout. At the
// threshold the port is closed, which unblocks a serial write, and the
// pending write is abandoned so the next Send reopens after the backoff.
func (c *Channel) checkStuck() {
	c.mu.Lock()
	stuck := c.stuck
	c.mu.Unlock()
	if !stuck {
		return
	}
	c.failed(ErrBusy, false)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stuck || c.failures < c.cfg.FailureThreshold {
		return
	}
	slog.Warn("Abandoning stuck output write", "failures", c.failures)
	c.stuck = false
	c.gen++
	if c.port != nil && !c.closed {
		if err := c.port.Close(); err != nil {
			slog.Debug("Closing stuck output port", "error", err)
		}
		c.port = nil
		c.nextOpen = time.Now().Add(c.backoff.Next())
	}
	c.busy.Store(false)
}

// connect returns the open port, opening it when the reconnect delay allows.
func (c *Channel) connect() (Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.port != nil {
		return c.port, nil
	}
	if time.Now().Before(c.nextOpen) {
		return nil, ErrNotConnected
	}
	port, err := c.open()
	if err != nil {
		c.nextOpen = time.Now().Add(c.backoff.Next())
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	if c.reconnects > 0 || c.failures > 0 {
		slog.Info("Output reconnected", "attempt", c.reconnects+1)
	}
	c.reconnects++
	c.port = port
	return port, nil
}

func (c *Channel) failed(err error, drop bool) {
	c.mu.Lock()
	c.failures++
	notify := !c.degraded && c.failures >= c.cfg.FailureThreshold
	if notify {
		c.degraded = true
	}
	if drop && c.port != nil && !c.closed {
		// reopen after the backoff delay
		if cerr := c.port.Close(); cerr != nil {
			slog.Debug("Closing failed output port", "error", cerr)
		}
		c.port = nil
		c.nextOpen = time.Now().Add(c.backoff.Next())
	}
	failures := c.failures
	c.mu.Unlock()

	if failures == 1 || notify {
		slog.Warn("Output write failed", "error", err, "failures", failures)
	}
	if notify {
		slog.Error("Output degraded", "failures", failures)
		if c.OnDegraded != nil {
			c.OnDegraded(err)
		}
	}
}

func (c *Channel) succeeded() {
	c.mu.Lock()
	recovered := c.degraded
	c.failures = 0
	c.degraded = false
	c.backoff.Reset()
	c.mu.Unlock()
	if recovered {
		slog.Info("Output recovered")
		if c.OnRecovered != nil {
			c.OnRecovered()
		}
	}
}

// Degraded reports whether the failure threshold has been reached.
func (c *Channel) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Stats returns a snapshot of the counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Sent:       c.sent.Load(),
		Dropped:    c.dropped.Load(),
		Failures:   c.failures,
		Reconnects: c.reconnects,
		Degraded:   c.degraded,
	}
}

// Close blacks out all channels, best effort, and closes the port. Further
// calls are no-ops and Send returns ErrClosed afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	port := c.port
	c.port = closedPort{}
	c.mu.Unlock()

	if port == nil {
		return nil
	}
	if c.acquire(c.cfg.WriteTimeout) {
		c.blackout(port)
		c.busy.Store(false)
	} else {
		slog.Warn("Output still busy, skipping blackout")
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("failed to close output port: %w", err)
	}
	slog.Info("Output closed")
	return nil
}

// acquire waits up to timeout for an in-flight write to finish.
func (c *Channel) acquire(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !c.busy.CompareAndSwap(false, true) {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

func (c *Channel) blackout(port Port) {
	done := make(chan error, 1)
	go func() {
		_, err := port.Write(dmx.EncodeFrame(&dmx.Frame{}))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			slog.Warn("Blackout failed", "error", err)
		}
	case <-time.After(c.cfg.WriteTimeout):
		slog.Warn("Blackout timed out")
	}
}
