// Package audio turns driver callbacks into bounded queues of mono frames
// and derives the spectral snapshot the modulation engine reads.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/util"
)

// Frame is a block of mono samples. Frames are shared between queues in
// single-stream mode and must be treated as read-only by consumers.
type Frame struct {
	Samples    []float32
	SampleRate int
	Timestamp  time.Time
}

// Duration returns the time span covered by the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Stream is an input stream opened by a driver.
type Stream interface {
	Name() string
	Start() error
	Stop() error
	Close() error
}

// Stats are the observable counters of the manager.
type Stats struct {
	Modulation util.QueueStats
	Prediction util.QueueStats
	// Ignored counts callbacks that arrived while the engine was not running.
	Ignored uint64
}

// Manager owns the input streams and the two ingestion queues. OnModulation
// and OnPrediction are the only entry points drivers call; they never block.
type Manager struct {
	cfg        config.AudioConfig
	running    *atomic.Bool
	modulation *util.DropQueue[Frame]
	prediction *util.DropQueue[Frame]
	ignored    atomic.Uint64

	mu      sync.Mutex
	streams []Stream
	closed  bool
}

// NewManager creates the queues. running is the engine-wide running flag,
// checked at the top of every callback.
func NewManager(cfg config.AudioConfig, running *atomic.Bool) *Manager {
	return &Manager{
		cfg:        cfg,
		running:    running,
		modulation: util.NewDropQueue[Frame](cfg.ModulationQueue),
		prediction: util.NewDropQueue[Frame](cfg.PredictionQueue),
	}
}

// OnModulation is the callback entry point of the modulation stream. in holds
// interleaved samples with the given channel count.
func (m *Manager) OnModulation(in []float32, channels int) {
	if !m.running.Load() {
		m.ignored.Add(1)
		return
	}
	frame := Frame{Samples: Downmix(in, channels), SampleRate: m.cfg.SampleRate, Timestamp: time.Now()}
	m.modulation.TryPush(frame)
	if !m.cfg.DualStream() && m.cfg.FeedPrediction {
		m.prediction.TryPush(frame)
	}
}

// OnPrediction is the callback entry point of the dedicated prediction stream.
func (m *Manager) OnPrediction(in []float32, channels int) {
	if !m.running.Load() {
		m.ignored.Add(1)
		return
	}
	m.prediction.TryPush(Frame{Samples: Downmix(in, channels), SampleRate: m.cfg.SampleRate, Timestamp: time.Now()})
}

// Modulation returns the queue drained by the modulation worker.
func (m *Manager) Modulation() *util.DropQueue[Frame] {
	return m.modulation
}

// Prediction returns the queue drained by the prediction pipeline.
func (m *Manager) Prediction() *util.DropQueue[Frame] {
	return m.prediction
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Modulation: m.modulation.Stats(),
		Prediction: m.prediction.Stats(),
		Ignored:    m.ignored.Load(),
	}
}

// Start takes ownership of the streams and starts them. If one fails to
// start, the ones already running are stopped again.
func (m *Manager) Start(streams ...Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("audio manager is closed")
	}
	for i, s := range streams {
		if err := s.Start(); err != nil {
			for _, started := range streams[:i] {
				started.Stop()
			}
			for _, s := range streams {
				s.Close()
			}
			return fmt.Errorf("failed to start stream %s: %w", s.Name(), err)
		}
		slog.Info("Audio stream started", "stream", s.Name())
	}
	m.streams = streams
	return nil
}

// Close stops and closes every stream and the queues. The stream list is
// replaced by nil so that a second Close has nothing left to release.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, s := range m.streams {
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", s.Name(), err))
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
		slog.Info("Audio stream closed", "stream", s.Name())
	}
	m.streams = nil
	m.modulation.Close()
	m.prediction.Close()
	return errors.Join(errs...)
}

// Downmix averages interleaved channels into a new mono slice.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	n := len(in) / channels
	out := make([]float32, n)
	scale := 1 / float32(channels)
	for i := range n {
		var sum float32
		for c := range channels {
			sum += in[i*channels+c]
		}
		out[i] = sum * scale
	}
	return out
}
