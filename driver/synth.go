package driver

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"lautenbacher.net/golights/audio"
	"lautenbacher.net/golights/config"
)

// SynthStream generates a beat-like test signal at the pace a sound card
// would deliver buffers. It stands in for real inputs in simulation mode.
type SynthStream struct {
	name     string
	cfg      config.AudioConfig
	deliver  func([]float32, int)
	bpm      float64
	mu       sync.Mutex
	stopchan chan struct{}
	wg       sync.WaitGroup
	closed   bool
	pos      int
	rnd      *rand.Rand
}

// NewSynthStream creates a stream feeding deliver, typically
// Manager.OnModulation or Manager.OnPrediction.
func NewSynthStream(name string, cfg config.AudioConfig, bpm float64, deliver func([]float32, int)) *SynthStream {
	return &SynthStream{
		name:    name,
		cfg:     cfg,
		deliver: deliver,
		bpm:     bpm,
		rnd:     rand.New(rand.NewPCG(1, 2)),
	}
}

// SynthStreams mirrors OpenStreams for simulation mode.
func SynthStreams(cfg config.AudioConfig, m *audio.Manager) []audio.Stream {
	streams := []audio.Stream{NewSynthStream("modulation", cfg, 124, m.OnModulation)}
	if cfg.DualStream() {
		streams = append(streams, NewSynthStream("prediction", cfg, 124, m.OnPrediction))
	}
	return streams
}

func (s *SynthStream) Name() string { return s.name }

func (s *SynthStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream is closed")
	}
	if s.stopchan != nil {
		return nil
	}
	s.stopchan = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.stopchan)
	return nil
}

func (s *SynthStream) Stop() error {
	s.mu.Lock()
	stop := s.stopchan
	s.stopchan = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		s.wg.Wait()
	}
	return nil
}

func (s *SynthStream) Close() error {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *SynthStream) run(stop chan struct{}) {
	defer s.wg.Done()
	period := time.Duration(s.cfg.FramesPerBuffer) * time.Second / time.Duration(s.cfg.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	buf := make([]float32, s.cfg.FramesPerBuffer)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Fill(buf)
			s.deliver(buf, 1)
		}
	}
}

// Fill writes the next block of the signal: a decaying 60 Hz kick on every
// beat, a 440 Hz tone and some noise.
func (s *SynthStream) Fill(buf []float32) {
	rate := float64(s.cfg.SampleRate)
	beat := 60 / s.bpm
	for i := range buf {
		t := float64(s.pos) / rate
		sinceBeat := math.Mod(t, beat)
		kick := math.Exp(-sinceBeat*12) * math.Sin(2*math.Pi*60*t)
		tone := 0.2 * math.Sin(2*math.Pi*440*t)
		noise := 0.05 * (s.rnd.Float64()*2 - 1)
		buf[i] = float32(0.6*kick + tone + noise)
		s.pos++
	}
}
