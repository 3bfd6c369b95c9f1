package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"

	"lautenbacher.net/golights/audio"
	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/dmx"
	"lautenbacher.net/golights/modulate"
	"lautenbacher.net/golights/output"
	"lautenbacher.net/golights/predict"
	"lautenbacher.net/golights/scene"
	"lautenbacher.net/golights/store"
	"lautenbacher.net/golights/util"
)

var errStalled = errors.New("prediction worker stalled")

// Options are the collaborators of a Session.
type Options struct {
	Config *config.Config
	// Load reads the profile, scenes, fallbacks and cluster mapping. It is
	// called again on every reload.
	Load func() (*store.Data, error)
	// Streams opens the audio inputs feeding the manager.
	Streams func(*audio.Manager) ([]audio.Stream, error)
	// Predictor may be nil, prediction is disabled then.
	Predictor predict.Predictor
	Open      output.Opener
	Rand      *rand.Rand
}

// Stats collects the counters of all parts of the session.
type Stats struct {
	Audio   audio.Stats
	Output  output.Stats
	History int
}

// Session owns the engine: audio streams and queues, the modulation and
// prediction workers, the output loop and the control state.
type Session struct {
	cfg      *config.Config
	opts     Options
	state    *ControlState
	running  atomic.Bool
	audio    *audio.Manager
	analyzer *audio.Analyzer
	spectrum *util.AtomicEvent[audio.Snapshot]
	history  *predict.History
	pipeline atomic.Pointer[predict.Pipeline]
	output   *output.Channel
	engine   *modulate.Engine
	data     atomic.Pointer[store.Data]
	reloadMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	commands chan Command

	lifecycle sync.Mutex
	started   bool
	closed    bool
	predDone  chan struct{}
	done      chan struct{}
	doneOnce  sync.Once

	// owned by the output loop
	lastRes    scene.Resolution
	lastErr    string
	engineData *store.Data
}

// NewSession loads the data and wires all parts. Nothing runs before Start.
func NewSession(opts Options) (*Session, error) {
	cfg := opts.Config
	data, err := opts.Load()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		opts:     opts,
		state:    NewControlState(data.Library.DefaultScene(cfg.Control.DefaultScene), data.Profile.Name),
		analyzer: audio.NewAnalyzer(cfg.Modulation, cfg.Audio.SampleRate),
		spectrum: util.NewAtomicEvent[audio.Snapshot](),
		history:  predict.NewHistory(cfg.Prediction.HistoryCapacity()),
		output:   output.New(cfg.Output, opts.Open),
		engine:   modulate.NewEngine(data.Profile, opts.Rand),
		ctx:      ctx,
		cancel:   cancel,
		commands: make(chan Command, 16),
		done:     make(chan struct{}),
	}
	s.audio = audio.NewManager(cfg.Audio, &s.running)
	s.data.Store(data)
	s.output.OnDegraded = func(err error) { s.state.SetOutputDegraded(true) }
	s.output.OnRecovered = func() { s.state.SetOutputDegraded(false) }
	return s, nil
}

// Start opens the audio streams and launches the workers.
func (s *Session) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.closed {
		return ErrShutdown
	}
	if s.started {
		return nil
	}
	s.running.Store(true)
	streams, err := s.opts.Streams(s.audio)
	if err == nil {
		err = s.audio.Start(streams...)
	}
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("failed to start audio: %w", err)
	}
	s.started = true

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		audio.RunModulation(s.ctx, s.audio.Modulation(), s.analyzer, s.spectrum, s.cfg.Prediction.PollTimeout)
	}()
	go s.outputLoop()
	go s.commandLoop()

	s.predDone = make(chan struct{})
	if s.opts.Predictor != nil && s.cfg.Prediction.Enabled {
		go s.supervise()
	} else {
		slog.Info("Prediction disabled, staying on the default scene until a manual selection")
		close(s.predDone)
	}
	slog.Info("Session started", "profile", s.Data().Profile.Name, "scenes", s.Data().Library.Len(),
		"rate", s.cfg.Output.Rate)
	return nil
}

// State returns the control state.
func (s *Session) State() *ControlState {
	return s.state
}

// Data returns the current immutable data set.
func (s *Session) Data() *store.Data {
	return s.data.Load()
}

// Scenes lists the selectable scene names.
func (s *Session) Scenes() []string {
	return s.Data().Library.Names()
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	return Stats{Audio: s.audio.Stats(), Output: s.output.Stats(), History: s.history.Len()}
}

// Done is closed once a shutdown was requested or the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) requestShutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Dispatch queues a command without waiting. It is safe to call from any
// goroutine, including UI event handlers.
func (s *Session) Dispatch(cmd Command) {
	if cmd.Kind == CmdShutdown {
		s.requestShutdown()
		return
	}
	select {
	case s.commands <- cmd:
	default:
		slog.Warn("Command queue full, dropping command", "command", cmd.Kind)
	}
}

// Handle executes a command synchronously.
func (s *Session) Handle(cmd Command) error {
	switch cmd.Kind {
	case CmdSelect:
		if _, ok := s.Data().Library.Get(cmd.Scene); !ok {
			return fmt.Errorf("%w: %q", scene.ErrUnknownScene, cmd.Scene)
		}
		return s.state.Select(cmd.Scene)
	case CmdResume:
		return s.state.Resume()
	case CmdToggleUI:
		s.state.ToggleUIMode()
		return nil
	case CmdReload:
		return s.Reload()
	case CmdShutdown:
		s.requestShutdown()
		return nil
	default:
		return fmt.Errorf("unknown command %v", cmd.Kind)
	}
}

func (s *Session) commandLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.commands:
			if err := s.Handle(cmd); err != nil {
				slog.Warn("Command failed", "command", cmd.Kind, "scene", cmd.Scene, "error", err)
			}
		}
	}
}

// Reload replaces profile, scenes, fallbacks and mapping as a whole. On
// error the current data stays in use.
func (s *Session) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	data, err := s.opts.Load()
	if err != nil {
		slog.Error("Reload failed, keeping the current data", "error", err)
		return err
	}
	previous := s.data.Swap(data)
	if p := s.pipeline.Load(); p != nil {
		p.SetMapping(data.Mapping)
	}
	if previous != nil && !maps.Equal(previous.Mapping, data.Mapping) {
		s.history.Reset()
		s.state.ClearPrediction()
		slog.Info("Cluster mapping changed, prediction history cleared")
	}
	s.state.SetDefaultScene(data.Library.DefaultScene(s.cfg.Control.DefaultScene))
	s.state.SetProfile(data.Profile.Name)
	slog.Info("Data reloaded", "profile", data.Profile.Name, "scenes", data.Library.Len())
	return nil
}

func (s *Session) outputLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Output.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick resolves the requested scene, renders it and sends the frame. An
// unknown scene keeps the previous resolution on stage.
func (s *Session) tick(now time.Time) dmx.Frame {
	data := s.data.Load()
	if data != s.engineData {
		s.engine.SetProfile(data.Profile)
		s.engineData = data
	}

	res, err := scene.Resolve(s.state.RequestedScene(), data.Library, data.Profile, data.Fallbacks)
	if err != nil {
		if msg := err.Error(); msg != s.lastErr {
			slog.Warn("Can't resolve scene, keeping the current one", "error", err, "current", s.lastRes.Name)
			s.lastErr = msg
		}
		res = s.lastRes
		if res.Scene != nil {
			// the scene may be gone after a reload
			if sc, ok := data.Library.Get(res.Name); ok {
				res.Scene = sc
			} else {
				res = scene.Resolution{}
			}
		}
	} else {
		s.lastErr = ""
		if res.Name != s.lastRes.Name || res.Forced != s.lastRes.Forced {
			slog.Info("Scene changed", "requested", res.Requested, "scene", res.Name,
				"forced", res.Forced, "incompatible", res.Incompatible)
		}
	}
	s.lastRes = res
	s.state.SetResolution(res)

	frame := s.engine.Render(res, s.spectrum.Value(), now)
	if err := s.output.Send(&frame); err != nil && !errors.Is(err, output.ErrBusy) && !errors.Is(err, output.ErrClosed) {
		slog.Debug("Frame not sent", "error", err)
	}
	return frame
}

// supervise keeps a prediction pipeline running. A crashed or stalled
// pipeline is replaced after a backoff delay; after MaxRestarts consecutive
// failures prediction stays off and automatic mode keeps its last scene.
func (s *Session) supervise() {
	defer close(s.predDone)
	cfg := s.cfg.Prediction
	backoff := util.NewBackoff(cfg.HealthInterval, cfg.StallTimeout)
	failures := 0
	for s.running.Load() {
		before := s.state.Snapshot().Predictions
		err := s.runPipeline()
		if err == nil || !s.running.Load() {
			return
		}
		if s.state.Snapshot().Predictions > before {
			failures = 0
			backoff.Reset()
		}
		failures++
		if failures > cfg.MaxRestarts {
			slog.Error("Prediction worker keeps failing, staying on the last prediction", "failures", failures, "error", err)
			s.state.SetPredictionDegraded(true)
			return
		}
		delay := backoff.Next()
		slog.Warn("Restarting prediction worker", "error", err, "attempt", failures, "delay", delay)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Session) runPipeline() error {
	cfg := s.cfg.Prediction
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	p := predict.NewPipeline(cfg, s.audio.Prediction(), s.opts.Predictor, s.history, s.state, s.Data().Mapping, &s.running)
	s.pipeline.Store(p)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	ticker := time.NewTicker(cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			since := time.Since(p.Heartbeat())
			if since <= cfg.StallTimeout {
				continue
			}
			slog.Error("Prediction worker stalled", "since", since)
			cancel()
			select {
			case err := <-done:
				if err == nil && s.running.Load() {
					err = errStalled
				}
				return err
			case <-time.After(cfg.JoinTimeout):
				// abandoned, it exits on its own once the call returns
				return errStalled
			}
		}
	}
}

// Close shuts the session down: stop accepting audio, close the streams and
// queues, join the workers (the prediction worker with a time limit), then
// black out and close the output. Safe to call more than once.
func (s *Session) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	slog.Info("Shutting down session")

	s.state.Shutdown()
	s.running.Store(false)
	err := s.audio.Close()
	s.cancel()

	if s.started {
		select {
		case <-s.predDone:
		case <-time.After(s.cfg.Prediction.JoinTimeout):
			slog.Warn("Prediction worker did not stop in time", "timeout", s.cfg.Prediction.JoinTimeout)
		}
		s.wg.Wait()
	}
	if oerr := s.output.Close(); oerr != nil {
		err = errors.Join(err, oerr)
	}
	s.requestShutdown()
	slog.Info("Session closed")
	return err
}
