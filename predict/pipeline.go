// Package predict classifies the prediction audio stream into scene clusters
// and smooths the result.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"

	"lautenbacher.net/golights/audio"
	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/util"
)

// Predictor maps an audio chunk to a cluster id.
type Predictor interface {
	Predict(ctx context.Context, chunk []float32, sampleRate int) (int, error)
}

// Record is one published prediction.
type Record struct {
	Cluster  int
	Scene    string // scene mapped from Cluster
	Smoothed string // scene after majority vote
	At       time.Time
	Latency  time.Duration
}

// Publisher receives predictions, usually the control state.
type Publisher interface {
	PublishPrediction(Record)
}

// Pipeline is the prediction worker. One Pipeline runs at a time; after a
// crash the owner creates a new one around the same queue and history.
type Pipeline struct {
	cfg       config.PredictionConfig
	queue     *util.DropQueue[audio.Frame]
	predictor Predictor
	history   *History
	publisher Publisher
	running   *atomic.Bool
	mapping   atomic.Pointer[map[int]string]
	heartbeat atomic.Int64

	window      deque.Deque[float32]
	windowRate  int
	lastPredict time.Time
}

// NewPipeline creates a pipeline reading from queue.
func NewPipeline(cfg config.PredictionConfig, queue *util.DropQueue[audio.Frame], predictor Predictor,
	history *History, publisher Publisher, mapping map[int]string, running *atomic.Bool) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		queue:     queue,
		predictor: predictor,
		history:   history,
		publisher: publisher,
		running:   running,
	}
	p.SetMapping(mapping)
	p.beat()
	return p
}

// SetMapping replaces the cluster to scene table.
func (p *Pipeline) SetMapping(mapping map[int]string) {
	p.mapping.Store(&mapping)
}

// Heartbeat returns the last time the worker loop made progress.
func (p *Pipeline) Heartbeat() time.Time {
	return time.Unix(0, p.heartbeat.Load())
}

func (p *Pipeline) beat() {
	p.heartbeat.Store(time.Now().UnixNano())
}

// Run processes frames until ctx is done, the running flag is cleared or the
// queue is closed, in which case it returns nil. A panic inside the loop is
// recovered and returned as an error.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Prediction worker crashed", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("prediction worker panic: %v", r)
		}
	}()
	slog.Info("Prediction worker started", "window", p.cfg.Window, "interval", p.cfg.Interval)
	defer slog.Info("Prediction worker stopped")

	for p.running.Load() && ctx.Err() == nil {
		p.beat()
		frame, popErr := p.queue.Pop(p.cfg.PollTimeout)
		if errors.Is(popErr, util.ErrQueueClosed) {
			return nil
		}
		if popErr != nil {
			continue
		}
		p.append(frame)
		if !p.ready(time.Now()) {
			continue
		}
		p.predict(ctx)
	}
	return nil
}

func (p *Pipeline) windowSize() int {
	return int(p.cfg.Window.Seconds() * float64(p.windowRate))
}

func (p *Pipeline) append(frame audio.Frame) {
	if frame.SampleRate != p.windowRate {
		p.window.Clear()
		p.windowRate = frame.SampleRate
	}
	size := p.windowSize()
	for _, s := range frame.Samples {
		if p.window.Len() == size {
			p.window.PopFront()
		}
		p.window.PushBack(s)
	}
}

func (p *Pipeline) ready(now time.Time) bool {
	size := p.windowSize()
	return size > 0 && p.window.Len() >= size && now.Sub(p.lastPredict) >= p.cfg.Interval
}

func (p *Pipeline) predict(ctx context.Context) {
	start := time.Now()
	p.lastPredict = start

	chunk := make([]float32, p.window.Len())
	for i := range chunk {
		chunk[i] = p.window.At(i)
	}
	rate := p.windowRate
	if p.cfg.TargetRate > 0 {
		chunk = Resample(chunk, rate, p.cfg.TargetRate)
		rate = p.cfg.TargetRate
	}

	cluster, err := p.predictor.Predict(ctx, chunk, rate)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Prediction failed", "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		// abandoned while the call ran, a replacement owns the history now
		return
	}
	scene, ok := (*p.mapping.Load())[cluster]
	if !ok {
		slog.Warn("Predicted cluster has no scene", "cluster", cluster)
		return
	}
	smoothed := p.history.Add(scene)
	rec := Record{
		Cluster:  cluster,
		Scene:    scene,
		Smoothed: smoothed,
		At:       time.Now(),
		Latency:  time.Since(start),
	}
	slog.Debug("Prediction", "cluster", cluster, "scene", scene, "smoothed", smoothed, "latency", rec.Latency)
	p.publisher.PublishPrediction(rec)
}
