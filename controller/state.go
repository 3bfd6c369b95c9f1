// Package controller arbitrates which scene is rendered and runs the
// session: audio ingestion, prediction, modulation and output.
package controller

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"lautenbacher.net/golights/predict"
	"lautenbacher.net/golights/scene"
	"lautenbacher.net/golights/util"
)

var ErrShutdown = errors.New("session is shutting down")

// Mode says who picks the scene.
type Mode int

const (
	Automatic Mode = iota // the smoothed prediction
	Override              // a manually pinned scene
)

func (m Mode) String() string {
	if m == Override {
		return "override"
	}
	return "automatic"
}

// UIMode is the presentation a front end shows. It does not change what is
// rendered.
type UIMode int

const (
	AutoDisplay UIMode = iota
	InteractiveGrid
)

func (m UIMode) String() string {
	if m == InteractiveGrid {
		return "grid"
	}
	return "auto"
}

// Status is a copy of the control state.
type Status struct {
	Mode     Mode   `json:"-"`
	ModeName string `json:"mode"`
	UIMode   string `json:"ui_mode"`
	Override string `json:"override,omitempty"`

	Predicted      string    `json:"predicted,omitempty"` // smoothed
	RawPrediction  string    `json:"raw_prediction,omitempty"`
	Cluster        int       `json:"cluster"`
	Predictions    uint64    `json:"predictions"`
	LastPrediction time.Time `json:"last_prediction"`

	Requested    string `json:"requested"`
	Rendered     string `json:"rendered"`
	Forced       bool   `json:"forced"`
	Incompatible bool   `json:"incompatible"`

	Profile            string `json:"profile"`
	ShuttingDown       bool   `json:"shutting_down"`
	PredictionDegraded bool   `json:"prediction_degraded"`
	OutputDegraded     bool   `json:"output_degraded"`
}

// ControlState is the single source of truth shared by the workers and the
// control surfaces. Every method is safe for concurrent use; readers get
// copies.
type ControlState struct {
	mu           sync.Mutex
	st           Status
	uiMode       UIMode
	defaultScene string
	lastKnown    string
	frozen       string
	events       *util.AtomicEvent[Status]
}

// NewControlState starts in automatic mode.
func NewControlState(defaultScene, profile string) *ControlState {
	s := &ControlState{
		defaultScene: defaultScene,
		events:       util.NewAtomicEvent[Status](),
	}
	s.st.Profile = profile
	s.st.Cluster = -1
	s.notify()
	return s
}

// notify publishes the current status. Callers hold mu.
func (s *ControlState) notify() {
	s.st.ModeName = s.st.Mode.String()
	s.st.UIMode = s.uiMode.String()
	s.events.Send(s.st)
}

// Events delivers the latest status after every change.
func (s *ControlState) Events() *util.AtomicEvent[Status] {
	return s.events
}

// Snapshot returns a copy of the current status.
func (s *ControlState) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// PublishPrediction records a smoothed prediction. In override mode it is
// kept for display but not rendered.
func (s *ControlState) PublishPrediction(rec predict.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.ShuttingDown {
		return
	}
	s.st.Cluster = rec.Cluster
	s.st.RawPrediction = rec.Scene
	s.st.Predictions++
	s.st.LastPrediction = rec.At
	if rec.Smoothed != "" {
		s.st.Predicted = rec.Smoothed
		s.lastKnown = rec.Smoothed
	}
	s.notify()
}

// ClearPrediction forgets the smoothed scene, e.g. after the mapping
// changed. The last known scene stays in use until the next prediction.
func (s *ControlState) ClearPrediction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Predicted = ""
	s.notify()
}

// Select pins a scene and switches to override mode.
func (s *ControlState) Select(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.ShuttingDown {
		return ErrShutdown
	}
	s.st.Mode = Override
	s.st.Override = name
	slog.Info("Manual scene selected", "scene", name)
	s.notify()
	return nil
}

// Resume returns to automatic mode.
func (s *ControlState) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.ShuttingDown {
		return ErrShutdown
	}
	if s.st.Mode == Automatic {
		return nil
	}
	s.st.Mode = Automatic
	s.st.Override = ""
	slog.Info("Automatic mode resumed", "scene", s.requestedLocked())
	s.notify()
	return nil
}

// ToggleUIMode flips between auto display and interactive grid.
func (s *ControlState) ToggleUIMode() UIMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uiMode == AutoDisplay {
		s.uiMode = InteractiveGrid
	} else {
		s.uiMode = AutoDisplay
	}
	s.notify()
	return s.uiMode
}

// UIMode returns the presentation mode.
func (s *ControlState) UIMode() UIMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uiMode
}

// Shutdown enters the terminal state. It returns false if it was already
// shutting down.
func (s *ControlState) Shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.ShuttingDown {
		return false
	}
	s.st.ShuttingDown = true
	s.notify()
	return true
}

// RequestedScene returns the one scene name to resolve this tick.
func (s *ControlState) RequestedScene() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestedLocked()
}

func (s *ControlState) requestedLocked() string {
	switch {
	case s.st.Mode == Override:
		return s.st.Override
	case s.frozen != "":
		return s.frozen
	case s.st.Predicted != "":
		return s.st.Predicted
	case s.lastKnown != "":
		return s.lastKnown
	default:
		return s.defaultScene
	}
}

// SetResolution records what the output loop renders.
func (s *ControlState) SetResolution(res scene.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Requested == res.Requested && s.st.Rendered == res.Name &&
		s.st.Forced == res.Forced && s.st.Incompatible == res.Incompatible {
		return
	}
	s.st.Requested = res.Requested
	s.st.Rendered = res.Name
	s.st.Forced = res.Forced
	s.st.Incompatible = res.Incompatible
	s.notify()
}

// SetOutputDegraded flags persistent output failure. While flagged,
// automatic mode stays on the scene requested at the time of the failure.
func (s *ControlState) SetOutputDegraded(degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.OutputDegraded == degraded {
		return
	}
	s.st.OutputDegraded = degraded
	s.frozen = ""
	if degraded {
		s.frozen = s.requestedLocked()
	}
	s.notify()
}

// SetPredictionDegraded flags that the prediction worker gave up.
func (s *ControlState) SetPredictionDegraded(degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.PredictionDegraded == degraded {
		return
	}
	s.st.PredictionDegraded = degraded
	s.notify()
}

// SetDefaultScene changes the scene used before any prediction arrived.
func (s *ControlState) SetDefaultScene(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultScene = name
}

// SetProfile records the active profile name.
func (s *ControlState) SetProfile(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Profile = name
	s.notify()
}
