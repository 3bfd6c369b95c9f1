package controller

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lautenbacher.net/golights/predict"
	"lautenbacher.net/golights/scene"
)

func predicted(s *ControlState, name string) {
	s.PublishPrediction(predict.Record{Cluster: 1, Scene: name, Smoothed: name, At: time.Now()})
}

func TestRequestedScenePrecedence(t *testing.T) {
	s := NewControlState("party", "mobile")
	assert.Equal(t, "party", s.RequestedScene(), "default before any prediction")

	predicted(s, "chill")
	assert.Equal(t, "chill", s.RequestedScene())

	assert.NoError(t, s.Select("strobe"))
	assert.Equal(t, Override, s.Snapshot().Mode)
	assert.Equal(t, "strobe", s.RequestedScene())

	// predictions keep flowing in override mode but are not rendered
	predicted(s, "techno")
	st := s.Snapshot()
	assert.Equal(t, "techno", st.Predicted)
	assert.Equal(t, "strobe", s.RequestedScene())

	assert.NoError(t, s.Resume())
	assert.Equal(t, Automatic, s.Snapshot().Mode)
	assert.Equal(t, "", s.Snapshot().Override)
	assert.Equal(t, "techno", s.RequestedScene())

	s.ClearPrediction()
	assert.Equal(t, "techno", s.RequestedScene(), "last known scene survives a cleared prediction")
}

func TestResumeInAutomaticIsNoop(t *testing.T) {
	s := NewControlState("party", "mobile")
	_, seq := s.Events().Load()
	assert.NoError(t, s.Resume())
	_, after := s.Events().Load()
	assert.Equal(t, seq, after)
}

func TestShutdownIsTerminal(t *testing.T) {
	s := NewControlState("party", "mobile")
	assert.True(t, s.Shutdown())
	assert.False(t, s.Shutdown())
	assert.ErrorIs(t, s.Select("chill"), ErrShutdown)
	assert.ErrorIs(t, s.Resume(), ErrShutdown)

	predicted(s, "chill")
	assert.Equal(t, uint64(0), s.Snapshot().Predictions)
	assert.True(t, s.Snapshot().ShuttingDown)
}

func TestOutputDegradedFreezesAutomaticScene(t *testing.T) {
	s := NewControlState("party", "mobile")
	predicted(s, "chill")
	s.SetOutputDegraded(true)
	assert.True(t, s.Snapshot().OutputDegraded)

	predicted(s, "techno")
	assert.Equal(t, "chill", s.RequestedScene())

	// an explicit selection still wins
	assert.NoError(t, s.Select("strobe"))
	assert.Equal(t, "strobe", s.RequestedScene())
	assert.NoError(t, s.Resume())
	assert.Equal(t, "chill", s.RequestedScene())

	s.SetOutputDegraded(false)
	assert.Equal(t, "techno", s.RequestedScene())
}

func TestSetResolutionNotifiesOnChange(t *testing.T) {
	s := NewControlState("party", "mobile")
	res := scene.Resolution{Requested: "strobe", Name: "party", Forced: true}

	_, before := s.Events().Load()
	s.SetResolution(res)
	st, seq := s.Events().Load()
	assert.Greater(t, seq, before)
	assert.Equal(t, "party", st.Rendered)
	assert.Equal(t, "strobe", st.Requested)
	assert.True(t, st.Forced)

	s.SetResolution(res)
	_, again := s.Events().Load()
	assert.Equal(t, seq, again)
}

func TestToggleUIMode(t *testing.T) {
	s := NewControlState("party", "mobile")
	assert.Equal(t, AutoDisplay, s.UIMode())
	assert.Equal(t, InteractiveGrid, s.ToggleUIMode())
	assert.Equal(t, "grid", s.Snapshot().UIMode)
	assert.Equal(t, AutoDisplay, s.ToggleUIMode())
	assert.Equal(t, Automatic, s.Snapshot().Mode, "the ui mode does not touch the control mode")
}

func TestControlStateConcurrentUse(t *testing.T) {
	s := NewControlState("party", "mobile")
	names := map[string]bool{"party": true, "chill": true, "strobe": true}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for range 500 {
			predicted(s, "chill")
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 500 {
			if i%2 == 0 {
				_ = s.Select("strobe")
			} else {
				_ = s.Resume()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 500 {
			assert.True(t, names[s.RequestedScene()])
		}
	}()
	wg.Wait()
	assert.Equal(t, uint64(500), s.Snapshot().Predictions)
}

func TestCommandConstructors(t *testing.T) {
	assert.Equal(t, Command{Kind: CmdSelect, Scene: "chill"}, Select("chill"))
	assert.Equal(t, CmdResume, Resume().Kind)
	assert.Equal(t, CmdToggleUI, ToggleUI().Kind)
	assert.Equal(t, CmdReload, Reload().Kind)
	assert.Equal(t, CmdShutdown, Shutdown().Kind)
	assert.Equal(t, "select", CmdSelect.String())
}
