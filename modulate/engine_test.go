package modulate

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lautenbacher.net/golights/audio"
	"lautenbacher.net/golights/dmx"
	"lautenbacher.net/golights/scene"
)

var t0 = time.Unix(1000, 0)

func testProfile() *scene.Profile {
	return &scene.Profile{Name: "test", Fixtures: map[string]scene.Fixture{
		"par":   {Name: "par", Type: scene.RGB, StartChannel: 1, ChannelCount: 6},
		"a":     {Name: "a", Type: scene.Dimmer, StartChannel: 10, ChannelCount: 1},
		"b":     {Name: "b", Type: scene.Dimmer, StartChannel: 11, ChannelCount: 1},
		"c":     {Name: "c", Type: scene.Dimmer, StartChannel: 12, ChannelCount: 1},
		"flash": {Name: "flash", Type: scene.Strobe, StartChannel: 20, ChannelCount: 2},
		"panel": {Name: "panel", Type: scene.Rockville, StartChannel: 40, ChannelCount: 39},
		"mini":  {Name: "mini", Type: scene.Custom, StartChannel: 100, ChannelCount: 4},
	}}
}

func newEngine() *Engine {
	return NewEngine(testProfile(), rand.New(rand.NewPCG(1, 2)))
}

func render(e *Engine, s *scene.Scene, bins []float64, now time.Time) dmx.Frame {
	return e.Render(scene.Resolution{Name: s.Name, Scene: s}, audio.Snapshot{Bins: bins}, now)
}

func channels(f dmx.Frame, start, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = f.Get(start + i)
	}
	return out
}

func nonZero(f dmx.Frame) []int {
	var out []int
	for ch := 1; ch <= dmx.Channels; ch++ {
		if f.Get(ch) != 0 {
			out = append(out, ch)
		}
	}
	return out
}

func bandLight(fixture string, typ scene.FixtureType) scene.Light {
	return scene.Light{Fixture: fixture, Type: typ, Modulator: scene.Modulator{Kind: scene.FreqBand, Band: &scene.BandModulator{
		Bins:       scene.BinRange{Lo: 0, Hi: 2},
		Power:      scene.Range{Min: 0.2, Max: 0.8},
		Brightness: scene.Range{Min: 0, Max: 255},
		Curve:      1,
		Color:      scene.ColorSpec{Color: scene.Palette[0]},
	}}}
}

func steady(fixture string, brightness byte) scene.Light {
	return scene.Light{Fixture: fixture, Type: scene.Dimmer, Modulator: scene.Modulator{Kind: scene.Boolean, Random: &scene.RandomModulator{
		Brightness:  scene.Value{Fixed: brightness},
		Probability: 1,
	}}}
}

func TestWave(t *testing.T) {
	tests := []struct {
		w    scene.Waveform
		want float64
	}{
		{scene.Sine, 1},
		{scene.Square, 1},
		{scene.Triangle, 0.75},
		{scene.SawtoothForward, 0.25},
		{scene.SawtoothBackward, 0.75},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Wave(tt.w, 1000.25, 1), 1e-9, "waveform %d", tt.w)
	}
	assert.InDelta(t, 0, Wave(scene.Square, 0.75, 1), 1e-9)
	assert.InDelta(t, 0.5, Wave(scene.Sine, 0, 3), 1e-9)
}

func TestPowerToBrightness(t *testing.T) {
	p := scene.Range{Min: 0.2, Max: 0.6}
	b := scene.Range{Min: 10, Max: 210}
	assert.Equal(t, byte(10), PowerToBrightness(0.1, p, b, 1))
	assert.Equal(t, byte(210), PowerToBrightness(0.9, p, b, 1))
	assert.Equal(t, byte(210), PowerToBrightness(0.6, p, b, 1))
	assert.Equal(t, byte(110), PowerToBrightness(0.4, p, b, 1))
	assert.Equal(t, byte(60), PowerToBrightness(0.4, p, b, 2))
	assert.Equal(t, byte(255), PowerToBrightness(0.3, scene.Range{Min: 0.3, Max: 0.3}, scene.Range{Max: 255}, 1))
}

func TestRender_Band(t *testing.T) {
	s := &scene.Scene{Name: "bass", Lights: []scene.Light{
		bandLight("par", scene.RGB),
		bandLight("a", scene.Dimmer),
		bandLight("flash", scene.Strobe),
	}}
	e := newEngine()

	f := render(e, s, []float64{0.5, 0.5, 0, 0}, t0)
	assert.Equal(t, []byte{127, 255, 0, 0, 0, 0}, channels(f, 1, 6))
	assert.Equal(t, byte(127), f.Get(10))
	assert.Equal(t, []byte{255, 255}, channels(f, 20, 2))
	assert.ElementsMatch(t, []int{1, 2, 10, 20, 21}, nonZero(f), "unreferenced fixtures stay dark")

	f = render(e, s, []float64{0.1, 0.1, 1, 1}, t0)
	assert.Equal(t, []byte{0, 0}, channels(f, 20, 2), "strobe fires only above the power floor")
	assert.Equal(t, byte(0), f.Get(1))
}

func TestRender_IncompatibleSceneIsDark(t *testing.T) {
	s := &scene.Scene{Name: "club", Lights: []scene.Light{steady("laser", 255)}}
	f := render(newEngine(), s, nil, t0)
	assert.Empty(t, nonZero(f))

	f = newEngine().Render(scene.Resolution{Name: "none"}, audio.Snapshot{}, t0)
	assert.Empty(t, nonZero(f))
}

func TestRender_Layouts(t *testing.T) {
	s := &scene.Scene{Name: "panels", Lights: []scene.Light{
		{Fixture: "panel", Type: scene.Rockville, Modulator: scene.Modulator{Kind: scene.Boolean, Random: &scene.RandomModulator{
			Brightness: scene.Value{Fixed: 200}, Color: scene.ColorSpec{Color: scene.Palette[4]}, Strobe: scene.Value{Fixed: 7}, Colorfade: 9, Probability: 1,
		}}},
		{Fixture: "mini", Type: scene.Custom, Modulator: scene.Modulator{Kind: scene.Boolean, Random: &scene.RandomModulator{
			Brightness: scene.Value{Fixed: 100}, Color: scene.ColorSpec{Color: scene.Palette[7]}, Strobe: scene.Value{Fixed: 50}, Probability: 1,
		}}},
	}}
	f := render(newEngine(), s, nil, t0)
	assert.Equal(t, []byte{200, 0, 0, 255, 7, 9}, channels(f, 40, 6))
	assert.Equal(t, make([]byte, 33), channels(f, 46, 33))
	assert.Equal(t, []byte{100, 255, 255, 255}, channels(f, 100, 4))
	assert.Equal(t, byte(0), f.Get(104), "values never spill past the fixture")
}

func TestRender_TimeStrobe(t *testing.T) {
	light := func(target scene.StrobeTarget) scene.Light {
		return scene.Light{Fixture: "flash", Type: scene.Strobe, Modulator: scene.Modulator{Kind: scene.TimeBased, Time: &scene.TimeModulator{
			Waveform: scene.SawtoothForward, Frequency: 1,
			Speed:      scene.Range{Min: 0, Max: 200},
			Brightness: scene.Range{Min: 0, Max: 100},
			Target:     target,
		}}}
	}
	now := t0.Add(250 * time.Millisecond)
	tests := []struct {
		target scene.StrobeTarget
		want   []byte
	}{
		{scene.TargetSpeed, []byte{50, 100}},
		{scene.TargetBrightness, []byte{200, 25}},
		{scene.TargetBoth, []byte{50, 25}},
	}
	for _, tt := range tests {
		s := &scene.Scene{Name: "strobe", Lights: []scene.Light{light(tt.target)}}
		assert.Equal(t, tt.want, channels(render(newEngine(), s, nil, now), 20, 2))
	}
}

func TestRender_TimeDimmerAndRandomColor(t *testing.T) {
	s := &scene.Scene{Name: "pulse", Lights: []scene.Light{
		{Fixture: "a", Type: scene.Dimmer, Modulator: scene.Modulator{Kind: scene.TimeBased, Time: &scene.TimeModulator{
			Waveform: scene.Sine, Frequency: 1, Brightness: scene.Range{Min: 55, Max: 255},
		}}},
		{Fixture: "par", Type: scene.RGB, Modulator: scene.Modulator{Kind: scene.TimeBased, Time: &scene.TimeModulator{
			Waveform: scene.SawtoothForward, Frequency: 1, Brightness: scene.Range{Min: 10, Max: 255}, Color: scene.ColorSpec{Random: true},
		}}},
	}}
	e := newEngine()
	f := render(e, s, nil, t0.Add(250*time.Millisecond))
	assert.Equal(t, byte(255), f.Get(10))
	first := channels(f, 2, 3)
	assert.Contains(t, scene.Palette, scene.Color{R: first[0], G: first[1], B: first[2]})

	for i := range 20 {
		f = render(e, s, nil, t0.Add(time.Duration(300+i*10)*time.Millisecond))
		assert.Equal(t, first, channels(f, 2, 3), "random color is held while the light stays lit")
	}
}

func TestRender_RandomGate(t *testing.T) {
	never := &scene.Scene{Name: "never", Lights: []scene.Light{{Fixture: "a", Type: scene.Dimmer, Modulator: scene.Modulator{Kind: scene.Boolean, Random: &scene.RandomModulator{
		Brightness: scene.Value{Fixed: 255}, Probability: 0,
	}}}}}
	e := newEngine()
	assert.Equal(t, byte(0), render(e, never, nil, t0).Get(10))

	noisy := &scene.Scene{Name: "noisy", Lights: []scene.Light{{Fixture: "flash", Type: scene.Strobe, Modulator: scene.Modulator{Kind: scene.Boolean, Random: &scene.RandomModulator{
		Speed: scene.Value{Random: true}, Brightness: scene.Value{Fixed: 255}, Probability: 1,
	}}}}}
	seen := map[byte]bool{}
	for i := range 50 {
		f := render(e, noisy, nil, t0.Add(time.Duration(i)*time.Millisecond))
		assert.Equal(t, byte(255), f.Get(21))
		seen[f.Get(20)] = true
	}
	assert.Greater(t, len(seen), 1, "random speed is drawn every tick")
}

func TestRender_RandomPerEvent(t *testing.T) {
	s := &scene.Scene{Name: "event", Lights: []scene.Light{{Fixture: "a", Type: scene.Dimmer, Modulator: scene.Modulator{Kind: scene.Boolean, Random: &scene.RandomModulator{
		Brightness: scene.Value{Random: true}, Probability: 0.2, Trigger: scene.PerEvent,
	}}}}}
	e := newEngine()
	prev := render(e, s, nil, t0).Get(10)
	changes := 0
	for i := range 200 {
		v := render(e, s, nil, t0.Add(time.Duration(i)*time.Millisecond)).Get(10)
		if v != prev {
			changes++
		}
		prev = v
	}
	assert.Greater(t, changes, 5)
	assert.Less(t, changes, 100, "values are held between events")
}

func TestRender_Fade(t *testing.T) {
	light := steady("a", 255)
	light.Effect = &scene.Effect{Bins: scene.BinRange{Lo: 1, Hi: 2}, Threshold: 0.5, Duration: time.Second, Brightness: scene.Range{Min: 0, Max: 255}}
	s := &scene.Scene{Name: "fade", Lights: []scene.Light{light}}
	e := newEngine()

	assert.Equal(t, byte(0), render(e, s, []float64{0, 0}, t0).Get(10), "dark until triggered")
	assert.Equal(t, byte(255), render(e, s, []float64{0, 1}, t0).Get(10))
	assert.Equal(t, byte(127), render(e, s, []float64{0, 0}, t0.Add(500*time.Millisecond)).Get(10))
	assert.Equal(t, byte(0), render(e, s, []float64{0, 0}, t0.Add(1500*time.Millisecond)).Get(10))
	assert.Equal(t, byte(255), render(e, s, []float64{0, 0.9}, t0.Add(2*time.Second)).Get(10), "retriggers")
}

func hopperScene() *scene.Scene {
	return &scene.Scene{
		Name:   "hop",
		Lights: []scene.Light{steady("a", 255), steady("b", 255), steady("c", 255), steady("par", 255)},
		Orchestrator: &scene.Orchestrator{
			Kind:    scene.Hopper,
			Targets: []string{"a", "b", "c"},
			Hopper:  &scene.HopperConfig{Trigger: scene.BinRange{Lo: 0, Hi: 1}, Threshold: 0.5, Transition: 100 * time.Millisecond},
		},
	}
}

func TestRender_Hopper(t *testing.T) {
	s := hopperScene()
	e := newEngine()
	loud, quiet := []float64{1}, []float64{0}

	f := render(e, s, quiet, t0)
	assert.Equal(t, []byte{0, 0, 0}, channels(f, 10, 3), "nothing active before the first trigger")
	assert.Equal(t, byte(255), f.Get(1), "lights outside the targets are not gated")

	f = render(e, s, loud, t0)
	assert.True(t, e.Gates()["b"].Active)
	assert.Equal(t, []byte{0, 255, 0}, channels(f, 10, 3), "the new target is at full brightness at once")

	f = render(e, s, quiet, t0.Add(50*time.Millisecond))
	assert.Equal(t, []byte{0, 255, 0}, channels(f, 10, 3))
	assert.InDelta(t, 0.5, e.Gates()["b"].Progress, 1e-9)

	f = render(e, s, loud, t0.Add(90*time.Millisecond))
	assert.Equal(t, []byte{0, 255, 0}, channels(f, 10, 3), "no hop inside the transition time")

	f = render(e, s, loud, t0.Add(200*time.Millisecond))
	assert.True(t, e.Gates()["c"].Active)
	f = render(e, s, quiet, t0.Add(400*time.Millisecond))
	assert.Equal(t, []byte{0, 0, 255}, channels(f, 10, 3))

	render(e, s, loud, t0.Add(600*time.Millisecond))
	assert.True(t, e.Gates()["a"].Active, "hopper wraps around")
}

func racerScene(order scene.Order) *scene.Scene {
	return &scene.Scene{
		Name:   "race",
		Lights: []scene.Light{steady("a", 255), steady("b", 255), steady("c", 255)},
		Orchestrator: &scene.Orchestrator{
			Kind:    scene.Racer,
			Targets: []string{"a", "b", "c"},
			Racer:   &scene.RacerConfig{Frequency: 10, Order: order},
		},
	}
}

func activeSequence(e *Engine, s *scene.Scene, ticks int) []string {
	var seq []string
	for i := range ticks {
		f := render(e, s, nil, t0.Add(time.Duration(i)*100*time.Millisecond))
		for j, name := range []string{"a", "b", "c"} {
			if f.Get(10+j) == 255 {
				seq = append(seq, name)
			}
		}
	}
	return seq
}

func TestRender_Racer(t *testing.T) {
	tests := []struct {
		order scene.Order
		want  []string
	}{
		{scene.Forward, []string{"b", "c", "a", "b"}},
		{scene.Reverse, []string{"c", "b", "a", "c"}},
		{scene.Alternating, []string{"b", "c", "b", "a", "b"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, activeSequence(newEngine(), racerScene(tt.order), len(tt.want)), "order %d", tt.order)
	}

	seq := activeSequence(newEngine(), racerScene(scene.RandomOrder), 30)
	assert.Len(t, seq, 30, "exactly one target is active per tick")
	for i := 1; i < len(seq); i++ {
		assert.NotEqual(t, seq[i-1], seq[i], "random order never repeats a target")
	}
}

func TestRender_RacerHoldsBetweenSwitches(t *testing.T) {
	e := newEngine()
	s := racerScene(scene.Forward)
	render(e, s, nil, t0)
	f := render(e, s, nil, t0.Add(50*time.Millisecond))
	assert.Equal(t, []byte{0, 255, 0}, channels(f, 10, 3))
	assert.False(t, e.Gates()["a"].Active)
}

func TestRender_RacerTransitionKeepsFullBrightness(t *testing.T) {
	e := newEngine()
	s := racerScene(scene.Forward)
	s.Orchestrator.Racer.Transition = 100 * time.Millisecond
	for i := range 40 {
		f := render(e, s, nil, t0.Add(time.Duration(i)*25*time.Millisecond))
		lit := 0
		for _, v := range channels(f, 10, 3) {
			if v == 255 {
				lit++
			}
		}
		assert.Equal(t, 1, lit, "tick %d", i)
	}
}

func TestRender_SceneChangeResetsState(t *testing.T) {
	e := newEngine()
	race := racerScene(scene.Forward)
	render(e, race, nil, t0)
	render(e, race, nil, t0.Add(100*time.Millisecond))
	assert.True(t, e.Gates()["c"].Active)

	other := &scene.Scene{Name: "other", Lights: []scene.Light{steady("par", 10)}}
	render(e, other, nil, t0.Add(110*time.Millisecond))
	assert.Nil(t, e.Gates())

	render(e, race, nil, t0.Add(120*time.Millisecond))
	assert.True(t, e.Gates()["b"].Active, "orchestrator starts over")

	e.SetProfile(&scene.Profile{Name: "empty", Fixtures: map[string]scene.Fixture{}})
	assert.Empty(t, nonZero(render(e, race, nil, t0)))
}
