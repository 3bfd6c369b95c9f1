// Package modulate renders a resolved scene into a DMX frame from the
// current spectrum snapshot and the wall clock.
package modulate

import (
	"math/rand/v2"
	"slices"
	"time"

	"lautenbacher.net/golights/audio"
	"lautenbacher.net/golights/dmx"
	"lautenbacher.net/golights/scene"
)

// Channel positions of the rgb layout, also used by rockville and custom
// fixtures.
const (
	rgbBrightness = iota
	rgbRed
	rgbGreen
	rgbBlue
	rgbStrobe
	rgbColorfade
)

// Channel positions of the strobe layout.
const (
	strobeSpeed = iota
	strobeBrightness
)

// lightState is what a light remembers between ticks of the same scene.
type lightState struct {
	color      scene.Color
	colorDrawn bool
	lastBright byte
	held       []byte // per event random values
	fadeStart  time.Time
	fading     bool
	effect     panelState
}

// Engine renders frames. It keeps per-scene state (orchestrator position,
// held random values, effect envelopes) that is reset whenever the rendered
// scene changes. An Engine is used by a single goroutine.
type Engine struct {
	profile *scene.Profile
	rnd     *rand.Rand
	scene   string
	orch    orchestration
	lights  []lightState
	gates   map[string]Gate
}

// NewEngine creates an engine for the fixtures of profile. rnd drives all
// random choices; pass a seeded source for reproducible output.
func NewEngine(profile *scene.Profile, rnd *rand.Rand) *Engine {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{profile: profile, rnd: rnd}
}

// SetProfile switches to another fixture set and drops all scene state.
func (e *Engine) SetProfile(profile *scene.Profile) {
	e.profile = profile
	e.Reset()
}

// Reset drops all scene state.
func (e *Engine) Reset() {
	e.scene = ""
	e.orch = orchestration{}
	e.lights = nil
	e.gates = nil
}

// Gates returns the orchestrator verdicts of the last rendered tick.
func (e *Engine) Gates() map[string]Gate {
	return e.gates
}

// Render computes the frame for one tick. Fixtures not lit by the scene, and
// all fixtures when res has no scene, are zero.
func (e *Engine) Render(res scene.Resolution, snap audio.Snapshot, now time.Time) dmx.Frame {
	var frame dmx.Frame
	s := res.Scene
	if s == nil || e.profile == nil {
		e.Reset()
		return frame
	}
	if res.Name != e.scene || len(e.lights) != len(s.Lights) {
		e.Reset()
		e.scene = res.Name
		e.lights = make([]lightState, len(s.Lights))
	}

	bins := func(r scene.BinRange) float64 { return snap.Mean(r.Lo, r.Hi) }
	e.gates = nil
	if s.Orchestrator != nil {
		e.gates = e.orch.run(s.Orchestrator, bins, now, e.rnd)
	}

	t := seconds(now)
	for i, light := range s.Lights {
		fixture, ok := e.profile.Fixtures[light.Fixture]
		if !ok {
			continue
		}
		gate, gated := e.gates[light.Fixture]
		if gated && !gate.Active {
			continue
		}
		st := &e.lights[i]
		values := e.modulate(light, st, bins, t)

		scale := 1.0
		if fx := light.Effect; fx != nil {
			if fx.Overrides() {
				values = st.panel(fx, bins, now, e.rnd)
			} else {
				scale *= st.fade(fx, bins, now)
			}
		}
		if gated {
			scale *= gate.Scale
		}
		if scale != 1 {
			scaleBrightness(light.Type, values, scale)
		}
		write(&frame, fixture, values)
	}
	return frame
}

func (e *Engine) modulate(light scene.Light, st *lightState, bins func(scene.BinRange) float64, t float64) []byte {
	m := light.Modulator
	switch m.Kind {
	case scene.FreqBand:
		return e.band(light.Type, m.Band, st, bins(m.Band.Bins))
	case scene.Boolean:
		return e.random(light.Type, m.Random, st)
	case scene.TimeBased:
		return e.timed(light.Type, m.Time, st, t)
	default:
		return nil
	}
}

func (e *Engine) band(typ scene.FixtureType, m *scene.BandModulator, st *lightState, power float64) []byte {
	switch typ {
	case scene.Strobe:
		if power >= m.Power.Min {
			return []byte{255, 255}
		}
		return []byte{0, 0}
	case scene.Dimmer:
		return []byte{PowerToBrightness(power, m.Power, m.Brightness, m.Curve)}
	default:
		b := PowerToBrightness(power, m.Power, m.Brightness, m.Curve)
		c := e.color(m.Color, st, b)
		return rgb(b, c, m.Strobe, 0)
	}
}

func (e *Engine) random(typ scene.FixtureType, m *scene.RandomModulator, st *lightState) []byte {
	fire := m.Probability >= 1 || e.rnd.Float64() < m.Probability
	if m.Trigger == scene.PerEvent && !fire {
		return slices.Clone(st.held)
	}
	if !fire {
		return nil
	}
	var out []byte
	switch typ {
	case scene.Strobe:
		out = []byte{e.value(m.Speed), e.value(m.Brightness)}
	case scene.Dimmer:
		out = []byte{e.value(m.Brightness)}
	default:
		c := m.Color.Color
		if m.Color.Random {
			c = e.paletteColor()
		}
		out = rgb(e.value(m.Brightness), c, e.value(m.Strobe), m.Colorfade)
	}
	if m.Trigger == scene.PerEvent {
		st.held = slices.Clone(out)
	}
	return out
}

func (e *Engine) timed(typ scene.FixtureType, m *scene.TimeModulator, st *lightState, t float64) []byte {
	v := Wave(m.Waveform, t, m.Frequency)
	switch typ {
	case scene.Strobe:
		switch m.Target {
		case scene.TargetBrightness:
			return []byte{toByte(m.Speed.Max), between(m.Brightness, v)}
		case scene.TargetBoth:
			return []byte{between(m.Speed, v), between(m.Brightness, v)}
		default:
			return []byte{between(m.Speed, v), toByte(m.Brightness.Max)}
		}
	case scene.Dimmer:
		return []byte{between(m.Brightness, v)}
	default:
		b := between(m.Brightness, v)
		return rgb(b, e.color(m.Color, st, b), e.value(m.Strobe), 0)
	}
}

// color resolves a color spec. A random color is drawn each time the light
// comes up from dark and held while it stays lit.
func (e *Engine) color(spec scene.ColorSpec, st *lightState, brightness byte) scene.Color {
	if !spec.Random {
		return spec.Color
	}
	if !st.colorDrawn || (st.lastBright == 0 && brightness > 0) {
		st.color = e.paletteColor()
		st.colorDrawn = true
	}
	st.lastBright = brightness
	return st.color
}

func (e *Engine) paletteColor() scene.Color {
	return scene.Palette[e.rnd.IntN(len(scene.Palette))]
}

func (e *Engine) value(v scene.Value) byte {
	if v.Random {
		return byte(e.rnd.IntN(256))
	}
	return v.Fixed
}

// fade returns the effect envelope as a brightness factor in [0, 1].
func (st *lightState) fade(fx *scene.Effect, bins func(scene.BinRange) float64, now time.Time) float64 {
	if bins(fx.Bins) >= fx.Threshold {
		st.fadeStart = now
		st.fading = true
	}
	level := fx.Brightness.Min
	if st.fading {
		elapsed := now.Sub(st.fadeStart)
		if elapsed < fx.Duration {
			level = fx.Brightness.Max - (fx.Brightness.Max-fx.Brightness.Min)*float64(elapsed)/float64(fx.Duration)
		} else {
			st.fading = false
		}
	}
	return level / 255
}

func rgb(brightness byte, c scene.Color, strobe, colorfade byte) []byte {
	return []byte{rgbBrightness: brightness, rgbRed: c.R, rgbGreen: c.G, rgbBlue: c.B, rgbStrobe: strobe, rgbColorfade: colorfade}
}

func scaleBrightness(typ scene.FixtureType, values []byte, scale float64) {
	idx := rgbBrightness
	if typ == scene.Strobe {
		idx = strobeBrightness
	}
	if idx < len(values) {
		values[idx] = toByte(float64(values[idx]) * scale)
	}
}

// write copies values onto the fixture's channels, never past its last
// channel.
func write(frame *dmx.Frame, f scene.Fixture, values []byte) {
	for i, v := range values {
		if i >= f.ChannelCount {
			return
		}
		frame.Set(f.StartChannel+i, v)
	}
}
