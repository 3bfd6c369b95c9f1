package modulate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lautenbacher.net/golights/dmx"
	"lautenbacher.net/golights/scene"
)

// panel fixture of testProfile starts at channel 40
const panelStart = 40

func panelScene(fx *scene.Effect) *scene.Scene {
	light := scene.Light{Fixture: "panel", Type: scene.Rockville, Effect: fx, Modulator: scene.Modulator{
		Kind:   scene.Boolean,
		Random: &scene.RandomModulator{Brightness: scene.Value{Fixed: 90}, Color: scene.ColorSpec{Color: scene.Palette[3]}, Probability: 1},
	}}
	return &scene.Scene{Name: "panel", Lights: []scene.Light{light}}
}

func group(f dmx.Frame, g int) []byte {
	return channels(f, panelStart+panelGroups+3*g, 3)
}

func TestPanelFade(t *testing.T) {
	s := panelScene(&scene.Effect{
		Kind: scene.PanelFade, Bins: scene.BinRange{Lo: 0, Hi: 1}, Threshold: 0.5, Duration: time.Second,
		Brightness: scene.Range{Min: 0, Max: 255}, PanelColor: scene.Color{R: 255}, ModeSpeed: 200,
	})
	e := newEngine()
	loud, quiet := []float64{1}, []float64{0}

	f := render(e, s, quiet, t0)
	assert.Equal(t, byte(255), f.Get(panelStart), "master is always up")
	assert.Equal(t, []byte{0, 0, 0}, group(f, 0), "modulator output is replaced")
	assert.Equal(t, byte(0), f.Get(panelStart+1))

	f = render(e, s, loud, t0)
	for g := range panelGroupCount {
		assert.Equal(t, []byte{255, 0, 0}, group(f, g), "group %d", g)
	}
	assert.Equal(t, byte(200), f.Get(panelStart+panelSpeed))

	f = render(e, s, quiet, t0.Add(500*time.Millisecond))
	assert.Equal(t, []byte{127, 0, 0}, group(f, 7))

	f = render(e, s, quiet, t0.Add(time.Second))
	assert.Equal(t, []byte{0, 0, 0}, group(f, 0), "faded to the minimum")
	assert.Equal(t, byte(200), f.Get(panelStart+panelSpeed))

	f = render(e, s, quiet, t0.Add(1500*time.Millisecond))
	assert.Equal(t, byte(0), f.Get(panelStart+panelSpeed), "idle after the fade")
}

func TestSequentialPanels(t *testing.T) {
	s := panelScene(&scene.Effect{
		Kind: scene.SequentialPanels, Bins: scene.BinRange{Lo: 0, Hi: 1}, Threshold: 0.5, Duration: 800 * time.Millisecond,
		Colors: []scene.Color{{R: 255}, {G: 255}, {B: 255}},
	})
	e := newEngine()
	loud, quiet := []float64{1}, []float64{0}

	f := render(e, s, loud, t0)
	assert.Equal(t, []byte{255, 0, 0}, group(f, 0))
	assert.Equal(t, []byte{0, 0, 0}, group(f, 1))

	f = render(e, s, quiet, t0.Add(150*time.Millisecond))
	assert.Equal(t, []byte{0, 0, 0}, group(f, 0))
	assert.Equal(t, []byte{0, 255, 0}, group(f, 1))

	f = render(e, s, loud, t0.Add(250*time.Millisecond))
	assert.Equal(t, []byte{0, 0, 255}, group(f, 2), "no retrigger while running")

	f = render(e, s, quiet, t0.Add(350*time.Millisecond))
	assert.Equal(t, []byte{255, 0, 0}, group(f, 3), "colors repeat")

	f = render(e, s, quiet, t0.Add(800*time.Millisecond))
	for g := range panelGroupCount {
		assert.Equal(t, []byte{0, 0, 0}, group(f, g), "sequence done")
	}

	f = render(e, s, loud, t0.Add(900*time.Millisecond))
	assert.Equal(t, []byte{255, 0, 0}, group(f, 0), "retriggers")
}

func TestSplatter(t *testing.T) {
	fx := &scene.Effect{
		Kind: scene.Splatter, Bins: scene.BinRange{Lo: 0, Hi: 1}, Threshold: 0.5,
		Colors: []scene.Color{{R: 1, G: 2, B: 3}}, BarLevels: []byte{7}, AffectPanel: true, AffectBar: true,
	}
	s := panelScene(fx)
	e := newEngine()

	f := render(e, s, []float64{0}, t0)
	assert.Equal(t, []int{panelStart}, nonZero(f), "only the master below the threshold")

	lit := 0
	for i := range 20 {
		f = render(e, s, []float64{1}, t0.Add(time.Duration(i)*time.Millisecond))
		for g := range panelGroupCount {
			switch c := group(f, g); c[0] {
			case 1:
				assert.Equal(t, []byte{1, 2, 3}, c)
				lit++
			default:
				assert.Equal(t, []byte{0, 0, 0}, c)
			}
		}
		for b := range panelGroupCount {
			assert.Equal(t, byte(7), f.Get(panelStart+barBulbs+b))
		}
	}
	assert.Greater(t, lit, 20)
	assert.Less(t, lit, 140)

	fx.AffectBar = false
	f = render(newEngine(), s, []float64{1}, t0)
	for b := range panelGroupCount {
		assert.Equal(t, byte(0), f.Get(panelStart+barBulbs+b))
	}
}
