package modulate

import (
	"math/rand/v2"
	"time"

	"lautenbacher.net/golights/scene"
)

// Channel positions of the 39 channel rockville layout. The panel has eight
// RGB groups, the bar eight single bulbs.
const (
	panelMaster = 0
	panelMode   = 2
	panelSpeed  = 3
	panelGroups = 4
	barStrobe   = 29
	barMode     = 30
	barBulbs    = 31

	panelGroupCount = 8
	rockvilleWidth  = 39
)

// panelState is the trigger state of a rockville effect.
type panelState struct {
	active bool
	start  time.Time
}

// panel renders an overriding effect. The modulator's values are not used;
// the effect starts from a dark fixture with the master at full.
func (st *lightState) panel(fx *scene.Effect, bins func(scene.BinRange) float64, now time.Time, rnd *rand.Rand) []byte {
	out := make([]byte, rockvilleWidth)
	out[panelMaster] = 255
	out[panelMode] = 0
	power := bins(fx.Bins)

	switch fx.Kind {
	case scene.PanelFade:
		if power >= fx.Threshold {
			st.effect = panelState{active: true, start: now}
		}
		if !st.effect.active {
			return out
		}
		level := fx.Brightness.Min
		if elapsed := now.Sub(st.effect.start); elapsed >= fx.Duration {
			st.effect.active = false
		} else {
			ratio := 1 - float64(elapsed)/float64(fx.Duration)
			level = fx.Brightness.Min + (fx.Brightness.Max-fx.Brightness.Min)*ratio
		}
		out[panelSpeed] = fx.ModeSpeed
		c := fx.PanelColor
		for g := range panelGroupCount {
			setGroup(out, g, scene.Color{R: dimmed(c.R, level), G: dimmed(c.G, level), B: dimmed(c.B, level)})
		}

	case scene.SequentialPanels:
		if power >= fx.Threshold && !st.effect.active {
			st.effect = panelState{active: true, start: now}
		}
		if !st.effect.active || len(fx.Colors) == 0 {
			return out
		}
		step := fx.Duration / panelGroupCount
		pos := panelGroupCount
		if step > 0 {
			pos = int(now.Sub(st.effect.start) / step)
		}
		if pos >= panelGroupCount {
			st.effect.active = false
			return out
		}
		setGroup(out, pos, fx.Colors[pos%len(fx.Colors)])

	case scene.Splatter:
		out[barStrobe] = 0
		out[barMode] = 0
		if power < fx.Threshold {
			return out
		}
		if fx.AffectPanel && len(fx.Colors) > 0 {
			for g := range panelGroupCount {
				if rnd.Float64() < 0.5 {
					setGroup(out, g, fx.Colors[rnd.IntN(len(fx.Colors))])
				}
			}
		}
		if fx.AffectBar && len(fx.BarLevels) > 0 {
			for b := range panelGroupCount {
				out[barBulbs+b] = fx.BarLevels[rnd.IntN(len(fx.BarLevels))]
			}
		}
	}
	return out
}

func setGroup(out []byte, group int, c scene.Color) {
	i := panelGroups + 3*group
	out[i], out[i+1], out[i+2] = c.R, c.G, c.B
}

func dimmed(v byte, level float64) byte {
	return byte(float64(v) * level / 255)
}
