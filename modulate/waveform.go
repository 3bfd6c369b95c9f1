package modulate

import (
	"math"
	"time"

	"lautenbacher.net/golights/scene"
)

// seconds converts wall clock time into float seconds, the time base of all
// waveforms.
func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Wave evaluates w at time t (seconds) and frequency f (Hz). The result is
// within [0, 1]. The triangle wave completes one ramp per 1/f and thus a
// full period every 2/f.
func Wave(w scene.Waveform, t, f float64) float64 {
	switch w {
	case scene.Sine:
		return math.Sin(2*math.Pi*f*t)*0.5 + 0.5
	case scene.Square:
		s := math.Sin(2 * math.Pi * f * t)
		switch {
		case s > 0:
			return 1
		case s < 0:
			return 0
		default:
			return 0.5
		}
	case scene.Triangle:
		return math.Abs(math.Mod(t*f, 2) - 1)
	case scene.SawtoothForward:
		return frac(t * f)
	case scene.SawtoothBackward:
		return 1 - frac(t*f)
	default:
		return 0
	}
}

func frac(x float64) float64 {
	return x - math.Floor(x)
}

// PowerToBrightness maps band power into the brightness range. Below the
// power range it yields the minimum, above it the maximum; in between the
// normalised power is raised to curve.
func PowerToBrightness(power float64, p, b scene.Range, curve float64) byte {
	switch {
	case power < p.Min:
		return toByte(b.Min)
	case power >= p.Max:
		return toByte(b.Max)
	}
	norm := (power - p.Min) / (p.Max - p.Min)
	if curve > 0 && curve != 1 {
		norm = math.Pow(norm, curve)
	}
	return toByte(b.Min + norm*(b.Max-b.Min))
}

// between maps v in [0, 1] into r, truncating like the DMX channel does.
func between(r scene.Range, v float64) byte {
	return toByte(r.Min + v*(r.Max-r.Min))
}

func toByte(v float64) byte {
	return byte(min(max(v, 0), 255))
}
