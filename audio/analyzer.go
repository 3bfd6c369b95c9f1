package audio

import (
	"math"
	"math/cmplx"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"lautenbacher.net/golights/config"
)

// Snapshot is the latest view of the modulation stream: normalised energies
// of log-spaced frequency bands, lowest band first, each in [0, 1].
type Snapshot struct {
	Bins      []float64
	RMS       float64
	Timestamp time.Time
}

// Mean returns the mean of bins [lo, hi). hi <= 0 means up to the last bin.
// Out of range indices are clipped; an empty selection yields 0.
func (s Snapshot) Mean(lo, hi int) float64 {
	if hi <= 0 || hi > len(s.Bins) {
		hi = len(s.Bins)
	}
	lo = max(lo, 0)
	if lo >= hi {
		return 0
	}
	var sum float64
	for _, v := range s.Bins[lo:hi] {
		sum += v
	}
	return sum / float64(hi-lo)
}

// Analyzer computes snapshots from frames. It keeps scratch buffers and is
// not safe for concurrent use.
type Analyzer struct {
	cfg        config.ModulationConfig
	sampleRate int
	frameSize  int
	window     []float64
	windowSum  float64
	scratch    []float64
	edges      []int
}

// NewAnalyzer creates an analyzer for frames of the given sample rate.
func NewAnalyzer(cfg config.ModulationConfig, sampleRate int) *Analyzer {
	return &Analyzer{cfg: cfg, sampleRate: sampleRate}
}

func (a *Analyzer) prepare(n int) {
	if n == a.frameSize {
		return
	}
	a.frameSize = n
	a.window = make([]float64, n)
	a.windowSum = 0
	for i := range n {
		// Hann
		a.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(max(n-1, 1))))
		a.windowSum += a.window[i]
	}
	a.scratch = make([]float64, n)

	// band k covers spectrum bins [edges[k], edges[k+1])
	half := n/2 + 1
	binHz := float64(a.sampleRate) / float64(n)
	ratio := math.Pow(a.cfg.MaxFreq/a.cfg.MinFreq, 1/float64(a.cfg.Bins))
	a.edges = make([]int, a.cfg.Bins+1)
	f := a.cfg.MinFreq
	for k := range a.edges {
		// narrow low bands share a spectrum bin
		a.edges[k] = min(max(int(math.Round(f/binHz)), 1), half-1)
		f *= ratio
	}
}

// Analyze returns the band energies of frame.
func (a *Analyzer) Analyze(frame Frame) Snapshot {
	snap := Snapshot{Bins: make([]float64, a.cfg.Bins), Timestamp: frame.Timestamp}
	n := len(frame.Samples)
	if n < 2 {
		return snap
	}
	a.prepare(n)

	var sq float64
	for i, s := range frame.Samples {
		v := float64(s)
		sq += v * v
		a.scratch[i] = v * a.window[i]
	}
	snap.RMS = math.Sqrt(sq / float64(n))

	spectrum := fft.FFTReal(a.scratch)
	// a full scale sine yields about 1
	norm := 2 / a.windowSum * a.cfg.Gain
	half := n/2 + 1
	for k := range snap.Bins {
		lo, hi := a.edges[k], a.edges[k+1]
		hi = min(max(hi, lo+1), half)
		var peak float64
		for i := lo; i < hi; i++ {
			peak = math.Max(peak, cmplx.Abs(spectrum[i]))
		}
		snap.Bins[k] = min(peak*norm, 1)
	}
	return snap
}
