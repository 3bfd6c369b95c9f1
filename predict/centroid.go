package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"os"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gopkg.in/yaml.v3"
)

var ErrEmptyModel = errors.New("model has no centroids")

// Centroid is the mean feature vector of one cluster.
type Centroid struct {
	Cluster  int       `yaml:"cluster" json:"cluster"`
	Features []float64 `yaml:"features" json:"features"`
}

// Model describes the feature extraction and the cluster centroids. Model
// files are YAML or JSON.
type Model struct {
	FrameSize int        `yaml:"frame_size" json:"frame_size"`
	Bands     int        `yaml:"bands" json:"bands"`
	MinFreq   float64    `yaml:"min_freq" json:"min_freq"`
	MaxFreq   float64    `yaml:"max_freq" json:"max_freq"`
	Centroids []Centroid `yaml:"centroids" json:"centroids"`
}

// LoadModel reads and checks a model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read model file: %w", err)
	}
	m := &Model{FrameSize: 2048, Bands: 24, MinFreq: 30, MaxFreq: 12000}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("can't decode model file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}
	return m, nil
}

// Validate checks that the centroids match the feature layout.
func (m *Model) Validate() error {
	if m.FrameSize < 64 || m.Bands < 1 || m.MinFreq <= 0 || m.MaxFreq <= m.MinFreq {
		return fmt.Errorf("bad feature layout: frame_size %d, bands %d, range %g-%g", m.FrameSize, m.Bands, m.MinFreq, m.MaxFreq)
	}
	if len(m.Centroids) == 0 {
		return ErrEmptyModel
	}
	seen := make(map[int]bool)
	for _, c := range m.Centroids {
		if len(c.Features) != m.Bands {
			return fmt.Errorf("centroid of cluster %d has %d features, want %d", c.Cluster, len(c.Features), m.Bands)
		}
		if seen[c.Cluster] {
			return fmt.Errorf("duplicate cluster %d", c.Cluster)
		}
		seen[c.Cluster] = true
	}
	return nil
}

// CentroidPredictor is a nearest-centroid classifier over log-spaced band
// energies. The features are normalised so loudness does not matter.
type CentroidPredictor struct {
	model *Model
}

// NewCentroidPredictor creates a predictor for model.
func NewCentroidPredictor(model *Model) *CentroidPredictor {
	return &CentroidPredictor{model: model}
}

// Features extracts the feature vector the centroids are compared against.
func (c *CentroidPredictor) Features(chunk []float32, sampleRate int) []float64 {
	m := c.model
	features := make([]float64, m.Bands)
	size := m.FrameSize
	if len(chunk) < size || sampleRate <= 0 {
		return features
	}
	hann := window.Hann(size)
	binHz := float64(sampleRate) / float64(size)
	half := size/2 + 1
	ratio := math.Pow(m.MaxFreq/m.MinFreq, 1/float64(m.Bands))
	edges := make([]int, m.Bands+1)
	f := m.MinFreq
	for k := range edges {
		edges[k] = min(max(int(math.Round(f/binHz)), 1), half-1)
		f *= ratio
	}

	buf := make([]float64, size)
	frames := 0
	for off := 0; off+size <= len(chunk); off += size {
		for i := range buf {
			buf[i] = float64(chunk[off+i]) * hann[i]
		}
		spectrum := fft.FFTReal(buf)
		for k := range features {
			lo, hi := edges[k], min(max(edges[k+1], edges[k]+1), half)
			var sum float64
			for i := lo; i < hi; i++ {
				sum += cmplx.Abs(spectrum[i])
			}
			features[k] += sum / float64(hi-lo)
		}
		frames++
	}

	var norm float64
	for k := range features {
		features[k] = math.Log1p(features[k] / float64(frames))
		norm += features[k] * features[k]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for k := range features {
			features[k] /= norm
		}
	}
	return features
}

// Predict returns the cluster of the nearest centroid.
func (c *CentroidPredictor) Predict(ctx context.Context, chunk []float32, sampleRate int) (int, error) {
	if len(chunk) < c.model.FrameSize {
		return 0, fmt.Errorf("chunk of %d samples is shorter than one frame", len(chunk))
	}
	features := c.Features(chunk, sampleRate)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	best, bestDist := 0, math.Inf(1)
	for _, centroid := range c.model.Centroids {
		var d float64
		for k, v := range centroid.Features {
			diff := v - features[k]
			d += diff * diff
		}
		if d < bestDist {
			best, bestDist = centroid.Cluster, d
		}
	}
	return best, nil
}
