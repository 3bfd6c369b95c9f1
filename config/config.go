package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const CONFILE = "golights.yml"

// Config is the complete application configuration read from a YAML file.
type Config struct {
	Audio      AudioConfig      `yaml:"Audio" json:"Audio"`
	Prediction PredictionConfig `yaml:"Prediction" json:"Prediction"`
	Modulation ModulationConfig `yaml:"Modulation" json:"Modulation"`
	Output     OutputConfig     `yaml:"Output" json:"Output"`
	Data       DataConfig       `yaml:"Data" json:"Data"`
	Control    ControlConfig    `yaml:"Control" json:"Control"`
	Logging    LoggingConfig    `yaml:"Logging" json:"Logging"`
}

// AudioConfig describes the input streams. When PredictionDevice is empty
// only the modulation stream is opened and FeedPrediction decides whether
// its frames are also handed to the prediction worker.
type AudioConfig struct {
	ModulationDevice string `yaml:"ModulationDevice" json:"ModulationDevice"`
	PredictionDevice string `yaml:"PredictionDevice" json:"PredictionDevice"`
	SampleRate       int    `yaml:"SampleRate" json:"SampleRate"`
	FramesPerBuffer  int    `yaml:"FramesPerBuffer" json:"FramesPerBuffer"`
	FeedPrediction   bool   `yaml:"FeedPrediction" json:"FeedPrediction"`
	ModulationQueue  int    `yaml:"ModulationQueue" json:"ModulationQueue"`
	PredictionQueue  int    `yaml:"PredictionQueue" json:"PredictionQueue"`
}

// DualStream reports whether a separate prediction stream is configured.
func (a AudioConfig) DualStream() bool {
	return a.PredictionDevice != ""
}

type PredictionConfig struct {
	Enabled        bool          `yaml:"Enabled" json:"Enabled"`
	Predictor      string        `yaml:"Predictor" json:"Predictor"` // centroid | remote
	ModelFile      string        `yaml:"ModelFile" json:"ModelFile"`
	RemoteURL      string        `yaml:"RemoteURL" json:"RemoteURL"`
	RemoteTimeout  time.Duration `yaml:"RemoteTimeout" json:"RemoteTimeout"`
	TargetRate     int           `yaml:"TargetRate" json:"TargetRate"`
	Window         time.Duration `yaml:"Window" json:"Window"`
	Interval       time.Duration `yaml:"Interval" json:"Interval"`
	PollTimeout    time.Duration `yaml:"PollTimeout" json:"PollTimeout"`
	Smoothing      string        `yaml:"Smoothing" json:"Smoothing"` // instant | heavy
	HistorySize    int           `yaml:"HistorySize" json:"HistorySize"`
	HealthInterval time.Duration `yaml:"HealthInterval" json:"HealthInterval"`
	StallTimeout   time.Duration `yaml:"StallTimeout" json:"StallTimeout"`
	JoinTimeout    time.Duration `yaml:"JoinTimeout" json:"JoinTimeout"`
	MaxRestarts    int           `yaml:"MaxRestarts" json:"MaxRestarts"`
}

// HistoryCapacity returns the smoother capacity. An explicit HistorySize
// wins over the Smoothing preset.
func (p PredictionConfig) HistoryCapacity() int {
	if p.HistorySize > 0 {
		return p.HistorySize
	}
	if strings.ToLower(p.Smoothing) == "heavy" {
		return 25
	}
	return 1
}

type ModulationConfig struct {
	Bins    int     `yaml:"Bins" json:"Bins"`
	MinFreq float64 `yaml:"MinFreq" json:"MinFreq"`
	MaxFreq float64 `yaml:"MaxFreq" json:"MaxFreq"`
	// Gain scales normalised band energies before they reach the modulators.
	Gain float64 `yaml:"Gain" json:"Gain"`
}

type OutputConfig struct {
	Port             string        `yaml:"Port" json:"Port"` // empty means auto-detect
	Baud             int           `yaml:"Baud" json:"Baud"`
	Rate             float64       `yaml:"Rate" json:"Rate"` // frames per second
	WriteTimeout     time.Duration `yaml:"WriteTimeout" json:"WriteTimeout"`
	FailureThreshold int           `yaml:"FailureThreshold" json:"FailureThreshold"`
	ReconnectMin     time.Duration `yaml:"ReconnectMin" json:"ReconnectMin"`
	ReconnectMax     time.Duration `yaml:"ReconnectMax" json:"ReconnectMax"`
	ProbeWidget      bool          `yaml:"ProbeWidget" json:"ProbeWidget"`
	PortCache        string        `yaml:"PortCache" json:"PortCache"`
}

// Interval returns the time between two output ticks.
func (o OutputConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / o.Rate)
}

type DataConfig struct {
	Dir           string        `yaml:"Dir" json:"Dir"`
	Profile       string        `yaml:"Profile" json:"Profile"`
	Watch         bool          `yaml:"Watch" json:"Watch"`
	WatchDebounce time.Duration `yaml:"WatchDebounce" json:"WatchDebounce"`
}

type ControlConfig struct {
	DefaultScene string `yaml:"DefaultScene" json:"DefaultScene"`
	HTTPAddr     string `yaml:"HTTPAddr" json:"HTTPAddr"`
	// MidiPort selects scenes by MIDI note from the first input whose name
	// contains it. Empty disables MIDI.
	MidiPort string `yaml:"MidiPort" json:"MidiPort"`
}

type LogConfig struct {
	Level  string `yaml:"Level" json:"Level"`
	Format string `yaml:"Format" json:"Format"`
	File   string `yaml:"File" json:"File"`
}

type LoggingConfig struct {
	TUI LogConfig `yaml:"TUI" json:"TUI"`
	HW  LogConfig `yaml:"HW" json:"HW"`
}

// Default returns a configuration with every field set to a usable value.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			ModulationDevice: "default",
			SampleRate:       48000,
			FramesPerBuffer:  1024,
			FeedPrediction:   true,
			ModulationQueue:  8,
			PredictionQueue:  100,
		},
		Prediction: PredictionConfig{
			Enabled:        true,
			Predictor:      "centroid",
			RemoteTimeout:  2 * time.Second,
			TargetRate:     32000,
			Window:         4 * time.Second,
			Interval:       100 * time.Millisecond,
			PollTimeout:    100 * time.Millisecond,
			Smoothing:      "instant",
			HealthInterval: time.Second,
			StallTimeout:   30 * time.Second,
			JoinTimeout:    2 * time.Second,
			MaxRestarts:    5,
		},
		Modulation: ModulationConfig{
			Bins:    128,
			MinFreq: 20,
			MaxFreq: 16000,
			Gain:    1,
		},
		Output: OutputConfig{
			Baud:             57600,
			Rate:             44,
			WriteTimeout:     100 * time.Millisecond,
			FailureThreshold: 50,
			ReconnectMin:     500 * time.Millisecond,
			ReconnectMax:     10 * time.Second,
			ProbeWidget:      true,
		},
		Data: DataConfig{
			Dir:           "data",
			Profile:       "mobile",
			Watch:         false,
			WatchDebounce: 500 * time.Millisecond,
		},
		Control: ControlConfig{
			DefaultScene: "party",
		},
		Logging: LoggingConfig{
			TUI: LogConfig{Level: "INFO", Format: "text"},
			HW:  LogConfig{Level: "INFO", Format: "text"},
		},
	}
}

// ReadConfig reads cfile on top of the defaults and validates the result.
func ReadConfig(cfile string) (*Config, error) {
	f, err := os.Open(cfile)
	if err != nil {
		return nil, fmt.Errorf("can't open config file %s: %w", cfile, err)
	}
	defer f.Close()

	conf := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(conf); err != nil {
		return nil, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", cfile, err)
	}
	return conf, nil
}

// Validate checks the configuration for values the engine cannot run with.
// All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	nonNegative := func(name string, d time.Duration) {
		if d < 0 {
			add("%s must be non-negative, got %v", name, d)
		}
	}
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			add("%s must be positive, got %v", name, d)
		}
	}

	// Audio
	if c.Audio.SampleRate <= 0 {
		add("Audio.SampleRate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.FramesPerBuffer <= 0 {
		add("Audio.FramesPerBuffer must be positive, got %d", c.Audio.FramesPerBuffer)
	}
	if c.Audio.ModulationQueue < 1 {
		add("Audio.ModulationQueue must be at least 1, got %d", c.Audio.ModulationQueue)
	}
	if c.Audio.PredictionQueue < 1 {
		add("Audio.PredictionQueue must be at least 1, got %d", c.Audio.PredictionQueue)
	}
	if c.Audio.ModulationDevice == "" {
		add("Audio.ModulationDevice must not be empty")
	}

	// Prediction
	if c.Prediction.Enabled {
		switch c.Prediction.Predictor {
		case "centroid":
			if c.Prediction.ModelFile == "" {
				add("Prediction.ModelFile is required for the centroid predictor")
			}
		case "remote":
			if u, err := url.Parse(c.Prediction.RemoteURL); err != nil || u.Scheme == "" || u.Host == "" {
				add("Prediction.RemoteURL must be an absolute URL, got %q", c.Prediction.RemoteURL)
			}
			positive("Prediction.RemoteTimeout", c.Prediction.RemoteTimeout)
		default:
			add("Prediction.Predictor must be one of centroid, remote; got %q", c.Prediction.Predictor)
		}
		if !c.Audio.DualStream() && !c.Audio.FeedPrediction {
			add("Prediction is enabled but no audio feeds it: set Audio.PredictionDevice or Audio.FeedPrediction")
		}
	}
	if c.Prediction.TargetRate <= 0 {
		add("Prediction.TargetRate must be positive, got %d", c.Prediction.TargetRate)
	}
	positive("Prediction.Window", c.Prediction.Window)
	nonNegative("Prediction.Interval", c.Prediction.Interval)
	positive("Prediction.PollTimeout", c.Prediction.PollTimeout)
	positive("Prediction.HealthInterval", c.Prediction.HealthInterval)
	positive("Prediction.StallTimeout", c.Prediction.StallTimeout)
	positive("Prediction.JoinTimeout", c.Prediction.JoinTimeout)
	if c.Prediction.PollTimeout >= c.Prediction.JoinTimeout {
		add("Prediction.PollTimeout (%v) must be less than Prediction.JoinTimeout (%v)", c.Prediction.PollTimeout, c.Prediction.JoinTimeout)
	}
	switch strings.ToLower(c.Prediction.Smoothing) {
	case "instant", "heavy":
	default:
		add("Prediction.Smoothing must be one of instant, heavy; got %q", c.Prediction.Smoothing)
	}
	if c.Prediction.HistorySize < 0 {
		add("Prediction.HistorySize must be non-negative, got %d", c.Prediction.HistorySize)
	}
	if c.Prediction.MaxRestarts < 0 {
		add("Prediction.MaxRestarts must be non-negative, got %d", c.Prediction.MaxRestarts)
	}

	// Modulation
	if c.Modulation.Bins < 1 || c.Modulation.Bins > 1024 {
		add("Modulation.Bins must be between 1 and 1024, got %d", c.Modulation.Bins)
	}
	if c.Modulation.MinFreq <= 0 || c.Modulation.MinFreq >= c.Modulation.MaxFreq {
		add("Modulation.MinFreq (%v) must be positive and less than MaxFreq (%v)", c.Modulation.MinFreq, c.Modulation.MaxFreq)
	}
	if c.Modulation.MaxFreq > float64(c.Audio.SampleRate)/2 {
		add("Modulation.MaxFreq (%v) must not exceed the Nyquist frequency %v", c.Modulation.MaxFreq, float64(c.Audio.SampleRate)/2)
	}
	if c.Modulation.Gain <= 0 {
		add("Modulation.Gain must be positive, got %v", c.Modulation.Gain)
	}

	// Output
	if c.Output.Baud <= 0 {
		add("Output.Baud must be positive, got %d", c.Output.Baud)
	}
	if c.Output.Rate < 1 || c.Output.Rate > 44 {
		add("Output.Rate must be between 1 and 44, got %v", c.Output.Rate)
	}
	positive("Output.WriteTimeout", c.Output.WriteTimeout)
	if c.Output.Rate > 0 && c.Output.WriteTimeout > 0 && c.Output.WriteTimeout > 10*c.Output.Interval() {
		add("Output.WriteTimeout (%v) must not exceed ten output intervals (%v)", c.Output.WriteTimeout, 10*c.Output.Interval())
	}
	if c.Output.FailureThreshold < 1 {
		add("Output.FailureThreshold must be at least 1, got %d", c.Output.FailureThreshold)
	}
	positive("Output.ReconnectMin", c.Output.ReconnectMin)
	if c.Output.ReconnectMax < c.Output.ReconnectMin {
		add("Output.ReconnectMax (%v) must not be less than ReconnectMin (%v)", c.Output.ReconnectMax, c.Output.ReconnectMin)
	}

	// Data
	if c.Data.Dir == "" {
		add("Data.Dir must not be empty")
	}
	if c.Data.Profile == "" {
		add("Data.Profile must not be empty")
	}
	nonNegative("Data.WatchDebounce", c.Data.WatchDebounce)

	for name, lc := range map[string]LogConfig{"TUI": c.Logging.TUI, "HW": c.Logging.HW} {
		switch strings.ToUpper(lc.Level) {
		case "", "DEBUG", "INFO", "WARN", "ERROR":
		default:
			add("Logging.%s.Level must be one of DEBUG, INFO, WARN, ERROR; got %q", name, lc.Level)
		}
		switch strings.ToLower(lc.Format) {
		case "", "text", "json":
		default:
			add("Logging.%s.Format must be text or json, got %q", name, lc.Format)
		}
	}

	return errors.Join(errs...)
}
