//go:build cgo
// +build cgo

package driver

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"lautenbacher.net/golights/audio"
	"lautenbacher.net/golights/config"
)

var (
	paMutex       sync.Mutex
	paInitialized bool
)

// Available reports whether this build can open sound devices.
const Available = true

// paStream adapts a callback driven portaudio stream to audio.Stream.
type paStream struct {
	name   string
	stream *portaudio.Stream
}

func (s *paStream) Name() string { return s.name }
func (s *paStream) Start() error { return s.stream.Start() }
func (s *paStream) Stop() error  { return s.stream.Stop() }
func (s *paStream) Close() error { return s.stream.Close() }

func initialize() error {
	paMutex.Lock()
	defer paMutex.Unlock()
	if paInitialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	slog.Info("PortAudio initialized")
	paInitialized = true
	return nil
}

// Terminate releases portaudio once all streams are closed.
func Terminate() {
	paMutex.Lock()
	defer paMutex.Unlock()
	if !paInitialized {
		return
	}
	if err := portaudio.Terminate(); err != nil {
		slog.Error("Failed to terminate portaudio", "error", err)
		return
	}
	slog.Info("PortAudio terminated")
	paInitialized = false
}

// OpenStreams opens the modulation stream and, when configured, the
// dedicated prediction stream. The streams deliver into m and are not yet
// started.
func OpenStreams(cfg config.AudioConfig, m *audio.Manager) ([]audio.Stream, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	mod, err := openInput("modulation", cfg.ModulationDevice, cfg, m.OnModulation)
	if err != nil {
		return nil, err
	}
	if !cfg.DualStream() {
		return []audio.Stream{mod}, nil
	}
	pred, err := openInput("prediction", cfg.PredictionDevice, cfg, m.OnPrediction)
	if err != nil {
		mod.Close()
		return nil, err
	}
	return []audio.Stream{mod, pred}, nil
}

func openInput(name, device string, cfg config.AudioConfig, deliver func([]float32, int)) (*paStream, error) {
	dev, err := findDevice(device)
	if err != nil {
		return nil, err
	}
	channels := min(dev.MaxInputChannels, 2)
	slog.Info("Opening audio input", "stream", name, "device", dev.Name, "channels", channels,
		"sampleRate", cfg.SampleRate, "framesPerBuffer", cfg.FramesPerBuffer)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		deliver(in, channels)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stream on %q: %w", name, dev.Name, err)
	}
	return &paStream{name: name, stream: stream}, nil
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default audio input: %w", err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("could not list audio devices: %w", err)
	}
	for _, device := range devices {
		if device.MaxInputChannels > 0 && strings.Contains(strings.ToLower(device.Name), strings.ToLower(name)) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("no audio input device matching %q", name)
}

// Devices lists the names of all capture devices.
func Devices() ([]string, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("could not list audio devices: %w", err)
	}
	var names []string
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}
