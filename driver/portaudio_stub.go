//go:build !cgo
// +build !cgo

package driver

import (
	"errors"
	"log/slog"

	"lautenbacher.net/golights/audio"
	"lautenbacher.net/golights/config"
)

// Available reports whether this build can open sound devices.
const Available = false

var errNoAudio = errors.New("audio support is disabled in this build (requires CGO)")

// Terminate is a no-op without audio support.
func Terminate() {}

// OpenStreams fails without audio support. Use the synthetic source instead.
func OpenStreams(cfg config.AudioConfig, m *audio.Manager) ([]audio.Stream, error) {
	slog.Warn("Audio input unavailable", "error", errNoAudio)
	return nil, errNoAudio
}

// Devices fails without audio support.
func Devices() ([]string, error) {
	return nil, errNoAudio
}
