//go:build !cgo
// +build !cgo

package driver

import (
	"errors"

	"gitlab.com/gomidi/midi/v2/drivers"
)

var errNoMidi = errors.New("MIDI support is disabled in this build (requires CGO)")

func midiInputs() ([]drivers.In, error) {
	return nil, errNoMidi
}

func closeMidiDriver() {}
