//go:build cgo
// +build cgo

package driver

import (
	"sync"

	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

var (
	midiOnce   sync.Once
	midiDriver *rtmididrv.Driver
	midiErr    error
)

func midiInputs() ([]drivers.In, error) {
	midiOnce.Do(func() {
		midiDriver, midiErr = rtmididrv.New()
	})
	if midiErr != nil {
		return nil, midiErr
	}
	return midiDriver.Ins()
}

func closeMidiDriver() {
	if midiDriver != nil {
		midiDriver.Close()
	}
}
