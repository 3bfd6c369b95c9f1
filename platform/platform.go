// Package platform abstracts the device frames are sent to: a DMX widget on
// a serial port, or a terminal simulation that shows what the fixtures
// would do.
package platform

import (
	"lautenbacher.net/golights/controller"
	"lautenbacher.net/golights/output"
	"lautenbacher.net/golights/store"
)

// Platform is implemented by SerialPlatform and TUIPlatform.
type Platform interface {
	// Start initializes the platform (e.g. starts the TUI).
	Start() error

	// Stop cleans up all platform resources.
	Stop()

	// Attach sets the session the platform shows. It is called again when
	// the session is replaced.
	Attach(src Source)

	// Open opens the byte sink for the output channel. It is called again
	// after a write failure.
	Open() (output.Port, error)

	// Commands returns a channel the application reads control input from.
	Commands() <-chan controller.Command

	// Ready is closed once the platform can take output.
	Ready() <-chan bool
}

// Source is the part of a session a platform reads from.
type Source interface {
	State() *controller.ControlState
	Data() *store.Data
}
