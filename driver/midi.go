package driver

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// MidiInput listens on a MIDI input port and forwards the key of every
// note-on. Scene lookup happens on the receiving side, which owns the
// current scene library.
type MidiInput struct {
	notes chan int

	mu   sync.Mutex
	port drivers.In
	stop func()
}

func NewMidiInput() *MidiInput {
	return &MidiInput{notes: make(chan int, 16)}
}

// Notes delivers note numbers. A nil MidiInput never delivers.
func (m *MidiInput) Notes() <-chan int {
	if m == nil {
		return nil
	}
	return m.notes
}

// Open connects to the first input port whose name contains name, ignoring
// case.
func (m *MidiInput) Open(name string) error {
	ins, err := midiInputs()
	if err != nil {
		return err
	}
	var found drivers.In
	for _, in := range ins {
		if strings.Contains(strings.ToLower(in.String()), strings.ToLower(name)) {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("MIDI input %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("failed to open MIDI input %s: %w", found, err)
	}
	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		m.Handle(msg)
	}, midi.HandleError(func(err error) {
		slog.Warn("MIDI listener error", "device", found.String(), "error", err)
	}))
	if err != nil {
		found.Close()
		return fmt.Errorf("failed to listen on MIDI input %s: %w", found, err)
	}

	m.mu.Lock()
	m.port = found
	m.stop = stop
	m.mu.Unlock()
	slog.Info("MIDI input connected", "device", found.String())
	return nil
}

// Handle forwards the key of a note-on message. Notes are dropped when the
// receiver falls behind.
func (m *MidiInput) Handle(msg midi.Message) {
	var ch, key, vel uint8
	if !msg.GetNoteStart(&ch, &key, &vel) {
		return
	}
	select {
	case m.notes <- int(key):
	default:
		slog.Debug("MIDI note dropped", "note", key)
	}
}

// Close stops listening and releases the port.
func (m *MidiInput) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	var err error
	if m.port != nil {
		err = m.port.Close()
		m.port = nil
	}
	closeMidiDriver()
	return err
}
