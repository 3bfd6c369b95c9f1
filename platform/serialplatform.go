package platform

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/dmx"
	"lautenbacher.net/golights/output"
)

const probeTimeout = 500 * time.Millisecond

var errNoWidget = errors.New("no DMX widget found")

// SerialPlatform drives an Enttec compatible widget on a USB serial port.
type SerialPlatform struct {
	*AbstractPlatform
	cfg config.OutputConfig

	// overridable in tests
	listPorts func() ([]string, error)
	openPort  func(name string, mode *serial.Mode) (serial.Port, error)

	mu       sync.Mutex
	portName string
	params   *dmx.WidgetParams
}

func NewSerialPlatform(conf *config.Config) *SerialPlatform {
	return &SerialPlatform{
		AbstractPlatform: newAbstractPlatform(conf),
		cfg:              conf.Output,
		listPorts:        serial.GetPortsList,
		openPort:         serial.Open,
	}
}

// Start only logs the candidate ports, the port itself is opened by the
// output channel on its first frame.
func (s *SerialPlatform) Start() error {
	candidates, err := s.candidates()
	if err != nil {
		return err
	}
	slog.Info("Serial platform started", "candidates", candidates, "baud", s.cfg.Baud)
	s.markReady()
	return nil
}

func (s *SerialPlatform) Stop() {
	s.setInShutdown()
	slog.Info("Serial platform stopped", "port", s.PortName())
}

// PortName returns the port of the last successful Open.
func (s *SerialPlatform) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portName
}

// WidgetParams returns the parameters reported by the widget, nil when the
// probe is disabled or nothing was opened yet.
func (s *SerialPlatform) WidgetParams() *dmx.WidgetParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Open tries the candidate ports in order and returns the first one that
// answers like a DMX widget.
func (s *SerialPlatform) Open() (output.Port, error) {
	candidates, err := s.candidates()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: s.cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	var errs []error
	for _, name := range candidates {
		port, err := s.openPort(name, mode)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		var params *dmx.WidgetParams
		if s.cfg.ProbeWidget {
			wp, err := probe(port, probeTimeout)
			if err != nil {
				port.Close()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			params = &wp
			slog.Info("DMX widget found", "port", name, "firmware", fmt.Sprintf("%d.%d", wp.FirmwareVersion>>8, wp.FirmwareVersion&0xff),
				"break_us", wp.BreakMicros(), "mab_us", wp.MABMicros(), "rate", wp.OutputRate)
		}
		s.mu.Lock()
		s.portName = name
		s.params = params
		s.mu.Unlock()
		s.remember(name)
		return port, nil
	}
	return nil, fmt.Errorf("%w: %w", errNoWidget, errors.Join(errs...))
}

// candidates returns the configured port, or the cached port followed by
// every serial port of the system.
func (s *SerialPlatform) candidates() ([]string, error) {
	if s.cfg.Port != "" && !strings.EqualFold(s.cfg.Port, "auto") {
		return []string{s.cfg.Port}, nil
	}
	ports, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: no serial ports", errNoWidget)
	}
	if cached := s.cached(); cached != "" {
		if i := slices.Index(ports, cached); i > 0 {
			ports = append([]string{cached}, slices.Delete(ports, i, i+1)...)
		}
	}
	return ports, nil
}

func (s *SerialPlatform) cached() string {
	if s.cfg.PortCache == "" {
		return ""
	}
	b, err := os.ReadFile(s.cfg.PortCache)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (s *SerialPlatform) remember(name string) {
	if s.cfg.PortCache == "" || s.cached() == name {
		return
	}
	if err := os.WriteFile(s.cfg.PortCache, []byte(name+"\n"), 0o644); err != nil {
		slog.Warn("Can't write port cache", "file", s.cfg.PortCache, "error", err)
	}
}

// readTimeouter is implemented by serial.Port.
type readTimeouter interface {
	SetReadTimeout(t time.Duration) error
}

// probe asks the widget for its parameters. A device that stays silent or
// answers with anything else within timeout is not a widget.
func probe(rw io.ReadWriter, timeout time.Duration) (dmx.WidgetParams, error) {
	if rt, ok := rw.(readTimeouter); ok {
		if err := rt.SetReadTimeout(50 * time.Millisecond); err != nil {
			return dmx.WidgetParams{}, err
		}
	}
	if _, err := rw.Write(dmx.WidgetParamsRequest()); err != nil {
		return dmx.WidgetParams{}, fmt.Errorf("probe write failed: %w", err)
	}
	deadline := time.Now().Add(timeout)
	var buf []byte
	chunk := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := rw.Read(chunk)
		if err != nil && !errors.Is(err, io.EOF) {
			return dmx.WidgetParams{}, fmt.Errorf("probe read failed: %w", err)
		}
		if n == 0 {
			continue
		}
		buf = dmx.Resync(append(buf, chunk[:n]...))
		for len(buf) > 0 {
			msg, rest, err := dmx.Decode(buf)
			if errors.Is(err, dmx.ErrShortMessage) {
				break
			}
			if err != nil {
				// skip the bad start byte and look for the next message
				buf = dmx.Resync(buf[1:])
				continue
			}
			buf = rest
			if msg.Label == dmx.LabelGetWidgetParams {
				return dmx.ParseWidgetParams(msg)
			}
		}
	}
	return dmx.WidgetParams{}, fmt.Errorf("no widget reply within %v", timeout)
}
