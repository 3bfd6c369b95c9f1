package platform

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/controller"
	"lautenbacher.net/golights/dmx"
	"lautenbacher.net/golights/logging"
	"lautenbacher.net/golights/output"
	"lautenbacher.net/golights/store"
)

const (
	refreshInterval = 50 * time.Millisecond
	pageFixtures    = "fixtures"
	pageGrid        = "grid"
)

// TUIPlatform simulates the DMX widget in the terminal. Frames written to its
// port are decoded and shown per fixture of the active profile.
type TUIPlatform struct {
	*AbstractPlatform
	tviewapp     *tview.Application
	intro        *tview.TextView
	statusView   *tview.TextView
	fixtureView  *tview.TextView
	sceneList    *tview.List
	pages        *tview.Pages
	logView      *tview.TextView
	logFlushOnce sync.Once
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	mu       sync.Mutex
	frame    dmx.Frame
	frames   uint64
	data     *store.Data
	segments []*segment
	grid     bool
	widget   dmx.WidgetParams
}

func NewTUIPlatform(conf *config.Config) *TUIPlatform {
	inst := &TUIPlatform{
		AbstractPlatform: newAbstractPlatform(conf),
		stopChan:         make(chan struct{}),
	}
	inst.buildUI()
	return inst
}

func (s *TUIPlatform) Start() error {
	s.wg.Add(1)
	go s.refresh()
	go func() {
		if err := s.tviewapp.SetRoot(s.layout(), true).Run(); err != nil {
			slog.Error("Error running TUI", "error", err)
			s.emit(controller.Shutdown())
		}
	}()
	return nil
}

func (s *TUIPlatform) Stop() {
	s.setInShutdown()
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.tviewapp.Stop()
}

// Open returns the simulated widget port after probing it like a real one.
func (s *TUIPlatform) Open() (output.Port, error) {
	port := &simPort{tui: s}
	wp, err := probe(port, time.Second)
	if err != nil {
		return nil, fmt.Errorf("simulated widget: %w", err)
	}
	s.mu.Lock()
	s.widget = wp
	s.mu.Unlock()
	slog.Info("Simulated widget ready", "firmware", fmt.Sprintf("%d.%d", wp.FirmwareVersion>>8, wp.FirmwareVersion&0xff),
		"rate", wp.OutputRate)
	return port, nil
}

// simPort decodes the wire messages the output channel writes and answers
// parameter requests like a widget.
type simPort struct {
	tui   *TUIPlatform
	buf   []byte
	reply []byte
}

func (p *simPort) Write(b []byte) (int, error) {
	p.buf = dmx.Resync(append(p.buf, b...))
	for len(p.buf) > 0 {
		msg, rest, err := dmx.Decode(p.buf)
		if errors.Is(err, dmx.ErrShortMessage) {
			break
		}
		if err != nil {
			p.buf = dmx.Resync(p.buf[1:])
			return len(b), fmt.Errorf("simulated widget: %w", err)
		}
		p.buf = rest
		switch msg.Label {
		case dmx.LabelGetWidgetParams:
			p.reply = append(p.reply, dmx.EncodeWidgetParams(p.tui.simulatedParams())...)
		case dmx.LabelSendDMX:
			frame, err := dmx.DecodeFrame(msg)
			if err != nil {
				return len(b), fmt.Errorf("simulated widget: %w", err)
			}
			p.tui.show(frame)
		}
	}
	return len(b), nil
}

// Read returns pending replies, io.EOF when there are none.
func (p *simPort) Read(b []byte) (int, error) {
	if len(p.reply) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.reply)
	p.reply = p.reply[n:]
	return n, nil
}

func (s *TUIPlatform) simulatedParams() dmx.WidgetParams {
	return dmx.WidgetParams{
		FirmwareVersion: 0x0144,
		BreakTime:       9,
		MABTime:         1,
		OutputRate:      byte(min(max(s.config.Output.Rate, 1), 40)),
	}
}

func (p *simPort) Close() error { return nil }

func (s *TUIPlatform) show(frame dmx.Frame) {
	s.mu.Lock()
	s.frame = frame
	s.frames++
	s.mu.Unlock()
}

func (s *TUIPlatform) buildUI() {
	s.tviewapp = tview.NewApplication()

	s.intro = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(introText())
	s.intro.SetBorder(true).SetTitle(" GOLIGHTS Simulation ").SetTitleColor(tcell.ColorLightBlue)
	s.intro.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	s.statusView = tview.NewTextView().SetDynamicColors(true)
	s.statusView.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	s.fixtureView = tview.NewTextView().SetDynamicColors(true)
	s.fixtureView.SetBorder(true).SetTitle(" Fixtures ")
	s.fixtureView.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	s.sceneList = tview.NewList().ShowSecondaryText(false)
	s.sceneList.SetBorder(true).SetTitle(" Scenes ")
	s.sceneList.SetSelectedFunc(func(_ int, name, _ string, _ rune) {
		s.emit(controller.Select(name))
	})

	s.pages = tview.NewPages().
		AddPage(pageFixtures, s.fixtureView, true, true).
		AddPage(pageGrid, s.sceneList, true, false)

	s.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			s.logView.ScrollToEnd()
			s.tviewapp.Draw()
		})
	s.logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	s.logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	s.tviewapp.SetAfterDrawFunc(func(screen tcell.Screen) {
		s.logFlushOnce.Do(func() {
			if err := logging.SetOutput(tview.ANSIWriter(s.logView)); err != nil {
				slog.Warn("Can't attach log pane", "error", err)
			}
			s.markReady()
		})
	})
	s.tviewapp.SetInputCapture(s.handleKey)
}

func (s *TUIPlatform) layout() tview.Primitive {
	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(s.intro, 3, 0, false).
		AddItem(s.statusView, 2, 0, false).
		AddItem(s.pages, 0, 2, true).
		AddItem(s.logView, 0, 1, false)
}

func introText() string {
	return "[#ff0000]Up/Down[-]+[#ff0000]Enter[-] select (grid) | [#ff0000]a[-] automatic | " +
		"[#ff0000]g[-] grid/auto | [#ff0000]r[-] reload | [#ff0000]q[-] quit"
}

// handleKey maps key presses to commands. Scene key commands select the
// scene directly.
func (s *TUIPlatform) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlC:
		s.emit(controller.Shutdown())
		return nil
	case tcell.KeyUp, tcell.KeyDown:
		if s.gridShown() {
			return event
		}
		row, col := s.logView.GetScrollOffset()
		if event.Key() == tcell.KeyUp {
			row--
		} else {
			row++
		}
		s.logView.ScrollTo(max(row, 0), col)
		return nil
	case tcell.KeyRune:
		switch key := string(event.Rune()); key {
		case "q", "Q":
			s.emit(controller.Shutdown())
		case "r", "R":
			s.emit(controller.Reload())
		case "a", "A":
			s.emit(controller.Resume())
		case "g", "G":
			s.emit(controller.ToggleUI())
		default:
			if src := s.currentSource(); src != nil {
				if name, ok := src.Data().Library.ByKey(key); ok {
					s.emit(controller.Select(name))
				}
			}
		}
		return nil
	}
	return event
}

func (s *TUIPlatform) gridShown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// refresh redraws at a fixed rate when a new frame or status arrived.
func (s *TUIPlatform) refresh() {
	defer s.wg.Done()
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	var drawnFrames, drawnSeq uint64
	for {
		select {
		case <-s.stopChan:
			slog.Info("Ending TUI refresh go-routine...")
			return
		case <-s.attached:
			drawnSeq = 0
		case <-ticker.C:
		}
		src := s.currentSource()
		if src == nil {
			continue
		}
		status, seq := src.State().Events().Load()
		rebuilt := s.syncData(src.Data())
		s.mu.Lock()
		frames := s.frames
		s.mu.Unlock()
		if frames == drawnFrames && seq == drawnSeq && !rebuilt {
			continue
		}
		drawnFrames, drawnSeq = frames, seq
		s.draw(status, rebuilt)
	}
}

// syncData rebuilds the fixture segments when the data set changed.
func (s *TUIPlatform) syncData(data *store.Data) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data == s.data {
		return false
	}
	s.data = data
	s.segments = parseSegments(data.Profile)
	return true
}

// fixtureText renders the current frame, one line per segment.
func (s *TUIPlatform) fixtureText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf strings.Builder
	for _, seg := range s.segments {
		seg.setValues(&s.frame)
		buf.WriteString(seg.render())
		buf.WriteString("\n")
	}
	return buf.String()
}

func (s *TUIPlatform) draw(status controller.Status, rebuilt bool) {
	fixtures := s.fixtureText()
	line := statusText(status)
	grid := status.UIMode == controller.InteractiveGrid.String()
	s.mu.Lock()
	s.grid = grid
	var names []string
	if rebuilt {
		names = s.data.Library.Names()
	}
	s.mu.Unlock()

	s.tviewapp.QueueUpdateDraw(func() {
		s.statusView.SetText(line)
		s.fixtureView.SetText(fixtures)
		if rebuilt {
			s.sceneList.Clear()
			for _, name := range names {
				s.sceneList.AddItem(name, "", 0, nil)
			}
		}
		if grid {
			s.pages.SwitchToPage(pageGrid)
			s.tviewapp.SetFocus(s.sceneList)
		} else {
			s.pages.SwitchToPage(pageFixtures)
		}
	})
}

// statusText is the two line summary above the fixture view.
func statusText(st controller.Status) string {
	mode := "[#00ff00]" + st.ModeName + "[-]"
	if st.Mode == controller.Override {
		mode = "[#ffff00]" + st.ModeName + "[-] (" + st.Override + ")"
	}
	var flags []string
	if st.Forced {
		flags = append(flags, "forced")
	}
	if st.Incompatible {
		flags = append(flags, "[#ff0000]incompatible[-]")
	}
	if st.PredictionDegraded {
		flags = append(flags, "[#ff0000]prediction off[-]")
	}
	if st.OutputDegraded {
		flags = append(flags, "[#ff0000]output failing[-]")
	}
	rendered := st.Rendered
	if st.Requested != "" && st.Requested != st.Rendered {
		rendered = st.Requested + " → " + st.Rendered
	}
	line1 := fmt.Sprintf(" Profile [#00ffff]%s[-] | Mode %s | Scene [::b]%s[::-] %s",
		st.Profile, mode, rendered, strings.Join(flags, " "))
	line2 := fmt.Sprintf(" Prediction %s (cluster %d, raw %s) | %d predictions",
		orDash(st.Predicted), st.Cluster, orDash(st.RawPrediction), st.Predictions)
	return line1 + "\n" + line2
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
