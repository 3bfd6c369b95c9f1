package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"lautenbacher.net/golights/api"
	"lautenbacher.net/golights/audio"
	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/controller"
	"lautenbacher.net/golights/driver"
	"lautenbacher.net/golights/logging"
	pl "lautenbacher.net/golights/platform"
	"lautenbacher.net/golights/predict"
	"lautenbacher.net/golights/store"
)

const (
	readyTimeout    = 5 * time.Second
	shutdownTimeout = 2 * time.Second
)

type App struct {
	ossignal chan os.Signal
	cfile    string
	realHW   bool
	synth    bool
	profile  string
	conf     *config.Config
	platform pl.Platform
	session  *controller.Session
	api      *api.Server
	watcher  *store.Watcher
	midi     *driver.MidiInput
}

func NewApp(ossignal chan os.Signal) *App {
	return &App{ossignal: ossignal}
}

func main() {
	cfile := flag.String("config", "golights.yml", "Config file to use")
	realHW := flag.Bool("real", false, "Drive the DMX widget on the serial port instead of the TUI simulation")
	synth := flag.Bool("synth", false, "Use a synthetic audio signal instead of the sound card")
	profile := flag.String("profile", "", "Profile to use, overrides Data.Profile")
	flag.Parse()

	ossignal := make(chan os.Signal, 1)
	signal.Notify(ossignal, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	app := NewApp(ossignal)
	app.cfile = *cfile
	app.realHW = *realHW
	app.synth = *synth
	app.profile = *profile

	if err := app.initialise(); err != nil {
		slog.Error("Startup failed", "error", err)
		app.shutdown()
		fmt.Fprintf(os.Stderr, "golights: %v\n", err)
		os.Exit(1)
	}
	app.run()
	app.shutdown()
}

func (a *App) readConfig() (*config.Config, error) {
	conf, err := config.ReadConfig(a.cfile)
	if err != nil {
		return nil, err
	}
	if a.profile != "" {
		conf.Data.Profile = a.profile
	}
	return conf, nil
}

func (a *App) initialise() error {
	conf, err := a.readConfig()
	if err != nil {
		return err
	}
	a.conf = conf

	logCfg := conf.Logging.TUI
	if a.realHW {
		logCfg = conf.Logging.HW
	}
	if err := logging.Init(!a.realHW, logCfg.Level, logCfg.Format, logCfg.File != "", logCfg.File); err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}

	if a.realHW {
		a.platform = pl.NewSerialPlatform(conf)
	} else {
		a.platform = pl.NewTUIPlatform(conf)
	}
	if err := a.platform.Start(); err != nil {
		return fmt.Errorf("failed to start platform: %w", err)
	}
	select {
	case <-a.platform.Ready():
	case <-time.After(readyTimeout):
		slog.Warn("Platform not ready in time, continuing", "timeout", readyTimeout)
	}

	if err := a.startSession(conf); err != nil {
		return err
	}

	if conf.Control.HTTPAddr != "" {
		a.api = api.NewServer(conf.Control.HTTPAddr, a.cfile, a.session)
		a.api.OnConfigSaved = a.requestReload
		if err := a.api.Start(); err != nil {
			return err
		}
	}

	if conf.Data.Watch {
		a.watcher, err = store.NewWatcher(conf.Data.Dir, []string{a.cfile}, conf.Data.WatchDebounce, a.requestReload)
		if err != nil {
			return err
		}
	}

	if conf.Control.MidiPort != "" {
		midi := driver.NewMidiInput()
		if err := midi.Open(conf.Control.MidiPort); err != nil {
			slog.Warn("MIDI control unavailable", "port", conf.Control.MidiPort, "error", err)
		} else {
			a.midi = midi
		}
	}
	slog.Info("golights started", "profile", conf.Data.Profile, "real", a.realHW, "api", conf.Control.HTTPAddr)
	return nil
}

// requestReload asks the run loop for a reload. A reload already pending
// covers this one.
func (a *App) requestReload() {
	select {
	case a.ossignal <- syscall.SIGHUP:
	default:
	}
}

func (a *App) newSession(conf *config.Config) (*controller.Session, error) {
	var predictor predict.Predictor
	if conf.Prediction.Enabled {
		p, err := predict.New(conf.Prediction)
		if err != nil {
			return nil, err
		}
		predictor = p
	}
	return controller.NewSession(controller.Options{
		Config: conf,
		Load: func() (*store.Data, error) {
			return store.Load(conf.Data.Dir, conf.Data.Profile)
		},
		Streams:   a.streams(conf),
		Predictor: predictor,
		Open:      a.platform.Open,
		Rand:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	})
}

func (a *App) streams(conf *config.Config) func(*audio.Manager) ([]audio.Stream, error) {
	return func(m *audio.Manager) ([]audio.Stream, error) {
		if a.synth || !driver.Available {
			slog.Info("Using synthetic audio")
			return driver.SynthStreams(conf.Audio, m), nil
		}
		return driver.OpenStreams(conf.Audio, m)
	}
}

func (a *App) startSession(conf *config.Config) error {
	session, err := a.newSession(conf)
	if err != nil {
		return err
	}
	a.platform.Attach(session)
	if err := session.Start(); err != nil {
		session.Close()
		return err
	}
	a.session = session
	return nil
}

// run blocks until a signal, a quit key or a shutdown command arrives.
func (a *App) run() {
	for {
		select {
		case sig := <-a.ossignal:
			if sig == syscall.SIGHUP {
				a.reload()
				continue
			}
			slog.Info("Received signal, shutting down", "signal", sig)
			return
		case cmd := <-a.platform.Commands():
			if cmd.Kind == controller.CmdShutdown {
				slog.Info("Shutdown requested")
				return
			}
			a.session.Dispatch(cmd)
		case note := <-a.midi.Notes():
			a.selectByMidi(note)
		case <-a.session.Done():
			return
		}
	}
}

func (a *App) selectByMidi(note int) {
	name, ok := a.session.Data().Library.ByMidi(note)
	if !ok {
		slog.Debug("No scene for MIDI note", "note", note)
		return
	}
	slog.Info("Scene selected by MIDI", "note", note, "scene", name)
	a.session.Dispatch(controller.Select(name))
}

// reload re-reads the configuration. An unchanged configuration only reloads
// the data directory; anything else restarts the session.
func (a *App) reload() {
	conf, err := a.readConfig()
	if err != nil {
		slog.Error("Reload failed, keeping the running configuration", "error", err)
		return
	}
	if reflect.DeepEqual(conf, a.conf) {
		if err := a.session.Reload(); err != nil {
			slog.Error("Data reload failed", "error", err)
		}
		return
	}

	slog.Info("Configuration changed, restarting session")
	if err := a.session.Close(); err != nil {
		slog.Warn("Error closing session", "error", err)
	}
	if err := a.startSession(conf); err != nil {
		slog.Error("Restart with the new configuration failed, going back to the previous one", "error", err)
		if err := a.startSession(a.conf); err != nil {
			// the closed session's Done ends run
			slog.Error("Restart failed", "error", err)
			return
		}
	} else {
		a.conf = conf
	}
	if a.api != nil {
		a.api.Attach(a.session)
	}
}

func (a *App) shutdown() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if err := a.midi.Close(); err != nil {
		slog.Warn("Closing MIDI input", "error", err)
	}
	if a.api != nil {
		if err := a.api.Close(shutdownTimeout); err != nil {
			slog.Warn("HTTP server shutdown", "error", err)
		}
	}
	if a.session != nil {
		if err := a.session.Close(); err != nil && !errors.Is(err, controller.ErrShutdown) {
			slog.Warn("Session closed with errors", "error", err)
		}
	}
	if a.platform != nil {
		a.platform.Stop()
	}
	driver.Terminate()
	slog.Info("golights stopped")
	logging.Close()
}
