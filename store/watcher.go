package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls onChange once per burst of file system events below the
// watched paths. Bursts shorter than debounce are collapsed.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debounce  time.Duration
	onChange  func()
	stopchan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWatcher watches the data directory (profiles and scenes included) and
// any extra files, typically the configuration file.
func NewWatcher(dataDir string, extra []string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	paths := []string{dataDir, filepath.Join(dataDir, ProfilesDir), filepath.Join(dataDir, ScenesDir)}
	for _, f := range extra {
		// watch the directory, editors replace files instead of writing them
		paths = append(paths, filepath.Dir(f))
	}
	seen := map[string]bool{}
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		stopchan: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run(filter(dataDir, extra))
	return w, nil
}

// filter accepts events for JSON data files and the extra files.
func filter(dataDir string, extra []string) func(string) bool {
	files := make(map[string]bool, len(extra))
	for _, f := range extra {
		files[filepath.Clean(f)] = true
	}
	return func(name string) bool {
		name = filepath.Clean(name)
		if files[name] {
			return true
		}
		rel, err := filepath.Rel(dataDir, name)
		return err == nil && filepath.Ext(rel) == ".json"
	}
}

func (w *Watcher) run(relevant func(string) bool) {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.stopchan:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) || !relevant(ev.Name) {
				continue
			}
			slog.Debug("Data file changed", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)
		case <-fire:
			fire = nil
			slog.Info("Data files changed, reloading")
			w.onChange()
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopchan)
		w.wg.Wait()
		err = w.fsw.Close()
	})
	return err
}
