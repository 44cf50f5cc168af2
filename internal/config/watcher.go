package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/Muvon/octomind-sub000/internal/event"
	"github.com/Muvon/octomind-sub000/internal/logging"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// reloadDelay coalesces the bursts of events editors produce on save.
const reloadDelay = 150 * time.Millisecond

// Watcher reloads the configuration when one of its source files changes.
// A reload that fails to load or validate keeps the previous configuration.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	files     map[string]bool
	onChange  func(*types.Config)
	sink      event.Sink
	log       zerolog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewWatcher watches every config location of directory, including files
// that do not exist yet. A nil sink discards events.
func NewWatcher(directory string, onChange func(*types.Config), sink event.Sink) (*Watcher, error) {
	if sink == nil {
		sink = event.Discard
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, path := range candidates(directory) {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	w := &Watcher{
		watcher:   fw,
		directory: directory,
		files:     files,
		onChange:  onChange,
		sink:      sink,
		log:       logging.Component("config"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	// Directories are watched rather than files so that editors replacing a
	// file by rename are seen.
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return w.files[abs]
}

func (w *Watcher) reload() {
	cfg, sources, err := load(w.directory)
	if err != nil {
		w.log.Error().Err(err).Msg("Config reload failed, keeping previous configuration")
		w.sink.Publish(event.Event{Type: event.ConfigReloaded, Data: event.ConfigData{Error: err.Error()}})
		return
	}
	w.log.Info().Strs("sources", sources).Msg("Config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
	w.sink.Publish(event.Event{Type: event.ConfigReloaded, Data: event.ConfigData{Sources: sources}})
}

// Stop stops the watcher and waits for a running reload to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}
