package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event carries a reloaded configuration or the error that prevented it.
type Event struct {
	Path   string
	Config *Config
	Error  error
}

// Watcher reloads the config file when it changes on disk, so a running
// loop can pick up tuning changes (poll intervals, backoff margins)
// without a restart.
type Watcher struct {
	loader   *Loader
	path     string
	watcher  *fsnotify.Watcher
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	debounce time.Duration

	mu      sync.RWMutex
	current *Config
}

// NewWatcher creates a watcher over an explicit config file path.
func NewWatcher(loader *Loader, path string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		loader:   loader,
		path:     path,
		watcher:  fsWatcher,
		events:   make(chan Event, 4),
		done:     make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Events returns the channel receiving reload events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Current returns the most recently loaded config, if any.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start loads the file once and then begins watching its directory.
// Watching the directory instead of the file survives editors that
// rename-and-replace on save.
func (w *Watcher) Start(ctx context.Context) error {
	w.loader.SetConfigFile(w.path)
	cfg, err := w.loader.Load()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	go w.run(ctx)
	return nil
}

// Stop shuts the watcher down. The event channel is closed by the watch
// goroutine once it has drained, so Stop never races a pending send.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)

	var timer *time.Timer
	pending := false

	fire := func() {
		pending = false
		cfg, err := w.loader.Load()
		if err == nil {
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
		}
		select {
		case w.events <- Event{Path: w.path, Config: cfg, Error: err}:
		default:
		}
	}

	for {
		var debounced <-chan time.Time
		if timer != nil {
			debounced = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else if !pending {
				timer.Reset(w.debounce)
			}
			pending = true
		case <-debounced:
			if pending {
				fire()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
