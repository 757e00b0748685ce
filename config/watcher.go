package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/logger"
)

// ReloadCallback is invoked with the freshly-loaded config after a change.
type ReloadCallback func(*Config) error

// Watcher watches the manifest for changes and triggers reload callbacks.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	mu        sync.RWMutex
	callbacks []ReloadCallback

	debounce       *time.Timer
	debouncePeriod time.Duration

	ownWriteMu sync.Mutex
	ownWrite   bool

	done chan struct{}
}

var (
	watcherMu     sync.Mutex
	globalWatcher *Watcher
)

func activeWatcher() *Watcher {
	watcherMu.Lock()
	defer watcherMu.Unlock()
	return globalWatcher
}

// NewWatcher creates a manifest watcher with a 500ms debounce.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "watch manifest %s", path)
	}

	w := &Watcher{
		path:           path,
		watcher:        fw,
		debouncePeriod: 500 * time.Millisecond,
		done:           make(chan struct{}),
	}

	watcherMu.Lock()
	globalWatcher = w
	watcherMu.Unlock()

	return w, nil
}

// OnReload registers a callback for manifest changes.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, cb)
	w.mu.Unlock()
}

// MarkOwnWrite marks the next write as coming from us, preventing reload loops.
func (w *Watcher) MarkOwnWrite() {
	w.ownWriteMu.Lock()
	w.ownWrite = true
	w.ownWriteMu.Unlock()
}

func (w *Watcher) consumeOwnWrite() bool {
	w.ownWriteMu.Lock()
	defer w.ownWriteMu.Unlock()
	if w.ownWrite {
		w.ownWrite = false
		return true
	}
	return false
}

// Start begins watching for manifest changes.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.watcher.Close()

	watcherMu.Lock()
	if globalWatcher == w {
		globalWatcher = nil
	}
	watcherMu.Unlock()
}

func (w *Watcher) loop() {
	log := logger.Named("config")
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if w.consumeOwnWrite() {
				continue
			}
			w.scheduleReload(log)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("Manifest watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload(log interface{ Warnw(string, ...interface{}) }) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debouncePeriod, func() {
		cfg, err := LoadFromFile(w.path)
		if err != nil {
			log.Warnw("Manifest reload failed, keeping previous config", "error", err)
			return
		}
		w.mu.RLock()
		cbs := append([]ReloadCallback{}, w.callbacks...)
		w.mu.RUnlock()
		for _, cb := range cbs {
			if err := cb(cfg); err != nil {
				log.Warnw("Manifest reload callback failed", "error", err)
			}
		}
	})
}
