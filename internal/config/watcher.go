package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler is called with the freshly parsed config after the file on
// disk changes. Handler errors veto nothing; the new config is already
// live for subsequent Watcher.Current calls.
type ReloadHandler func(cfg *Config) error

// Watcher hot-reloads the config file. Only a subset of settings can take
// effect at runtime (log level, tool timeouts, preference thresholds);
// handlers decide what to apply.
type Watcher struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	handlers []ReloadHandler
	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	current *Config
}

// NewWatcher loads the file once and begins watching its directory.
// Watching the directory rather than the file survives the rename-replace
// pattern editors and configmap mounts use.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		path:    path,
		logger:  logger,
		watcher: fsw,
		stopCh:  make(chan struct{}),
		current: cfg,
	}
	go w.loop()
	return w, nil
}

// OnReload registers a handler invoked after each successful reload.
func (w *Watcher) OnReload(h ReloadHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	// Editors fire bursts of events per save; debounce before reloading.
	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)
		case <-pending:
			pending = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		// Keep serving the last good config.
		w.logger.Error("config reload failed, keeping previous config",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = cfg
	handlers := append([]ReloadHandler(nil), w.handlers...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, h := range handlers {
		if err := h(cfg); err != nil {
			w.logger.Warn("config reload handler failed", zap.Error(err))
		}
	}
}
