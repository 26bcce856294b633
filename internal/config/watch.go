package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher hot-reloads a Config from its source file whenever the file
// changes on disk. Readers get the current snapshot via Current(); it is
// safe to call from multiple goroutines.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching configPath for changes, reloading into a new
// Config snapshot on every write event. The initial Config is loaded
// synchronously so NewWatcher never returns a nil snapshot.
func NewWatcher(configPath string) (*Watcher, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: configPath, done: make(chan struct{})}
	w.current.Store(cfg)

	if configPath == "" {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(configPath); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous snapshot")
				continue
			}
			w.current.Store(cfg)
			log.Info().Str("path", w.path).Msg("config reloaded")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		case <-w.done:
			return
		}
	}
}

// Current returns the most recently loaded Config snapshot.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Close stops watching for changes.
func (w *Watcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
