package edgeguard

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/oarkflow/log"
)

// ConfigWatcher re-reads a JSON config file whenever it changes on disk and
// hands validated configs to an apply callback. Invalid edits are logged and
// ignored; the last good config stays in effect.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	apply    func(Config)
	logger   *log.Logger
	stopOnce sync.Once
	done     chan struct{}
}

// NewConfigWatcher starts watching path. The apply callback runs on the watcher
// goroutine and must not block.
func NewConfigWatcher(path string, apply func(Config), logger *log.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which would drop a
	// watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	w := &ConfigWatcher{
		path:    path,
		watcher: watcher,
		apply:   apply,
		logger:  orDefaultLogger(logger),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *ConfigWatcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(w.path)
			if err != nil {
				w.logger.Warn().Str("path", w.path).Err(err).Msg("config reload rejected")
				continue
			}
			w.logger.Info().Str("path", w.path).Msg("config reloaded")
			w.apply(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Stop tears down the watcher. Idempotent.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.watcher.Close()
		<-w.done
	})
}
