package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
)

// reloadDelay coalesces editor write bursts into a single reload.
var reloadDelay = 250 * time.Millisecond

// Watcher reloads the config file on change and hands each distinct,
// valid result to the callback. A rewrite that fails to load is logged
// and skipped, so the last good configuration stays active. The
// callback runs on the watcher goroutine; keep it brief.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   zerolog.Logger

	fw       *fsnotify.Watcher
	last     Config
	pending  *time.Timer
	reloadCh chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher prepares a watcher for the file at path. current is the
// baseline for change suppression, normally the config Load returned;
// it is never re-delivered.
func NewWatcher(path string, current *Config, onChange func(*Config)) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   log.WithComponent("config"),
	}
	if current != nil {
		w.last = *current
	}
	return w
}

// Start begins watching. The parent directory is watched rather than
// the file itself, so atomic saves that replace the inode keep
// working. Start on a started watcher is a no-op.
func (w *Watcher) Start() error {
	if w.stopCh != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errdefs.NewConfiguration("failed to create config watcher", err)
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return errdefs.NewConfiguration(fmt.Sprintf("failed to watch config directory %s", dir), err).
			WithHint("the directory holding the config file must exist")
	}
	w.fw = fw
	w.reloadCh = make(chan struct{})
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.run()
	w.logger.Debug().Str("path", w.path).Msg("watching config file")
	return nil
}

// Stop halts watching and waits for the goroutine to exit. Safe to
// call twice.
func (w *Watcher) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.done
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.fw.Close()
	w.fw = nil
	w.stopCh = nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case <-w.reloadCh:
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// schedule arms the debounce timer, restarting it when events keep
// arriving inside the window. The channels are captured so a timer
// firing during shutdown sees the closed stop channel, not a nil one.
func (w *Watcher) schedule() {
	if w.pending != nil {
		w.pending.Stop()
	}
	reloadCh, stopCh := w.reloadCh, w.stopCh
	w.pending = time.AfterFunc(reloadDelay, func() {
		select {
		case reloadCh <- struct{}{}:
		case <-stopCh:
		}
	})
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("config reload failed, keeping the previous configuration")
		return
	}
	if *cfg == w.last {
		w.logger.Debug().Msg("config rewrite carried no changes")
		return
	}
	w.last = *cfg
	w.logger.Info().Str("path", w.path).Msg("configuration reloaded")
	w.onChange(cfg)
}
