package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roelfdiedericks/clawgate/internal/bus"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

// TopicApplied is published with a *Config payload whenever the config file
// changes on disk and reloads cleanly. Channel adapters and the gateway
// subscribe to pick up allow-list and toggle changes without a restart.
const TopicApplied = "config.applied"

// debounce interval for editor save bursts (rename+write+chmod)
const watchDebounce = 500 * time.Millisecond

// Watcher re-loads the config file on change and republishes it on the bus.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path. The parent directory is watched rather than the
// file itself so atomic rename-style saves are still seen.
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	go w.run()
	L_debug("config: watching", "path", path)
	return w, nil
}

// Stop tears down the watcher.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
}

func (w *Watcher) run() {
	var pending *time.Timer
	base := filepath.Base(w.path)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(watchDebounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("config: watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		L_error("config: reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	L_info("config: reloaded", "path", w.path)
	bus.PublishEventWithSource(TopicApplied, cfg, "watcher")
}
