package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads cfg in place whenever its backing file changes on disk,
// so a running process picks up edits without a restart.
type Watcher struct {
	path    string
	cfg     *Config
	watcher *fsnotify.Watcher
	onReload func(*Config)
}

// NewWatcher starts watching path's directory (editors replace files via
// rename, which fsnotify only reports against the containing directory,
// not the file itself) and applies reloads to cfg via ReplaceFrom.
func NewWatcher(path string, cfg *Config, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{path: path, cfg: cfg, watcher: fw, onReload: onReload}
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
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	fresh, err := Load(w.path)
	if err != nil {
		slog.Error("config hot-reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	fresh.ApplyEnvOverrides()
	w.cfg.ReplaceFrom(fresh)
	slog.Info("config reloaded", "path", w.path, "hash", w.cfg.Hash())
	if w.onReload != nil {
		w.onReload(w.cfg)
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
