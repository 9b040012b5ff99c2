package memorymirror

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-syncs a Mirror's directory whenever a .md file inside it
// changes on disk, so a hand-edit made outside the chat surface is picked
// up without restarting the process.
type Watcher struct {
	mirror  *Mirror
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching dir for Write/Create events on .md files.
func NewWatcher(mirror *Mirror, dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{mirror: mirror, watcher: fw}
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
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			principal := strings.TrimSuffix(filepath.Base(event.Name), ".md")
			if err := w.mirror.Sync(context.Background(), principal); err != nil {
				slog.Error("memorymirror sync failed", "principal", principal, "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("memorymirror watcher error", "error", err)
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
