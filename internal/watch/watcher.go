// Package watch re-runs analysis when Java sources change.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/chris-regnier/callsite/internal/input"
)

// Watcher feeds filesystem changes under a root into a Debouncer.
type Watcher struct {
	root   string
	fsw    *fsnotify.Watcher
	deb    *Debouncer
	logger *slog.Logger
}

// New watches every non-ignored directory under root. onTrigger receives
// batches of changed files that match the watch patterns.
func New(root string, cfg Config, onTrigger func(files []string), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:   root,
		fsw:    fsw,
		deb:    NewDebouncer(cfg, onTrigger),
		logger: logger,
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) ignored(path string) bool {
	for _, pattern := range w.deb.Config().IgnorePatterns {
		if input.MatchGlob(path, pattern) {
			return true
		}
	}
	return false
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignored(path) {
			return filepath.SkipDir
		}
		w.logger.Debug("watching directory", "path", path)
		return w.fsw.Add(path)
	})
}

// Run delivers events until ctx is cancelled, then stops the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	defer w.deb.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.ignored(ev.Name) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("cannot watch new directory", "path", ev.Name, "err", err)
				}
			}
			return
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if w.deb.ShouldWatch(ev.Name) {
		w.logger.Debug("file changed", "path", ev.Name, "op", ev.Op.String())
		w.deb.FileChanged(ev.Name)
	}
}
