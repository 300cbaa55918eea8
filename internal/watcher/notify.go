package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"mimewatch/internal/config"
	"mimewatch/internal/scanner"
)

// renameWindow is how soon a Create must follow a Rename to count as a move
// within the watched tree.
const renameWindow = 100 * time.Millisecond

// notifyWorker watches a directory tree through fsnotify.
type notifyWorker struct {
	s          *Supervisor
	watch      config.Watch
	logger     *slog.Logger
	fw         *fsnotify.Watcher
	lastRename time.Time
}

func (s *Supervisor) newNotifyWorker(w config.Watch, logger *slog.Logger) *notifyWorker {
	return &notifyWorker{s: s, watch: w, logger: logger}
}

// Run registers the tree and processes notifications until ctx is done.
func (n *notifyWorker) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start notifier: %w", err)
	}
	defer fw.Close()
	n.fw = fw

	if err := n.addTree(n.watch.Path); err != nil {
		return err
	}
	deb := newDebouncer(n.watch.Debounce.Duration(), n.s.dispatchFunc(ctx, n.watch, n.logger))
	defer deb.stop()
	n.logger.Info("watching", "recursive", n.watch.Recursive, "rules", len(n.watch.Rules))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			n.handle(deb, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			n.logger.Error("notifier error", "err", err)
		}
	}
}

func (n *notifyWorker) handle(deb *debouncer, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if n.watch.Recursive {
				if err := n.addTree(ev.Name); err != nil {
					n.logger.Warn("cannot watch new directory", "path", ev.Name, "err", err)
				}
			}
			return
		}
		kind := config.EventCreate
		if !n.lastRename.IsZero() && time.Since(n.lastRename) < renameWindow {
			kind = config.EventMove
		}
		n.s.accept(&n.watch, deb, ev.Name, kind)
	case ev.Has(fsnotify.Write):
		if info, err := os.Stat(ev.Name); err != nil || info.IsDir() {
			return
		}
		n.s.accept(&n.watch, deb, ev.Name, config.EventModify)
	case ev.Has(fsnotify.Remove):
		n.s.accept(&n.watch, deb, ev.Name, config.EventDelete)
	case ev.Has(fsnotify.Rename):
		// The old name; the new one arrives as a Create.
		n.lastRename = time.Now()
	}
}

// addTree registers root and, for recursive watches, every directory below
// it that is not ignored.
func (n *notifyWorker) addTree(root string) error {
	dirs, err := scanner.New(root, n.watch.Recursive, n.skip(root)).Dirs()
	if err != nil {
		return fmt.Errorf("list %s: %w", root, err)
	}
	for _, d := range dirs {
		if err := n.fw.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
		n.logger.Debug("registered directory", "dir", d)
	}
	return nil
}

// skip adapts the watch's ignore globs, which are relative to the watch
// root, to a scanner rooted at a subdirectory.
func (n *notifyWorker) skip(root string) scanner.Skip {
	return func(rel string) bool {
		full, err := relTo(n.watch.Path, root, rel)
		if err != nil {
			return false
		}
		return n.watch.Ignored(full)
	}
}

// relTo converts a path relative to sub into one relative to root.
func relTo(root, sub, rel string) (string, error) {
	return filepath.Rel(root, filepath.Join(sub, rel))
}
