// Package watch re-runs triggers when the filesystem below their pattern
// roots changes.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Watcher.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// RunFunc evaluates the triggers. changed is nil for the initial run and
// otherwise holds the sorted, deduplicated paths reported since the last run.
type RunFunc func(ctx context.Context, changed []string) error

// Watcher watches directory trees and calls Run after each burst of events.
//
// A root that does not exist yet is watched through its nearest existing
// ancestor and picked up once it is created.
type Watcher struct {
	Roots    []string
	Debounce time.Duration
	Logger   *slog.Logger
	Run      RunFunc

	// Ignore drops events for matching paths. Optional.
	Ignore func(path string) bool

	fsw *fsnotify.Watcher
}

// Watch calls Run once, then again after every debounced batch of changes,
// until ctx is done. An error from the first run is returned; later errors
// are logged and do not stop the loop. Watch returns nil when ctx is
// cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.Run == nil {
		return errors.New("watch: nil run func")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	w.fsw = fsw

	for _, root := range w.Roots {
		if err := w.addRoot(filepath.Clean(root)); err != nil {
			return err
		}
	}
	logger.InfoContext(ctx, "watching", slog.Int("roots", len(w.Roots)), slog.Int("directories", len(fsw.WatchList())))

	if err := w.Run(ctx, nil); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				w.follow(ev.Name, logger)
			}
			if !w.relevant(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "watch error", slog.String("error", err.Error()))

		case <-timerC:
			timer, timerC = nil, nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			clear(pending)
			sort.Strings(changed)
			w.run(ctx, logger, changed)
		}
	}
}

func (w *Watcher) run(ctx context.Context, logger *slog.Logger, changed []string) {
	if ctx.Err() != nil {
		return
	}
	logger.DebugContext(ctx, "re-evaluating triggers", slog.Int("changed", len(changed)))
	if err := w.Run(ctx, changed); err != nil {
		logger.ErrorContext(ctx, "trigger run failed", slog.String("error", err.Error()))
	}
}

// relevant reports whether path lies below a root and is not ignored.
func (w *Watcher) relevant(path string) bool {
	if w.Ignore != nil && w.Ignore(path) {
		return false
	}
	for _, root := range w.Roots {
		if within(filepath.Clean(root), path) {
			return true
		}
	}
	return false
}

// follow extends the watch to a newly created directory.
func (w *Watcher) follow(path string, logger *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	for _, root := range w.Roots {
		root = filepath.Clean(root)
		var err error
		switch {
		case within(root, path):
			err = w.addTree(path)
		case within(path, root):
			err = w.addRoot(root)
		}
		if err != nil {
			logger.Warn("cannot watch directory", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
}

// addRoot watches root recursively, or its nearest existing ancestor when
// root is missing.
func (w *Watcher) addRoot(root string) error {
	dir := root
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				dir = filepath.Dir(dir)
				continue
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return err
		}
		dir = parent
	}
	if dir == root {
		return w.addTree(root)
	}
	return w.fsw.Add(dir)
}

func (w *Watcher) addTree(root string) error {
	return w.addDirs(root, nil)
}

// addDirs watches dir and every directory below it, following symlinked
// directories. ancestors holds the directories on the current path so a
// link back up the tree is not entered again.
func (w *Watcher) addDirs(dir string, ancestors []fs.FileInfo) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		// Directories can vanish while walking.
		return nil
	}
	for _, a := range ancestors {
		if os.SameFile(a, info) {
			return nil
		}
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	ancestors = append(ancestors, info)
	for _, e := range entries {
		if !e.IsDir() && e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		if err := w.addDirs(filepath.Join(dir, e.Name()), ancestors); err != nil {
			return err
		}
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	if path == dir || dir == "/" {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
