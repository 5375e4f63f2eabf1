// Package watch reruns a callback when files under a set of directory trees
// change. Bursts of events are collapsed into one call per debounce window.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dmitrijs2005/cloudup/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithIgnore skips events for the given paths and everything below them.
// Build outputs belong here, otherwise every run triggers the next one.
func WithIgnore(paths ...string) Option {
	return func(w *Watcher) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil {
				w.ignore = append(w.ignore, abs)
			}
		}
	}
}

// Watcher monitors directory trees with fsnotify.
type Watcher struct {
	roots    []string
	ignore   []string
	debounce time.Duration
	logger   logging.Logger

	// ready is called once all roots are watched.
	ready func()
}

func New(roots []string, debounce time.Duration, logger logging.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		roots:    roots,
		debounce: debounce,
		logger:   logging.OrNop(logger).With("component", "watch"),
		ready:    func() {},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Roots returns the directories to watch for a set of source patterns: the
// non-glob prefix of every include pattern, resolved against cwd.
func Roots(cwd string, patterns []string) []string {
	var roots []string
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			continue
		}
		base, _ := doublestar.SplitPattern(filepath.ToSlash(p))
		dir := filepath.FromSlash(base)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cwd, dir)
		}
		dir = filepath.Clean(dir)
		if !slices.Contains(roots, dir) {
			roots = append(roots, dir)
		}
	}
	return roots
}

// Run blocks until ctx is done, calling onChange after each quiet period
// that follows a change. Errors from onChange are logged and watching goes
// on.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	for _, root := range w.roots {
		if err := w.addTree(fsw, root); err != nil {
			return err
		}
	}
	w.logger.Info(ctx, "watching for changes", "roots", w.roots, "debounce", w.debounce.String())
	w.ready()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.logger.Warn(ctx, "cannot watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug(ctx, "change detected", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(ctx, "watcher error", "error", err)

		case <-timer.C:
			if err := onChange(ctx); err != nil {
				w.logger.Error(ctx, "run failed", "error", err)
			}
		}
	}
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, ig := range w.ignore {
		if abs == ig || strings.HasPrefix(abs, ig+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
