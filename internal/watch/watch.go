// Package watch re-indexes a repository whenever its source files change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/phobologic/repoctx/internal/discover"
	"github.com/phobologic/repoctx/internal/engine"
	"github.com/phobologic/repoctx/internal/lang"
	"github.com/phobologic/repoctx/internal/model"
)

// DefaultDebounce is how long the tree must stay quiet before a rebuild.
const DefaultDebounce = 300 * time.Millisecond

// Runner builds or refreshes an index. *engine.Engine satisfies it.
type Runner interface {
	LoadOrBuild(ctx context.Context) (*model.Index, *engine.Report, error)
}

// Watcher drives a Runner from filesystem events.
type Watcher struct {
	root        string
	runner      Runner
	debounce    time.Duration
	extraIgnore []string
	logger      *slog.Logger
	onRun       func(*model.Index, *engine.Report, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period that ends a batch of events.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithIgnore names extra directories whose events are dropped.
func WithIgnore(dirs []string) Option {
	return func(w *Watcher) { w.extraIgnore = dirs }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// OnRun registers a callback invoked after every rebuild.
func OnRun(fn func(*model.Index, *engine.Report, error)) Option {
	return func(w *Watcher) { w.onRun = fn }
}

// New returns a Watcher for root.
func New(root string, r Runner, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		runner:   r,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run indexes once, then again after each debounced batch of relevant
// changes, until ctx is cancelled. Rebuild failures are logged and do not
// stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := w.addRecursive(fw, w.root); err != nil {
		return err
	}
	w.rebuild(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if err := w.addRecursive(fw, ev.Name); err != nil {
					w.logger.Warn("watch.add_failed", "path", ev.Name, "err", err)
				}
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("watch.event", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch.error", "err", err)

		case <-fire:
			fire = nil
			w.rebuild(ctx)
		}
	}
}

func (w *Watcher) rebuild(ctx context.Context) {
	idx, rep, err := w.runner.LoadOrBuild(ctx)
	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		w.logger.Error("watch.rebuild_failed", "err", err)
	default:
		w.logger.Info("watch.rebuild",
			"files", idx.Stats.FileCount,
			"parsed", rep.Parsed,
			"written", rep.Written,
			"duration", rep.Duration,
		)
	}
	if w.onRun != nil {
		w.onRun(idx, rep, err)
	}
}

// addRecursive watches dir and every directory below it that the walker
// would descend into. Paths that are not directories are ignored.
func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.root && discover.SkipDir(d.Name(), w.extraIgnore) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// relevant reports whether an event can change the index: a write to a
// file in a registered language, or the removal of anything that could
// contain one. Events under skipped directories never count.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, dir := range parts[:len(parts)-1] {
		if discover.SkipDir(dir, w.extraIgnore) {
			return false
		}
	}
	base := parts[len(parts)-1]
	if strings.HasPrefix(base, ".") {
		return false
	}
	if lang.ForExtension(filepath.Ext(base)) != "" {
		return true
	}
	// A removed or renamed directory takes its files with it.
	return (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) && filepath.Ext(base) == ""
}
