package quarry

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceWindow is how long the watcher coalesces events per path before
// dispatching. Editors save in bursts (write, chmod, rename dance); one
// re-index per burst is enough.
const DebounceWindow = 500 * time.Millisecond

// Watcher translates filesystem events under the index root into
// per-file re-index or removal calls on the Engine. It never writes to
// the store directly.
type Watcher struct {
	engine   *Engine
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]fsnotify.Op

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce overrides the coalescing window, mainly for tests.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watch starts watching the Engine's root. Events are debounced and
// coalesced per path; create and modify trigger IndexSingle, delete
// triggers Forget, and a rename is a delete of the old path followed by a
// create of the new one. Stop the watcher with Stop.
func (e *Engine) Watch(ctx context.Context, opts ...WatchOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &Error{Kind: IOError, Op: "watch", Err: err}
	}

	w := &Watcher{
		engine:   e,
		fsw:      fsw,
		debounce: DebounceWindow,
		pending:  make(map[string]fsnotify.Op),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	// fsnotify watches are per-directory, not recursive.
	err = filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != e.root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return nil, &Error{Kind: IOError, Op: "watch", Err: err}
	}

	go w.run(ctx)
	return w, nil
}

// Stop halts the watcher. The request is honored after the current event
// batch drains.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.fsw.Close()
	})
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	for {
		select {
		case <-w.stop:
			w.flush(ctx)
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.flush(ctx)
				return
			}
			w.observe(ev)
			if !timerArmed {
				timer.Reset(w.debounce)
				timerArmed = true
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Backend failure stops watching; indexing runs continue.
			slog.Warn("watch backend error", "error", err)
			return
		case <-timer.C:
			timerArmed = false
			w.flush(ctx)
		}
	}
}

// observe coalesces one event into the pending set. A delete or rename of
// a path overrides earlier writes to it; anything after a create refreshes
// the same re-index.
func (w *Watcher) observe(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		// A directory appearing under the root must be watched too;
		// rename-into-root arrives as a create.
		if w.isDir(ev.Name) {
			_ = w.fsw.Add(ev.Name)
			return
		}
	}
	if ev.Op.Has(fsnotify.Chmod) && ev.Op&^fsnotify.Chmod == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		w.pending[ev.Name] = fsnotify.Remove
		return
	}
	if cur, ok := w.pending[ev.Name]; !ok || cur != fsnotify.Remove {
		w.pending[ev.Name] = ev.Op
	} else {
		// A remove followed by a create is a replace; re-index wins.
		w.pending[ev.Name] = fsnotify.Create
	}
}

func (w *Watcher) isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// flush drains the pending set and dispatches through the Engine.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.mu.Unlock()

	for path, op := range batch {
		var err error
		if op == fsnotify.Remove {
			err = w.engine.Forget(ctx, path)
		} else {
			err = w.engine.IndexSingle(ctx, path)
		}
		if err != nil {
			slog.Warn("watch dispatch failed", "path", path, "error", err)
		}
	}
}
