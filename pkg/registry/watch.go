package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/morezero/streamcall/pkg/events"
)

const watchLogPrefix = "registry:watch"

// Watcher fires a callback once file changes have been quiet for the
// debounce period. It watches the directories holding the files, so editors
// that replace a file by renaming still trigger it.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	files    func() []string
	fire     func()

	mu      sync.Mutex
	dirs    map[string]bool
	watched map[string]bool
	timer   *time.Timer
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher over the files returned by files. The list is
// re-read after every fire so includes added by a reload are picked up.
func NewWatcher(debounce time.Duration, files func() []string, fire func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create watcher: %w", watchLogPrefix, err)
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		files:    files,
		fire:     fire,
		dirs:     make(map[string]bool),
		watched:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	if err := w.sync(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Start runs the event loop until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.stopped = true
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !w.isWatched(ev.Name) {
				continue
			}
			slog.Debug(fmt.Sprintf("%s - %s %s", watchLogPrefix, ev.Op, ev.Name))
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn(fmt.Sprintf("%s - watcher error: %v", watchLogPrefix, err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}
	w.fire()
	if err := w.sync(); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to refresh watch list: %v", watchLogPrefix, err))
	}
}

func (w *Watcher) isWatched(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[filepath.Clean(name)]
}

func (w *Watcher) sync() error {
	files := w.files()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.watched = make(map[string]bool, len(files))
	for _, f := range files {
		f = filepath.Clean(f)
		w.watched[f] = true
		dir := filepath.Dir(f)
		if w.dirs[dir] {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("%s - failed to watch %s: %w", watchLogPrefix, dir, err)
		}
		w.dirs[dir] = true
	}
	return nil
}

// Watch reloads prefix whenever one of its manifest files changes and calls
// onChange with the outcome. Failed reloads keep the previous tree.
func (r *Registry) Watch(ctx context.Context, prefix string, onChange func(*events.ReloadEvent)) (*Watcher, error) {
	ns, err := r.lookup(prefix)
	if err != nil {
		return nil, err
	}

	w, err := NewWatcher(r.config.Debounce,
		func() []string {
			if snap := ns.current.Load(); snap != nil {
				return snap.Files
			}
			return nil
		},
		func() {
			ev, _, _ := r.reloadNamespace(context.WithoutCancel(ctx), ns)
			if onChange != nil {
				onChange(ev)
			}
		},
	)
	if err != nil {
		return nil, err
	}
	w.Start(ctx)
	slog.Info(fmt.Sprintf("%s - Watching namespace %q (debounce %s)", watchLogPrefix, prefix, r.config.Debounce))
	return w, nil
}
