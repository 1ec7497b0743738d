// Package watch reloads the kit registry when the kits file changes on disk.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"uniquekits.dev/internal/kit"
)

const DefaultDebounce = 500 * time.Millisecond

type Reloader interface {
	Reload(ctx context.Context) ([]kit.Issue, error)
}

// Watcher watches the directory holding the kits file, since editors and our
// own saves replace the file by rename. Bursts of events are collapsed into a
// single reload once the file has been quiet for the debounce window.
type Watcher struct {
	path     string
	reloader Reloader
	debounce time.Duration
	log      *zap.Logger

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	due     time.Time
	reloads int
}

func New(path string, r Reloader, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     abs,
		reloader: r,
		debounce: debounce,
		log:      log.Named("watch"),
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.log.Info("watching kits file", zap.String("path", w.path))
	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.fsw.Close(); err != nil {
		w.log.Warn("close watcher", zap.Error(err))
	}
}

// Reloads is the number of reloads triggered so far.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.debounce / 5)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		case now := <-tick.C:
			w.maybeReload(ctx, now)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return
	}
	w.log.Debug("kits file event", zap.String("op", ev.Op.String()))
	w.mu.Lock()
	w.due = time.Now().Add(w.debounce)
	w.mu.Unlock()
}

func (w *Watcher) maybeReload(ctx context.Context, now time.Time) {
	w.mu.Lock()
	if w.due.IsZero() || now.Before(w.due) {
		w.mu.Unlock()
		return
	}
	w.due = time.Time{}
	w.reloads++
	w.mu.Unlock()

	issues, err := w.reloader.Reload(ctx)
	if err != nil {
		w.log.Error("reload kits", zap.Error(err))
		return
	}
	w.log.Info("kits reloaded from disk", zap.Int("issues", len(issues)))
}
