package links

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Manager when its document is edited on disk.
// Bursts of events are collapsed into one reload.
type Watcher struct {
	m        *Manager
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func([]string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher watches the directory holding m's document. Watching the
// directory keeps working across atomic replace-by-rename edits.
func NewWatcher(m *Manager, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(m.Path())); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(m.Path()), err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{m: m, watcher: fw, debounce: debounce, ctx: ctx, cancel: cancel}, nil
}

// OnReload sets a callback invoked with the links after each reload.
// It must be set before Start.
func (w *Watcher) OnReload(fn func([]string)) {
	w.onReload = fn
}

// Start begins processing events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop stops the watcher and waits for its goroutine.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	target := filepath.Clean(w.m.Path())
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.m.log.Warn("links watcher error", "error", err)

		case <-timer.C:
			if err := w.m.Reload(); err != nil {
				w.m.log.Warn("failed to reload preferred links", "error", err)
				continue
			}
			links := w.m.Links()
			w.m.log.Info("reloaded preferred links", "count", len(links))
			if w.onReload != nil {
				w.onReload(links)
			}
		}
	}
}
