package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must stay unchanged before it is indexed.
const DefaultSettle = 500 * time.Millisecond

// Watcher indexes documents as they appear in watched directories. Each path
// is added once; edits to an already indexed file need a full Reindex.
type Watcher struct {
	indexer *Indexer
	watcher *fsnotify.Watcher
	settle  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	indexed map[string]bool
	closed  bool
	wg      sync.WaitGroup
}

// NewWatcher watches dirs, creating them if needed. Files already present are
// treated as indexed.
func NewWatcher(ix *Indexer, dirs []string, settle time.Duration) (*Watcher, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		indexer: ix,
		watcher: fw,
		settle:  settle,
		pending: make(map[string]*time.Timer),
		indexed: make(map[string]bool),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fw.Close()
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	existing, err := Scan(dirs)
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, p := range existing {
		w.indexed[p] = true
	}
	return w, nil
}

// Run processes events until ctx is done, then closes the watcher and waits
// for in-flight indexing.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		w.closed = true
		for _, t := range w.pending {
			t.Stop()
		}
		w.mu.Unlock()
		w.watcher.Close()
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !Supported(ev.Name) || !(ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write)) {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "err", err)
		}
	}
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.indexed[path] {
		slog.Info("indexed document changed, run reindex to refresh it", "path", path)
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		if w.closed || w.indexed[path] {
			w.mu.Unlock()
			return
		}
		w.indexed[path] = true
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		if _, err := w.indexer.AddFile(ctx, path); err != nil {
			slog.Warn("incremental index failed", "path", path, "err", err)
			w.mu.Lock()
			delete(w.indexed, path)
			w.mu.Unlock()
		}
	})
}
