package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// DefaultDebounce is how long a file must stay quiet before it is ingested.
const DefaultDebounce = time.Second

// Ingester is the part of Service the watcher drives.
type Ingester interface {
	Ingest(ctx context.Context, path, source string) (domain.IngestResult, error)
	Supports(name string) bool
}

// Watcher ingests supported files dropped into a directory. Files present
// at start are queued too. Events for the same file are debounced so a
// file still being written is picked up once, after the last write.
type Watcher struct {
	ingester Ingester
	dir      string
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher creates a watcher for dir. A non-positive debounce uses DefaultDebounce.
func NewWatcher(ingester Ingester, dir string, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{ingester: ingester, dir: dir, debounce: debounce, logger: logger}
}

// Run watches until ctx is done. Ingestion runs on the calling goroutine,
// one file at a time.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching inbox", zap.String("dir", w.dir))

	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	schedule := func(path string) {
		if t, ok := timers[path]; ok {
			t.Reset(w.debounce)
			return
		}
		timers[path] = time.AfterFunc(w.debounce, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for _, path := range w.existing() {
		schedule(path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.ingester.Supports(ev.Name) {
				continue
			}
			schedule(ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		case path := <-ready:
			delete(timers, path)
			w.ingest(ctx, path)
		}
	}
}

func (w *Watcher) existing() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("Failed to scan inbox", zap.String("dir", w.dir), zap.Error(err))
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && w.ingester.Supports(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	return paths
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	res, err := w.ingester.Ingest(ctx, path, "")
	switch {
	case err == nil:
		w.logger.Info("Ingested from inbox", zap.String("source", res.Source), zap.Int("chunks", res.ChunksAdded))
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput):
		// Already handled by an upload, or moved away.
		w.logger.Debug("Skipped inbox file", zap.String("path", path), zap.Error(err))
	default:
		w.logger.Error("Inbox ingestion failed", zap.String("path", path), zap.Error(err))
	}
}
