package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch invalidates loader whenever the catalog file at path is written,
// created or renamed into place. It blocks until ctx is cancelled.
// The parent directory is watched so editors that replace the file
// atomically are picked up too.
func Watch(ctx context.Context, loader *Loader, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				loader.logger.Debug("catalog file changed", zap.String("op", ev.Op.String()))
				loader.Invalidate()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			loader.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}
