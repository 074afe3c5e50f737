package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Root        string        // batch root to watch (recursive)
	InitialScan bool          // if true, emit every existing specimen directory first
	Debounce    time.Duration // coalesce rapid image-copy bursts per specimen
}

// StartWatcher watches a batch root and emits specimen directory paths
// whenever images land in them, debounced so a burst of copied files
// yields one event per specimen.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == "" {
		logger.Error("watcher start failed: no root provided")
		return nil, nil, errors.New("no root provided")
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	// Watch the root and every specimen directory under it.
	err = filepath.WalkDir(cfg.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if cfg.InitialScan && AllowedExt(filepath.Ext(path)) {
			select {
			case evCh <- filepath.Dir(path):
			default:
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to watch batch root", "root", cfg.Root, "error", err)
		_ = w.Close()
		return nil, nil, err
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("watcher close failed", "error", err)
			}
		}()

		var timer *time.Timer
		pending := map[string]struct{}{}

		sendPending := func() {
			for dir := range pending {
				select {
				case evCh <- dir:
				default:
				}
				delete(pending, dir)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				// a new specimen directory needs its own watch
				if e.Op&fsnotify.Create == fsnotify.Create {
					if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
						if err := w.Add(e.Name); err != nil {
							logger.Warn("failed to watch new directory", "path", e.Name, "error", err)
						}
					}
				}

				if AllowedExt(filepath.Ext(e.Name)) && (e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename)) != 0 {
					pending[filepath.Dir(e.Name)] = struct{}{}
					if cfg.Debounce > 0 {
						if timer != nil {
							timer.Stop()
						}
						timer = time.AfterFunc(cfg.Debounce, sendPending)
					} else {
						sendPending()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}
