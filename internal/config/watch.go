package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor produces on save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// freshly loaded Config to onChange. The parent directory is watched so
// that atomic replace-by-rename saves are seen. A file that fails to load
// is logged and ignored; the previous config stays in effect. Watch blocks
// until ctx is canceled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	logger.Debug("watching config file", slog.String("path", path))

	target := filepath.Clean(path)

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()

	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			debounce.Reset(reloadDebounce)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", werr.Error()))

		case <-debounce.C:
			cfg, loadErr := LoadOrDefault(path)
			if loadErr != nil {
				logger.Warn("config reload failed, keeping previous config",
					slog.String("path", path),
					slog.String("error", loadErr.Error()),
				)

				continue
			}

			logger.Info("config reloaded", slog.String("path", path))
			onChange(cfg)
		}
	}
}
