package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the hot-reloadable config sections when the file
// changes on disk. Secrets stay untouched — they live in env only.
// Runs until ctx is cancelled.
func Watch(ctx context.Context, path string, cfg *Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files via rename, which
	// drops a direct file watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		fresh, err := Load(path)
		if err != nil {
			slog.Warn("config reload failed", "path", path, "error", err)
			return
		}
		cfg.ReplaceRuntime(fresh)
		slog.Info("config reloaded", "path", path, "bot_mode", fresh.AI.BotMode)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Debounce editor write bursts.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
