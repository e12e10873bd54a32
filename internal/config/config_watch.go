package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch reloads cfg in place when the config file changes on disk,
// calling onReload after each applied change. The watcher runs until
// ctx is cancelled. Editors replace files rather than rewriting them,
// so the parent directory is watched and events are debounced.
func Watch(ctx context.Context, path string, cfg *Config, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		last := cfg.Hash()
		debounce := time.NewTimer(watchDebounce)
		if !debounce.Stop() {
			<-debounce.C
		}
		pending := false

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if pending && !debounce.Stop() {
					<-debounce.C
				}
				debounce.Reset(watchDebounce)
				pending = true
			case <-debounce.C:
				pending = false
				next, err := Load(path)
				if err != nil {
					slog.Warn("config.reload_failed", "path", path, "error", err)
					continue
				}
				if next.Hash() == last {
					continue
				}
				cfg.ReplaceFrom(next)
				last = cfg.Hash()
				slog.Info("config.reloaded", "path", path, "sites", len(next.Sites))
				if onReload != nil {
					onReload(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config.watch_error", "error", err)
			}
		}
	}()

	return nil
}
