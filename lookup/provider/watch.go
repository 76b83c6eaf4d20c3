package provider

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/lookupkit/errors"
)

// WatchFile calls fn for every write, create or rename of path until ctx is
// done. The parent directory is watched so that atomic replacements, which
// swap the inode, are seen too. WatchFile blocks; it returns nil on
// cancellation.
func WatchFile(ctx context.Context, path string, fn func(), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.WrapInvalid(err, "provider", "WatchFile", "resolve path")
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(err, "provider", "WatchFile", "create directory")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "provider", "WatchFile", "create watcher")
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(dir); err != nil {
		return errors.WrapTransient(err, "provider", "WatchFile", "watch directory")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				logger.Debug("Source file changed", "path", abs, "op", event.Op.String())
				fn()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Error watching source file", "path", abs, "error", err)
		}
	}
}
