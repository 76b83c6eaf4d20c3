package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/c360/lookupkit/errors"
)

// FileSystem stores the payload in a single file.
type FileSystem struct {
	path   string
	logger *slog.Logger
}

// NewFileSystem returns a provider reading and writing path.
func NewFileSystem(path string, opts ...Option) *FileSystem {
	o := buildOptions(opts)
	return &FileSystem{
		path:   path,
		logger: o.logger.With("component", "provider", "provider", "file://"+path),
	}
}

// Path returns the file location.
func (f *FileSystem) Path() string { return f.path }

func (f *FileSystem) String() string { return "file://" + f.path }

// Load reads the whole file. A missing or unreadable file is ErrNoData. A file
// that opens but cannot be read is deleted and reported as ErrCacheCorrupted.
func (f *FileSystem) Load(_ context.Context) ([]byte, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.logger.Warn("File not accessible", "error", err)
		}
		return nil, errors.Wrap(fmt.Errorf("%w: %v", errors.ErrNoData, err), "FileSystem", "Load", "stat file")
	}
	if info.IsDir() {
		f.logger.Warn("Path is a directory")
		return nil, errors.Wrap(fmt.Errorf("%w: %s is a directory", errors.ErrNoData, f.path), "FileSystem", "Load", "stat file")
	}

	file, err := os.Open(f.path)
	if err != nil {
		f.logger.Warn("File not readable", "error", err)
		return nil, errors.Wrap(fmt.Errorf("%w: %v", errors.ErrNoData, err), "FileSystem", "Load", "open file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		f.discard(err)
		return nil, errors.Wrap(fmt.Errorf("%w: %v", errors.ErrCacheCorrupted, err), "FileSystem", "Load", "read file")
	}
	return data, nil
}

// discard removes a file whose contents cannot be trusted.
func (f *FileSystem) discard(cause error) {
	f.logger.Warn("Removing corrupt file", "error", cause)
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		f.logger.Warn("Failed to remove corrupt file", "error", err)
	}
}

// Save replaces the file atomically: data goes to a temporary file in the
// same directory which is then renamed over the target.
func (f *FileSystem) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(err, "FileSystem", "Save", "create directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return errors.WrapTransient(err, "FileSystem", "Save", "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.WrapTransient(err, "FileSystem", "Save", "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.WrapTransient(err, "FileSystem", "Save", "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FileSystem", "Save", "close temp file")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FileSystem", "Save", "rename temp file")
	}
	return nil
}

// Watch calls fn whenever the file is written, created or renamed into place.
func (f *FileSystem) Watch(ctx context.Context, fn func()) error {
	return WatchFile(ctx, f.path, fn, f.logger)
}
