package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// defaultLogFormat is text on a terminal and json otherwise.
func defaultLogFormat() string {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return "text"
	}
	return "json"
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(level, format string) *slog.Logger {
	return newLogger(os.Stderr, level, format)
}

func newLogger(w *os.File, level, format string) *slog.Logger {
	var handler slog.Handler
	lvl := parseLevel(level)

	switch strings.ToLower(format) {
	case "text":
		// Skip timestamps under systemd, the journal adds its own.
		underSystemd := os.Getenv("JOURNAL_STREAM") != ""
		handler = tint.NewHandler(colorable.NewColorable(w), &tint.Options{
			Level:      lvl,
			AddSource:  lvl == slog.LevelDebug,
			TimeFormat: "15:04:05.000",
			NoColor:    !isatty.IsTerminal(w.Fd()),
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return dropEmpty(a)
			},
		})
	default:
		handler = slog.NewJSONHandler(io.Writer(w), &slog.HandlerOptions{
			Level:     lvl,
			AddSource: lvl == slog.LevelDebug,
		})
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}

// dropEmpty removes zero-valued attributes from console output.
func dropEmpty(a slog.Attr) slog.Attr {
	skip := false
	switch t := a.Value.Any().(type) {
	case string:
		skip = t == ""
	case time.Duration:
		skip = t == 0
	case nil:
		skip = true
	}
	if skip {
		return slog.Attr{}
	}
	return a
}
