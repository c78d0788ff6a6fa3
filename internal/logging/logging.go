// Package logging builds the process logger. The TUI owns the terminal, so
// records go to a file; CLI subcommands may also mirror them to stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type Options struct {
	Path    string
	Level   string
	Verbose bool      // forces debug
	Stderr  io.Writer // optional second sink, text format
}

// Logger wraps a slog.Logger and the file behind it.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New opens (appending) the log file and returns a logger writing to it.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	l := &Logger{}
	var handlers []slog.Handler
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0750); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		l.file = f
		handlers = append(handlers, slog.NewTextHandler(f, hopts))
	}
	if opts.Stderr != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Stderr, hopts))
	}

	switch len(handlers) {
	case 0:
		l.Logger = Discard()
	case 1:
		l.Logger = slog.New(handlers[0])
	default:
		l.Logger = slog.New(fanout(handlers))
	}
	return l, nil
}

// Close releases the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps a config level name onto slog. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
