package slogutil

import (
	"io"
	"log/slog"
	"os"

	"kgindex/internal/config"
	"kgindex/internal/paths"
)

// LoggerFactory builds component loggers that write to stderr and, for
// long-running commands, to a rotated file under the state directory.
type LoggerFactory struct {
	layout  paths.Layout
	logging config.LoggingConfig
	level   slog.Level
	stderr  io.Writer
	closers []io.Closer
}

// NewLoggerFactory creates a factory. level is the effective level after
// CLI flags have been applied.
func NewLoggerFactory(layout paths.Layout, cfg config.LoggingConfig, level slog.Level) *LoggerFactory {
	return &LoggerFactory{
		layout:  layout,
		logging: cfg,
		level:   level,
		stderr:  os.Stderr,
	}
}

// Console returns a logger writing to stderr only.
func (f *LoggerFactory) Console() *slog.Logger {
	return NewLogger(f.stderr, f.level)
}

// Component returns a logger that tees stderr with <stateDir>/logs/<name>.log.
// If the log file cannot be opened the console logger is returned.
func (f *LoggerFactory) Component(name string) *slog.Logger {
	console := f.Console()
	if err := os.MkdirAll(f.layout.LogsDir(), 0755); err != nil {
		console.Warn("Cannot create log directory", "dir", f.layout.LogsDir(), "error", err)
		return console.With("component", name)
	}

	path := f.layout.LogPath(name)
	fileLevel := LevelFromString(f.logging.Level)
	if f.level < fileLevel {
		fileLevel = f.level
	}
	fileLogger, closer, err := NewFileLoggerWithRotation(path, fileLevel, f.logging.MaxSize, f.logging.MaxBackups)
	if err != nil {
		console.Warn("Cannot open log file", "path", path, "error", err)
		return console.With("component", name)
	}
	f.closers = append(f.closers, closer)

	return NewTeeLogger(console.Handler(), fileLogger.Handler()).With("component", name)
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
