// Package logging builds the application's slog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/onnwee/dbup/internal/config"
	"github.com/onnwee/dbup/internal/redact"
)

// Application is attached to every record.
const Application = "db-up"

const megabyte = 1024 * 1024

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARNING", "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// New creates a logger writing to console, to a size-rotated file, or to
// both, as cfg.Output selects. Records pass through the redacting handler
// unless cfg.RedactCredentials is off. The returned close function releases
// the log file, if any.
func New(cfg config.LoggingConfig, console io.Writer) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() error { return nil }
	var out io.Writer
	switch cfg.Output {
	case "console", "":
		out = console
	case "file", "both":
		rotator := newRotator(cfg)
		closeFn = rotator.Close
		out = rotator
		if cfg.Output == "both" {
			out = io.MultiWriter(console, rotator)
		}
	default:
		return nil, nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text", "":
		handler = slog.NewTextHandler(out, opts)
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.RedactCredentials {
		handler = redact.NewHandler(handler, cfg.RedactHostnames)
	}

	return slog.New(handler).With(slog.String("application", Application)), closeFn, nil
}

// newRotator returns a file writer that rotates at cfg.MaxFileSize bytes
// (rounded up to whole megabytes) and keeps cfg.BackupCount old files.
func newRotator(cfg config.LoggingConfig) *lumberjack.Logger {
	maxMB := (cfg.MaxFileSize + megabyte - 1) / megabyte
	if maxMB < 1 {
		maxMB = 1
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxMB,
		MaxBackups: cfg.BackupCount,
	}
}
