// Package log implements structured logging using slog.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/mpswitch/internal/config"
)

// Init initializes the global logger based on configuration.
func Init(cfg config.LogConfig) error {
	// Collect all output writers; stdout is always included.
	writers := []io.Writer{os.Stdout}

	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
	}

	handler, err := newHandler(io.MultiWriter(writers...), cfg)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// newHandler builds the slog handler for cfg writing to w.
func newHandler(w io.Writer, cfg config.LogConfig) (slog.Handler, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}
}

// Current returns a logger that writes through whichever logger is the
// default at the time of each call, so a later Init (a reload) changes its
// level, format and outputs.
func Current() *slog.Logger {
	return slog.New(currentHandler{})
}

// ForSwitch returns a Current logger tagged with a switch id and mode.
func ForSwitch(id, mode string) *slog.Logger {
	return Current().With("switch_id", id, "mode", mode)
}

// currentHandler forwards to slog.Default().Handler(). Attributes and
// groups are replayed onto that handler per record.
type currentHandler struct {
	wrap func(slog.Handler) slog.Handler
}

func (h currentHandler) resolve() slog.Handler {
	base := slog.Default().Handler()
	if h.wrap == nil {
		return base
	}
	return h.wrap(base)
}

func (h currentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slog.Default().Handler().Enabled(ctx, level)
}

func (h currentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h currentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prev := h.wrap
	return currentHandler{wrap: func(base slog.Handler) slog.Handler {
		if prev != nil {
			base = prev(base)
		}
		return base.WithAttrs(attrs)
	}}
}

func (h currentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	prev := h.wrap
	return currentHandler{wrap: func(base slog.Handler) slog.Handler {
		if prev != nil {
			base = prev(base)
		}
		return base.WithGroup(name)
	}}
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
