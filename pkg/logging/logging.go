// Package logging builds the structured slog loggers used across the tool
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logger
type Options struct {
	Level  string // debug, info, warn or error
	Format string // text or json
	// File additionally writes JSON logs to a rotated file when set
	File      string
	MaxSizeMB int
	MaxAgeDay int
}

// ParseLevel maps a level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", name)
	}
}

// New creates a logger writing human-readable or JSON records to w.
// The returned close function releases the log file, if any.
func New(w io.Writer, opts Options) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		console = slog.NewJSONHandler(w, handlerOpts)
	case "", "text":
		console = slog.NewTextHandler(w, handlerOpts)
	default:
		return nil, nil, fmt.Errorf("unknown log format: %s", opts.Format)
	}

	if opts.File == "" {
		return slog.New(console), func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	rotated := &lumberjack.Logger{
		Filename: opts.File,
		MaxSize:  maxSize,
		MaxAge:   opts.MaxAgeDay,
	}
	file := slog.NewJSONHandler(rotated, handlerOpts)
	return slog.New(fanout{console, file}), rotated.Close, nil
}

// Discard returns a logger that drops every record
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// fanout sends every record to all handlers
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
