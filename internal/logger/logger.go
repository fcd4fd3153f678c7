// Package logger builds the service's slog logger and the rotating files
// behind it.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes rotating log files. Path is the service log; Dir
// holds one <process id>.log per worker with a plain-text copy of its
// output. Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json, color
	File   FileConfig
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// ProcessWriter returns the rotating mirror file for a process, or nil
// when no directory is configured or id is not usable as a file name.
func (c Config) ProcessWriter(id string) io.WriteCloser {
	if c.File.Dir == "" || !isSafeName(id) {
		return nil
	}
	return c.File.rotating(filepath.Join(c.File.Dir, id+".log"))
}

// New builds a logger writing to console in the configured format and,
// when File.Path is set, JSON lines to a rotating file. The returned closer
// releases the file.
func New(c Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	if console == nil {
		console = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}

	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		h = slog.NewTextHandler(console, opts)
	case "json":
		h = slog.NewJSONHandler(console, opts)
	case "color":
		h = NewColorTextHandler(console, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
	}

	if c.File.Path == "" {
		return slog.New(h), nopCloser{}, nil
	}
	f := c.File.rotating(c.File.Path)
	return slog.New(fanout{h, slog.NewJSONHandler(f, opts)}), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends each record to every handler.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
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

// isSafeName accepts A-Z a-z 0-9 . _ - without "..".
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
