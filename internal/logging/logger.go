// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used throughout the
// offload engine. It is a thin wrapper over log/slog rather than a
// third-party logging library.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Config controls how a Logger is constructed.
type Config struct {
	Level  slog.Level
	Output io.Writer
	JSON   bool
}

// DefaultConfig returns a Config writing text-formatted logs to stderr at
// info level.
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Output: os.Stderr,
	}
}

// Logger wraps *slog.Logger with the msg/kv calling convention used
// throughout this codebase: Info("message", "key", value, ...).
type Logger struct {
	base *slog.Logger
}

// New creates a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{base: slog.New(handler)}
}

// With returns a Logger that always includes the given key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{base: l.base.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.log(slog.LevelDebug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.log(slog.LevelInfo, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log(slog.LevelWarn, msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.log(slog.LevelError, msg, kv...) }

func (l *Logger) log(level slog.Level, msg string, kv ...any) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Log(context.Background(), level, msg, kv...)
}

// Nop returns a Logger that discards everything, for tests that don't care
// about log output.
func Nop() *Logger {
	return New(Config{Level: slog.LevelError + 1, Output: io.Discard})
}
