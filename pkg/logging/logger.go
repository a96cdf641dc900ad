// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog logger shared by the guardian CLI and
// services.
//
// Records fan out to the console (text or JSON on stderr), an append-only
// JSON file under the state directory, and an optional tee handler. The
// tee is how tests observe log output: pass a Recorder.
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    File:    ".guardian/logs/system.log",
//	    Service: "guardian",
//	})
//	defer logger.Close()
//	logger.Info("snapshot created", "label", label)
//
// Packages below the CLI accept a *slog.Logger; pass logger.Slog().
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Level is a slog level. The guardian only uses the four named ones.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// ParseLevel maps a case-insensitive level name to a Level. "warning" is
// accepted for "warn". Unknown names yield LevelInfo and false.
func ParseLevel(name string) (Level, bool) {
	level, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return LevelInfo, false
	}
	return level, true
}

// Config configures a Logger.
type Config struct {
	Level Level

	// File is an optional JSON log file. Parent directories are created.
	File string

	// Service is attached to every record.
	Service string

	// JSON switches the console handler from text to JSON.
	JSON bool

	// Quiet disables the console handler.
	Quiet bool

	// Output replaces stderr for the console handler.
	Output io.Writer

	// Tee receives every record at or above Level.
	Tee slog.Handler
}

// Logger is a *slog.Logger that owns its log file.
type Logger struct {
	*slog.Logger

	file      *os.File
	fileErr   error
	closeOnce sync.Once
	closeErr  error
}

// New builds a Logger. It never fails: when the log file cannot be opened
// the logger runs without it and FileErr reports why.
func New(cfg Config) *Logger {
	l := &Logger{}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var sinks []slog.Handler
	if !cfg.Quiet {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.JSON {
			sinks = append(sinks, slog.NewJSONHandler(out, opts))
		} else {
			sinks = append(sinks, slog.NewTextHandler(out, opts))
		}
	}
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			l.fileErr = fmt.Errorf("open log file %s: %w", cfg.File, err)
		} else {
			l.file = file
			sinks = append(sinks, slog.NewJSONHandler(file, opts))
		}
	}
	if cfg.Tee != nil {
		sinks = append(sinks, cfg.Tee)
	}

	var handler slog.Handler = &fanout{min: cfg.Level, sinks: sinks}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	l.Logger = slog.New(handler)
	return l
}

// Default returns an info-level console logger.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "guardian"})
}

// Slog returns the underlying slog.Logger for injection into services.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// FileErr is the reason the configured log file is not being written, or nil.
func (l *Logger) FileErr() error {
	return l.fileErr
}

// Close syncs and closes the log file. Later calls return the first result.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		if l.file == nil {
			return
		}
		l.closeErr = errors.Join(l.file.Sync(), l.file.Close())
	})
	return l.closeErr
}

func openLogFile(path string) (*os.File, error) {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// fanout sends a record to every sink. min gates all sinks, including a
// tee that would accept anything.
type fanout struct {
	min   slog.Level
	sinks []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	if level < f.min {
		return false
	}
	for _, s := range f.sinks {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if s.Enabled(ctx, r.Level) {
			errs = append(errs, s.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanout) WithGroup(name string) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanout) derive(fn func(slog.Handler) slog.Handler) *fanout {
	sinks := make([]slog.Handler, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = fn(s)
	}
	return &fanout{min: f.min, sinks: sinks}
}

// Entry is one record captured by a Recorder. Group names prefix attribute
// keys with a dot.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Attrs   map[string]any
}

// Recorder is a slog.Handler that keeps records in memory.
type Recorder struct {
	log    *recordLog
	attrs  []slog.Attr
	prefix string
}

type recordLog struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{log: &recordLog{}}
}

func (r *Recorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *Recorder) Handle(_ context.Context, rec slog.Record) error {
	attrs := make(map[string]any, len(r.attrs)+rec.NumAttrs())
	for _, a := range r.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[r.prefix+a.Key] = a.Value.Any()
		return true
	})

	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	r.log.entries = append(r.log.entries, Entry{
		Time:    rec.Time,
		Level:   rec.Level,
		Message: rec.Message,
		Attrs:   attrs,
	})
	return nil
}

func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *r
	next.attrs = slices.Clone(r.attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: r.prefix + a.Key, Value: a.Value})
	}
	return &next
}

func (r *Recorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}
	next := *r
	next.prefix = r.prefix + name + "."
	return &next
}

// Entries returns a copy of the captured records.
func (r *Recorder) Entries() []Entry {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	return slices.Clone(r.log.entries)
}
