// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-audits files as they change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/audit"
)

// DefaultDebounce is the quiet period after the last event on a file
// before it is audited.
const DefaultDebounce = 500 * time.Millisecond

// ErrNoFiles is returned by New when there is nothing to watch.
var ErrNoFiles = errors.New("no files to watch")

// ResultHandler receives the audit of one file. rel is relative to the
// project root.
type ResultHandler func(rel string, run *audit.PipelineRun)

// Options configures a Watcher.
type Options struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// OnResult is called after every audit, from a single goroutine.
	OnResult ResultHandler

	Logger *slog.Logger
}

// Watcher audits watched files with the local and integrity stages
// whenever they are written or recreated.
//
// # Description
//
// The parent directory of every file is watched, so editors that replace
// a file by rename are still seen. Events for other files in those
// directories are ignored. Bursts of events on one file collapse into a
// single audit after the debounce window.
//
// # Thread Safety
//
// Run may be called once.
type Watcher struct {
	root     string
	files    map[string]string // abs -> rel
	pipeline *audit.Pipeline
	debounce time.Duration
	onResult ResultHandler
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	queued  map[string]bool
}

// New creates a Watcher for files under root. The pipeline is restricted
// to the local and integrity stages; the external auditor never runs on
// file events.
func New(root string, files []string, pipeline *audit.Pipeline, opts Options) (*Watcher, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		root:     root,
		files:    make(map[string]string, len(files)),
		pipeline: pipeline.Only(audit.LocalStageName, audit.IntegrityStageName),
		debounce: debounce,
		onResult: opts.OnResult,
		logger:   logger.With("component", "watch.Watcher"),
		pending:  make(map[string]*time.Timer),
		queued:   make(map[string]bool),
	}
	for _, f := range files {
		abs := f
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, f)
		}
		abs = filepath.Clean(abs)
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			rel = abs
		}
		w.files[abs] = filepath.ToSlash(rel)
	}
	return w, nil
}

// Files returns the watched files as given to the pipeline.
func (w *Watcher) Files() []string {
	out := make([]string, 0, len(w.files))
	for _, rel := range w.files {
		out = append(out, rel)
	}
	return out
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dirs := make(map[string]bool)
	for abs := range w.files {
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	w.logger.Info("watching files", "files", len(w.files), "dirs", len(dirs), "debounce", w.debounce)

	ready := make(chan string, len(w.files))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer w.stopTimers()
		for {
			select {
			case <-gctx.Done():
				return nil
			case event, ok := <-fw.Events:
				if !ok {
					return nil
				}
				w.handleEvent(event, ready)
			case err, ok := <-fw.Errors:
				if !ok {
					return nil
				}
				w.logger.Warn("watch error", "error", err)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case rel := <-ready:
				w.mu.Lock()
				delete(w.queued, rel)
				w.mu.Unlock()
				w.audit(gctx, rel)
			}
		}
	})

	return g.Wait()
}

func (w *Watcher) handleEvent(event fsnotify.Event, ready chan<- string) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	rel, ok := w.files[filepath.Clean(event.Name)]
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[rel]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[rel] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.pending, rel)
		if w.queued[rel] {
			return
		}
		// At most one entry per file is queued, so the send never blocks.
		w.queued[rel] = true
		ready <- rel
	})
}

func (w *Watcher) audit(ctx context.Context, rel string) {
	run := w.pipeline.Run(ctx, []string{rel})
	w.logger.Info("file re-audited", "file", rel, "state", run.State)
	if w.onResult != nil {
		w.onResult(rel, run)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rel, t := range w.pending {
		t.Stop()
		delete(w.pending, rel)
	}
}
