// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardian wraps one working-tree mutation in a snapshot session and
// verifies every changed file against its pre-change version.
//
// A session is prepare, then any number of validate calls, then exactly one
// commit or rollback. Sessions are persisted to disk so each step may run in
// a separate process.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/config"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/integrity"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/snapshot"
)

// Sentinel errors for session misuse.
var (
	// ErrSessionOpen is returned by prepare while a snapshot is still open.
	ErrSessionOpen = errors.New("a guardian session is already open")

	// ErrNoSession is returned when validate, commit or rollback run
	// without a prepared snapshot.
	ErrNoSession = errors.New("no guardian session; run prepare first")

	// ErrOutsideRoot is returned for paths that resolve outside the root.
	ErrOutsideRoot = config.ErrOutsideRoot
)

// SnapshotStore is the checkpoint backend a Guardian drives.
type SnapshotStore interface {
	Create(ctx context.Context) (*snapshot.Snapshot, error)
	Restore(ctx context.Context, snap *snapshot.Snapshot) error
	Drop(ctx context.Context, snap *snapshot.Snapshot) error
	ExportFile(ctx context.Context, snap *snapshot.Snapshot, relPath, dest string) (bool, error)
	ChangedFiles(ctx context.Context) ([]string, error)
}

// Verdict is the detailed outcome of validating one file.
type Verdict struct {
	Path string `json:"path"`

	// Passed is false for integrity violations and for any failure to
	// verify.
	Passed bool `json:"passed"`

	// Indeterminate means there was no prior version to compare against.
	// Such files pass.
	Indeterminate bool `json:"indeterminate"`

	// Result is nil when Indeterminate or when verification failed.
	Result *integrity.ComparisonResult `json:"result,omitempty"`

	// Error describes why verification could not complete.
	Error string `json:"error,omitempty"`
}

// Summary renders the verdict as one line.
func (v *Verdict) Summary() string {
	switch {
	case v.Error != "":
		return fmt.Sprintf("%s: FAILED: could not verify: %s", v.Path, v.Error)
	case v.Indeterminate:
		return fmt.Sprintf("%s: PASSED: new file, no prior version", v.Path)
	case v.Result != nil:
		return v.Path + ": " + v.Result.Summary()
	}
	return v.Path
}

// Guardian owns one snapshot session over a working tree.
//
// # Description
//
// Guardian is constructed explicitly and passed to its callers; it holds the
// only reference to the open snapshot. prepare, validate, commit and
// rollback are expected in strict sequence from a single owner.
//
// # Thread Safety
//
// Methods are serialized with a mutex, which protects the session but does
// not make concurrent validation meaningful.
type Guardian struct {
	store       SnapshotStore
	comparator  *integrity.Comparator
	root        string
	tempDir     string
	sessionFile string
	logger      *slog.Logger
	tracing     bool

	mu     sync.Mutex
	active *snapshot.Snapshot
}

// Option configures a Guardian.
type Option func(*Guardian)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guardian) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRoot sets the project root that relative paths resolve against.
// Defaults to the current directory.
func WithRoot(root string) Option {
	return func(g *Guardian) { g.root = root }
}

// WithTempDir sets where baseline exports are written. Defaults to
// <root>/.guardian/tmp.
func WithTempDir(dir string) Option {
	return func(g *Guardian) { g.tempDir = dir }
}

// WithSessionFile sets where the open session is persisted. An empty path
// disables persistence.
func WithSessionFile(path string) Option {
	return func(g *Guardian) { g.sessionFile = path }
}

// WithTracing enables OpenTelemetry spans for session operations.
func WithTracing(enabled bool) Option {
	return func(g *Guardian) { g.tracing = enabled }
}

// New creates a Guardian.
//
// # Inputs
//
//   - store: Snapshot backend. Must not be nil.
//   - comparator: Integrity comparator. Nil uses the default policy.
//   - opts: Functional options.
//
// # Outputs
//
//   - *Guardian: Guardian with no open session. Call Resume to pick up a
//     session persisted by an earlier process.
//   - error: Non-nil if store is nil or the root cannot be resolved.
func New(store SnapshotStore, comparator *integrity.Comparator, opts ...Option) (*Guardian, error) {
	if store == nil {
		return nil, errors.New("snapshot store must not be nil")
	}
	if comparator == nil {
		comparator = integrity.NewComparator(nil, nil, integrity.DefaultOptions())
	}

	g := &Guardian{
		store:      store,
		comparator: comparator,
		root:       ".",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	root, err := filepath.Abs(g.root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	g.root = root
	if g.tempDir == "" {
		g.tempDir = filepath.Join(root, ".guardian", "tmp")
	}
	g.logger = g.logger.With("component", "guardian.Guardian")
	return g, nil
}

// Root returns the absolute project root.
func (g *Guardian) Root() string {
	return g.root
}

// Comparator returns the comparator used by Validate.
func (g *Guardian) Comparator() *integrity.Comparator {
	return g.comparator
}

// Active returns a copy of the open snapshot, or nil.
func (g *Guardian) Active() *snapshot.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return nil
	}
	cp := *g.active
	return &cp
}

// =============================================================================
// Session operations
// =============================================================================

// Prepare opens a session by snapshotting the working tree.
//
// # Outputs
//
//   - bool: True when a snapshot (ACTIVE or CLEAN) is open. False when a
//     session was already open or the backend failed; the reason is logged.
func (g *Guardian) Prepare(ctx context.Context) bool {
	snap, err := g.PrepareSnapshot(ctx)
	if err != nil {
		if errors.Is(err, snapshot.ErrBackendUnavailable) {
			g.logger.Warn("change protection unavailable, continuing unprotected", "error", err)
		} else {
			g.logger.Error("prepare failed", "error", err)
		}
		return false
	}
	g.logger.Info("session prepared", "snapshot_id", snap.ID, "state", snap.State)
	return true
}

// PrepareSnapshot is Prepare with the snapshot and error exposed.
func (g *Guardian) PrepareSnapshot(ctx context.Context) (snap *snapshot.Snapshot, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, op := g.startOp(ctx, "prepare")
	defer func() {
		op.snapshot(snap)
		op.end(err)
	}()

	if err := g.loadSessionLocked(); err != nil {
		g.logger.Warn("ignoring unreadable session file", "path", g.sessionFile, "error", err)
	}
	if g.active != nil {
		return nil, fmt.Errorf("%w (snapshot %s)", ErrSessionOpen, g.active.ID)
	}

	snap, err = g.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	g.active = snap

	if err := g.persistLocked(); err != nil {
		g.logger.Warn("failed to persist session", "path", g.sessionFile, "error", err)
	}
	return snap, nil
}

// Validate checks one changed file against its pre-change version.
//
// # Description
//
// Returns true for a passing comparison and for files with no prior
// version. Returns false for integrity violations and, fail-closed, for
// any error that prevents verification. Never panics or returns errors.
func (g *Guardian) Validate(ctx context.Context, path string) bool {
	verdict, err := g.Check(ctx, path)
	if err != nil {
		g.logger.Error("integrity check could not complete", "path", path, "error", err)
		return false
	}
	if !verdict.Passed {
		g.logger.Warn("integrity violation", "path", verdict.Path, "summary", verdict.Result.Summary())
		return false
	}
	g.logger.Debug("integrity check passed", "path", verdict.Path, "indeterminate", verdict.Indeterminate)
	return true
}

// Check validates one file and returns the detailed verdict.
//
// # Inputs
//
//   - ctx: Context for git operations.
//   - path: File path, relative to the root or absolute inside it.
//
// # Outputs
//
//   - *Verdict: The comparison verdict.
//   - error: ErrNoSession, ErrOutsideRoot, or an I/O or git failure.
func (g *Guardian) Check(ctx context.Context, path string) (verdict *Verdict, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, op := g.startOp(ctx, "validate")
	defer func() {
		op.verdict(verdict)
		op.end(err)
	}()

	snap, err := g.sessionLocked()
	if err != nil {
		return nil, err
	}

	rel, err := g.relPath(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(g.tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	tmp, err := os.CreateTemp(g.tempDir, "baseline-*"+filepath.Ext(rel))
	if err != nil {
		return nil, fmt.Errorf("creating temp export: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	found, err := g.store.ExportFile(ctx, snap, rel, tmpPath)
	if err != nil {
		return nil, fmt.Errorf("exporting baseline of %s: %w", rel, err)
	}
	if !found {
		return &Verdict{Path: rel, Passed: true, Indeterminate: true}, nil
	}

	oldData, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("reading baseline: %w", err)
	}
	newData, err := os.ReadFile(filepath.Join(g.root, rel))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	// A deleted file is compared as empty.

	result := g.comparator.CompareFor(rel, string(oldData), string(newData))
	return &Verdict{Path: rel, Passed: result.Passed, Result: result}, nil
}

// ValidateAll validates paths sequentially and reports every file.
//
// # Outputs
//
//   - []*Verdict: One verdict per path, in order. Verification errors are
//     recorded in Verdict.Error with Passed false.
//   - bool: True only if every file passed.
func (g *Guardian) ValidateAll(ctx context.Context, paths []string) ([]*Verdict, bool) {
	verdicts := make([]*Verdict, 0, len(paths))
	allPassed := true
	for _, p := range paths {
		v, err := g.Check(ctx, p)
		if err != nil {
			g.logger.Error("integrity check could not complete", "path", p, "error", err)
			v = &Verdict{Path: p, Error: err.Error()}
		} else if !v.Passed {
			g.logger.Warn("integrity violation", "path", v.Path, "summary", v.Result.Summary())
		}
		if !v.Passed {
			allPassed = false
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, allPassed
}

// Commit accepts the change and closes the session by dropping the snapshot.
func (g *Guardian) Commit(ctx context.Context) bool {
	if err := g.close(ctx, "commit"); err != nil {
		g.logger.Error("commit failed", "error", err)
		return false
	}
	g.logger.Info("session committed")
	return true
}

// Rollback discards the change and closes the session by restoring the
// snapshot. CLEAN sessions close without touching the working tree.
func (g *Guardian) Rollback(ctx context.Context) bool {
	if err := g.close(ctx, "rollback"); err != nil {
		g.logger.Error("rollback failed", "error", err)
		return false
	}
	g.logger.Info("session rolled back")
	return true
}

func (g *Guardian) close(ctx context.Context, op string) (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, traced := g.startOp(ctx, op)
	defer func() { traced.end(err) }()

	snap, err := g.sessionLocked()
	if err != nil {
		return err
	}

	traced.snapshot(snap)
	if op == "rollback" {
		err = g.store.Restore(ctx, snap)
	} else {
		err = g.store.Drop(ctx, snap)
	}
	if err != nil {
		return err
	}

	g.active = nil
	if err := g.clearSessionLocked(); err != nil {
		g.logger.Warn("failed to remove session file", "path", g.sessionFile, "error", err)
	}
	return nil
}

// ChangedFiles lists files modified in the working tree, relative to the root.
func (g *Guardian) ChangedFiles(ctx context.Context) ([]string, error) {
	return g.store.ChangedFiles(ctx)
}

// Resume loads a session persisted by an earlier process.
//
// # Outputs
//
//   - bool: True if a session is open after the call.
//   - error: Non-nil if the session file exists but cannot be read.
func (g *Guardian) Resume() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.loadSessionLocked(); err != nil {
		return false, err
	}
	return g.active != nil, nil
}

// sessionLocked returns the open snapshot, resuming from disk if needed.
func (g *Guardian) sessionLocked() (*snapshot.Snapshot, error) {
	if g.active == nil {
		if err := g.loadSessionLocked(); err != nil {
			return nil, err
		}
	}
	if g.active == nil {
		return nil, ErrNoSession
	}
	return g.active, nil
}

func (g *Guardian) relPath(path string) (string, error) {
	return config.RelPath(g.root, path)
}
