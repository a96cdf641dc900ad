// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot checkpoints a working tree in git stash entries so a
// change can be discarded or accepted as a unit.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by Store operations.
var (
	// ErrBackendUnavailable means git is not installed or the root is not
	// inside a git working tree.
	ErrBackendUnavailable = errors.New("version control backend unavailable")

	// ErrMergeInProgress is returned by Create while a merge is unresolved.
	ErrMergeInProgress = errors.New("merge in progress")

	// ErrRebaseInProgress is returned by Create while a rebase is underway.
	ErrRebaseInProgress = errors.New("rebase in progress")

	// ErrSnapshotNotFound means the stash entry carrying the snapshot's
	// label no longer exists.
	ErrSnapshotNotFound = errors.New("snapshot stash entry not found")

	// ErrSnapshotConsumed is returned when restoring, dropping or exporting
	// a snapshot that was already restored or dropped.
	ErrSnapshotConsumed = errors.New("snapshot already consumed")

	// ErrNilSnapshot is returned when an operation receives a nil snapshot.
	ErrNilSnapshot = errors.New("snapshot is nil")
)

// State is the lifecycle state of a Snapshot.
type State string

const (
	// StateActive holds stashed changes that have not been restored or dropped.
	StateActive State = "ACTIVE"

	// StateClean means there was nothing to protect when the snapshot was taken.
	StateClean State = "CLEAN"

	// StateConsumed is terminal: the stash entry was restored or dropped.
	StateConsumed State = "CONSUMED"
)

// Snapshot is one checkpoint of the working tree.
type Snapshot struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"createdAt"`

	// Clean records whether the snapshot was CLEAN before it was consumed.
	Clean bool `json:"clean"`
}

// Config configures a Store.
type Config struct {
	// RepoPath is the working tree root. Resolved to an absolute path.
	RepoPath string

	// StateDir holds the guardian's own tooling state. When it lives inside
	// RepoPath it is excluded from every stash, reset and clean.
	StateDir string

	// LabelPrefix prefixes every stash message. Default "guardian-snapshot".
	LabelPrefix string

	// ExcludePaths are additional repository-relative paths to protect.
	ExcludePaths []string

	// GitTimeout bounds each git invocation. Default 30s.
	GitTimeout time.Duration

	// Logger receives operation logs. Default slog.Default().
	Logger *slog.Logger
}

// DefaultLabelPrefix prefixes stash messages when Config.LabelPrefix is empty.
const DefaultLabelPrefix = "guardian-snapshot"

// Store creates, restores, drops and reads working-tree snapshots.
//
// # Description
//
// Each snapshot with changes becomes one `git stash` entry whose message is
// the snapshot label (`<prefix>-<uuid>`). Entries are located by label on
// every operation, so stashes pushed by the user in between do not shift
// the store onto the wrong entry.
//
// # Thread Safety
//
// Store holds no mutable state of its own, but a working tree must only be
// driven by one snapshot session at a time.
type Store struct {
	git         GitClient
	repoPath    string
	stateDir    string
	labelPrefix string
	excludes    []string
	logger      *slog.Logger
}

// NewStore creates a Store backed by the git command line.
//
// # Inputs
//
//   - cfg: Store configuration. RepoPath must be set.
//
// # Outputs
//
//   - *Store: Ready-to-use store. Construction never runs git; an
//     unusable backend surfaces as ErrBackendUnavailable per operation.
//   - error: Non-nil if RepoPath cannot be resolved.
func NewStore(cfg Config) (*Store, error) {
	abs, err := filepath.Abs(cfg.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}
	git, err := NewGitClient(abs, cfg.GitTimeout)
	if err != nil {
		return nil, err
	}
	cfg.RepoPath = abs
	return NewStoreWithGit(cfg, git)
}

// NewStoreWithGit creates a Store using the provided GitClient.
func NewStoreWithGit(cfg Config, git GitClient) (*Store, error) {
	if git == nil {
		return nil, errors.New("git client must not be nil")
	}

	repo, err := filepath.Abs(cfg.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}

	prefix := cfg.LabelPrefix
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		git:         git,
		repoPath:    repo,
		labelPrefix: prefix,
		logger:      logger.With("component", "snapshot.Store"),
	}

	if cfg.StateDir != "" {
		stateDir := cfg.StateDir
		if !filepath.IsAbs(stateDir) {
			stateDir = filepath.Join(repo, stateDir)
		}
		s.stateDir = filepath.Clean(stateDir)
		if rel, err := filepath.Rel(repo, s.stateDir); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			s.excludes = append(s.excludes, filepath.ToSlash(rel)+"/")
		}
	}

	for _, p := range cfg.ExcludePaths {
		p = filepath.ToSlash(filepath.Clean(p))
		if p == "." || p == "" {
			continue
		}
		if !containsPath(s.excludes, p) {
			s.excludes = append(s.excludes, p)
		}
	}

	return s, nil
}

func containsPath(list []string, p string) bool {
	trimmed := strings.TrimSuffix(p, "/")
	for _, existing := range list {
		if strings.TrimSuffix(existing, "/") == trimmed {
			return true
		}
	}
	return false
}

// Excludes returns the repository-relative paths the store never touches.
func (s *Store) Excludes() []string {
	out := make([]string, len(s.excludes))
	copy(out, s.excludes)
	return out
}

// RepoPath returns the absolute working tree root.
func (s *Store) RepoPath() string {
	return s.repoPath
}

// LabelPrefix returns the prefix used for snapshot labels.
func (s *Store) LabelPrefix() string {
	return s.labelPrefix
}

// Available returns ErrBackendUnavailable when git cannot be used here.
func (s *Store) Available(ctx context.Context) error {
	if !s.git.IsAvailable() {
		return fmt.Errorf("%w: git not found on PATH", ErrBackendUnavailable)
	}
	if !s.git.IsGitRepository(ctx) {
		return fmt.Errorf("%w: %s is not a git working tree", ErrBackendUnavailable, s.repoPath)
	}
	return nil
}

// Create checkpoints all pending modifications.
//
// # Description
//
// When the tree has changes outside the excluded paths, they are staged and
// pushed into a stash entry labelled `<prefix>-<uuid>`, then reapplied so
// the working tree is unchanged, and an ACTIVE snapshot is returned. When there is nothing to
// protect, a CLEAN snapshot is returned and git is left untouched.
//
// # Outputs
//
//   - *Snapshot: ACTIVE or CLEAN snapshot.
//   - error: ErrBackendUnavailable, ErrMergeInProgress, ErrRebaseInProgress
//     or a wrapped git failure.
func (s *Store) Create(ctx context.Context) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "create", time.Since(start), err) }()

	if err := s.Available(ctx); err != nil {
		return nil, err
	}
	if s.git.HasMergeInProgress(ctx) {
		return nil, ErrMergeInProgress
	}
	if s.git.HasRebaseInProgress(ctx) {
		return nil, ErrRebaseInProgress
	}
	if err := s.ensureStateIgnored(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	snap = &Snapshot{
		ID:        id,
		Label:     s.labelPrefix + "-" + id,
		CreatedAt: time.Now().UTC(),
	}

	pending, err := s.git.HasPendingChanges(ctx, s.excludes)
	if err != nil {
		return nil, err
	}
	if !pending {
		snap.State = StateClean
		snap.Clean = true
		s.logger.Debug("no pending changes, snapshot is clean", "snapshot_id", id)
		return snap, nil
	}

	if err := s.git.AddAll(ctx, s.excludes); err != nil {
		return nil, fmt.Errorf("staging changes: %w", err)
	}
	created, err := s.git.StashPush(ctx, snap.Label, s.excludes)
	if err != nil {
		return nil, fmt.Errorf("stashing changes: %w", err)
	}
	if !created {
		snap.State = StateClean
		snap.Clean = true
		return snap, nil
	}

	// Put the changes back so the mutation starts from the tree the user
	// had. The stash entry stays behind as the checkpoint.
	ref, err := s.resolveRef(ctx, snap.Label)
	if err != nil {
		return nil, err
	}
	if err := s.git.StashApply(ctx, ref); err != nil {
		s.logger.Error("stashed changes could not be reapplied; recover them with git stash pop",
			"label", snap.Label, "ref", ref, "error", err)
		return nil, fmt.Errorf("reapplying %s: %w", snap.Label, err)
	}

	snap.State = StateActive
	s.logger.Info("snapshot created", "snapshot_id", id, "label", snap.Label)
	return snap, nil
}

// Restore returns the working tree to the snapshot.
//
// # Description
//
// Tracked modifications are reset to HEAD, untracked files created since
// the snapshot are removed (excluded paths survive), and the stash entry is
// popped on top. CLEAN snapshots are consumed without touching git.
func (s *Store) Restore(ctx context.Context, snap *Snapshot) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "restore", time.Since(start), err) }()

	if err := s.checkUsable(snap); err != nil {
		return err
	}
	if snap.State == StateClean {
		snap.State = StateConsumed
		return nil
	}
	if err := s.Available(ctx); err != nil {
		return err
	}

	ref, err := s.resolveRef(ctx, snap.Label)
	if err != nil {
		return err
	}

	if err := s.git.ResetHard(ctx, "HEAD"); err != nil {
		return fmt.Errorf("resetting tracked files: %w", err)
	}
	if err := s.git.CleanUntracked(ctx, s.excludes); err != nil {
		return fmt.Errorf("removing untracked files: %w", err)
	}

	// Reset and clean do not touch the stash list, so ref is still valid.
	if err := s.git.StashPop(ctx, ref); err != nil {
		return fmt.Errorf("reapplying %s: %w", snap.Label, err)
	}

	snap.State = StateConsumed
	s.logger.Info("snapshot restored", "snapshot_id", snap.ID, "ref", ref)
	return nil
}

// Drop permanently discards the snapshot without reapplying it.
func (s *Store) Drop(ctx context.Context, snap *Snapshot) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "drop", time.Since(start), err) }()

	if err := s.checkUsable(snap); err != nil {
		return err
	}
	if snap.State == StateClean {
		snap.State = StateConsumed
		return nil
	}
	if err := s.Available(ctx); err != nil {
		return err
	}

	ref, err := s.resolveRef(ctx, snap.Label)
	if err != nil {
		return err
	}
	if err := s.git.StashDrop(ctx, ref); err != nil {
		return fmt.Errorf("dropping %s: %w", snap.Label, err)
	}

	snap.State = StateConsumed
	s.logger.Info("snapshot dropped", "snapshot_id", snap.ID, "ref", ref)
	return nil
}

// ExportFile writes the snapshot's version of relPath to dest.
//
// # Description
//
// For an ACTIVE snapshot the file is read from the stash entry. For a
// CLEAN snapshot nothing was stashed, so the working tree equalled HEAD
// and the HEAD version is exported.
//
// # Outputs
//
//   - bool: False with a nil error when the file did not exist in the
//     snapshot, which is the normal case for newly created files.
//   - error: Non-nil for git or filesystem failures.
func (s *Store) ExportFile(ctx context.Context, snap *Snapshot, relPath, dest string) (ok bool, err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "export", time.Since(start), err) }()

	if snap == nil {
		return false, ErrNilSnapshot
	}
	if snap.State == StateConsumed {
		return false, ErrSnapshotConsumed
	}
	if err := s.Available(ctx); err != nil {
		return false, err
	}

	ref := "HEAD"
	if snap.State == StateActive {
		ref, err = s.resolveRef(ctx, snap.Label)
		if err != nil {
			return false, err
		}
	}

	data, err := s.git.Show(ctx, ref, relPath)
	if errors.Is(err, ErrPathNotInRef) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return false, fmt.Errorf("creating export dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return false, fmt.Errorf("writing export: %w", err)
	}
	return true, nil
}

// List returns every stash entry created by a store with this label prefix.
// Entries not owned by a live session are orphans from interrupted runs.
func (s *Store) List(ctx context.Context) ([]StashEntry, error) {
	if err := s.Available(ctx); err != nil {
		return nil, err
	}
	entries, err := s.git.StashList(ctx)
	if err != nil {
		return nil, err
	}

	var owned []StashEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Message, s.labelPrefix+"-") {
			owned = append(owned, e)
		}
	}
	return owned, nil
}

// ChangedFiles lists files modified since HEAD outside the excluded paths.
func (s *Store) ChangedFiles(ctx context.Context) ([]string, error) {
	if err := s.Available(ctx); err != nil {
		return nil, err
	}
	return s.git.ChangedPaths(ctx, s.excludes)
}

// Diff exposes `git diff` for reviewers sharing this store's repository.
func (s *Store) Diff(ctx context.Context, args ...string) (string, error) {
	if err := s.Available(ctx); err != nil {
		return "", err
	}
	return s.git.Diff(ctx, args...)
}

// ShowHead returns the HEAD version of relPath, or ErrPathNotInRef.
func (s *Store) ShowHead(ctx context.Context, relPath string) ([]byte, error) {
	if err := s.Available(ctx); err != nil {
		return nil, err
	}
	return s.git.Show(ctx, "HEAD", relPath)
}

func (s *Store) checkUsable(snap *Snapshot) error {
	if snap == nil {
		return ErrNilSnapshot
	}
	if snap.State == StateConsumed {
		return ErrSnapshotConsumed
	}
	return nil
}

func (s *Store) resolveRef(ctx context.Context, label string) (string, error) {
	entries, err := s.git.StashList(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Message == label {
			return e.Ref, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSnapshotNotFound, label)
}

// ensureStateIgnored keeps the state directory out of git's view.
func (s *Store) ensureStateIgnored() error {
	if s.stateDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.stateDir, 0o750); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	ignore := filepath.Join(s.stateDir, ".gitignore")
	if _, err := os.Stat(ignore); err == nil {
		return nil
	}
	if err := os.WriteFile(ignore, []byte("*\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ignore, err)
	}
	return nil
}
