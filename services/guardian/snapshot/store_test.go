// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockGitClient is an in-memory GitClient. Stash entries are kept most
// recent first, like `git stash list`.
type mockGitClient struct {
	mu sync.Mutex

	unavailable bool
	notRepo     bool
	merging     bool
	rebasing    bool
	pending     bool
	pushErr     error
	applyErr    error
	files       map[string]map[string][]byte // ref -> path -> content
	stash       []string                     // messages, index 0 = stash@{0}
	calls       []string
}

func newMockGit() *mockGitClient {
	return &mockGitClient{files: map[string]map[string][]byte{}}
}

func (m *mockGitClient) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockGitClient) IsAvailable() bool { return !m.unavailable }

func (m *mockGitClient) IsGitRepository(ctx context.Context) bool { return !m.notRepo }

func (m *mockGitClient) TopLevel(ctx context.Context) (string, error) { return "/repo", nil }

func (m *mockGitClient) HasPendingChanges(ctx context.Context, excludes []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("status " + strings.Join(excludes, ","))
	return m.pending, nil
}

func (m *mockGitClient) ChangedPaths(ctx context.Context, excludes []string) ([]string, error) {
	return []string{"a.js"}, nil
}

func (m *mockGitClient) AddAll(ctx context.Context, excludes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("add")
	return nil
}

func (m *mockGitClient) StashPush(ctx context.Context, message string, excludes []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("push " + message)
	if m.pushErr != nil {
		return false, m.pushErr
	}
	m.stash = append([]string{message}, m.stash...)
	return true, nil
}

func (m *mockGitClient) StashList(ctx context.Context) ([]StashEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]StashEntry, 0, len(m.stash))
	for i, msg := range m.stash {
		entries = append(entries, StashEntry{Index: i, Ref: fmt.Sprintf("stash@{%d}", i), Message: msg})
	}
	return entries, nil
}

func (m *mockGitClient) indexOf(ref string) int {
	for i := range m.stash {
		if fmt.Sprintf("stash@{%d}", i) == ref {
			return i
		}
	}
	return -1
}

func (m *mockGitClient) StashApply(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("apply " + ref)
	return m.applyErr
}

func (m *mockGitClient) StashPop(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("pop " + ref)
	i := m.indexOf(ref)
	if i < 0 {
		return errors.New("no such stash")
	}
	m.stash = append(m.stash[:i], m.stash[i+1:]...)
	return nil
}

func (m *mockGitClient) StashDrop(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("drop " + ref)
	i := m.indexOf(ref)
	if i < 0 {
		return errors.New("no such stash")
	}
	m.stash = append(m.stash[:i], m.stash[i+1:]...)
	return nil
}

func (m *mockGitClient) Show(ctx context.Context, ref, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("show " + ref + ":" + path)
	if data, ok := m.files[ref][path]; ok {
		return data, nil
	}
	return nil, ErrPathNotInRef
}

func (m *mockGitClient) ResetHard(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("reset " + ref)
	return nil
}

func (m *mockGitClient) CleanUntracked(ctx context.Context, excludes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("clean " + strings.Join(excludes, ","))
	return nil
}

func (m *mockGitClient) Diff(ctx context.Context, args ...string) (string, error) { return "", nil }

func (m *mockGitClient) HasMergeInProgress(ctx context.Context) bool { return m.merging }

func (m *mockGitClient) HasRebaseInProgress(ctx context.Context) bool { return m.rebasing }

func newMockStore(t *testing.T, git *mockGitClient) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStoreWithGit(Config{
		RepoPath:     dir,
		StateDir:     ".guardian",
		ExcludePaths: []string{".guardian/", "secrets"},
	}, git)
	require.NoError(t, err)
	return s
}

func TestNewStoreWithGit_Excludes(t *testing.T) {
	s := newMockStore(t, newMockGit())
	assert.Equal(t, []string{".guardian/", "secrets"}, s.Excludes())
	assert.Equal(t, DefaultLabelPrefix, s.LabelPrefix())

	_, err := NewStoreWithGit(Config{RepoPath: t.TempDir()}, nil)
	assert.Error(t, err)
}

func TestStore_CreateClean(t *testing.T) {
	git := newMockGit()
	s := newMockStore(t, git)
	ctx := context.Background()

	snap, err := s.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateClean, snap.State)
	assert.True(t, snap.Clean)
	assert.NotContains(t, strings.Join(git.calls, "|"), "push")

	require.NoError(t, s.Restore(ctx, snap))
	assert.Equal(t, StateConsumed, snap.State)
	assert.NotContains(t, strings.Join(git.calls, "|"), "reset")

	clean, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Drop(ctx, clean))
	assert.Equal(t, StateConsumed, clean.State)
	assert.NotContains(t, strings.Join(git.calls, "|"), "drop")
}

func TestStore_CreateWritesStateIgnore(t *testing.T) {
	s := newMockStore(t, newMockGit())
	_, err := s.Create(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.RepoPath(), ".guardian", ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "*\n", string(data))
}

func TestStore_CreateActive(t *testing.T) {
	git := newMockGit()
	git.pending = true
	s := newMockStore(t, git)

	snap, err := s.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateActive, snap.State)
	assert.True(t, strings.HasPrefix(snap.Label, DefaultLabelPrefix+"-"))
	assert.Equal(t, []string{"status .guardian/,secrets", "add", "push " + snap.Label, "apply stash@{0}"}, git.calls)
}

func TestStore_CreateApplyFailure(t *testing.T) {
	git := newMockGit()
	git.pending = true
	git.applyErr = errors.New("conflict")
	s := newMockStore(t, git)

	snap, err := s.Create(context.Background())
	assert.Nil(t, snap)
	assert.ErrorContains(t, err, "reapplying")
	// The checkpoint is left in place for manual recovery.
	assert.Len(t, git.stash, 1)
}

func TestStore_Preflight(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mockGitClient)
		want  error
	}{
		{"git missing", func(g *mockGitClient) { g.unavailable = true }, ErrBackendUnavailable},
		{"not a repository", func(g *mockGitClient) { g.notRepo = true }, ErrBackendUnavailable},
		{"merge", func(g *mockGitClient) { g.merging = true }, ErrMergeInProgress},
		{"rebase", func(g *mockGitClient) { g.rebasing = true }, ErrRebaseInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := newMockGit()
			tt.setup(git)
			s := newMockStore(t, git)
			_, err := s.Create(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStore_RestoreResolvesByLabel(t *testing.T) {
	git := newMockGit()
	git.pending = true
	s := newMockStore(t, git)
	ctx := context.Background()

	snap, err := s.Create(ctx)
	require.NoError(t, err)

	// A user stash pushed after the snapshot shifts it to stash@{1}.
	git.stash = append([]string{"WIP on main: unrelated"}, git.stash...)
	git.calls = nil

	require.NoError(t, s.Restore(ctx, snap))
	assert.Equal(t, []string{"reset HEAD", "clean .guardian/,secrets", "pop stash@{1}"}, git.calls)
	assert.Equal(t, []string{"WIP on main: unrelated"}, git.stash)
	assert.Equal(t, StateConsumed, snap.State)

	assert.ErrorIs(t, s.Restore(ctx, snap), ErrSnapshotConsumed)
	assert.ErrorIs(t, s.Drop(ctx, snap), ErrSnapshotConsumed)
}

func TestStore_DropResolvesByLabel(t *testing.T) {
	git := newMockGit()
	git.pending = true
	s := newMockStore(t, git)
	ctx := context.Background()

	snap, err := s.Create(ctx)
	require.NoError(t, err)
	git.stash = append([]string{"other"}, git.stash...)

	require.NoError(t, s.Drop(ctx, snap))
	assert.Equal(t, []string{"other"}, git.stash)
}

func TestStore_MissingStashEntry(t *testing.T) {
	git := newMockGit()
	git.pending = true
	s := newMockStore(t, git)
	ctx := context.Background()

	snap, err := s.Create(ctx)
	require.NoError(t, err)
	git.stash = nil

	assert.ErrorIs(t, s.Restore(ctx, snap), ErrSnapshotNotFound)
	assert.Equal(t, StateActive, snap.State)
}

func TestStore_ExportFile(t *testing.T) {
	git := newMockGit()
	git.pending = true
	s := newMockStore(t, git)
	ctx := context.Background()

	snap, err := s.Create(ctx)
	require.NoError(t, err)
	git.files["stash@{0}"] = map[string][]byte{"src/a.js": []byte("function a() {}\n")}

	dest := filepath.Join(t.TempDir(), "nested", "a.js")
	ok, err := s.ExportFile(ctx, snap, "src/a.js", dest)
	require.NoError(t, err)
	assert.True(t, ok)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "function a() {}\n", string(data))

	ok, err = s.ExportFile(ctx, snap, "src/new.js", filepath.Join(t.TempDir(), "new.js"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.ExportFile(ctx, nil, "a", "b")
	assert.ErrorIs(t, err, ErrNilSnapshot)
}

func TestStore_ExportFileCleanUsesHead(t *testing.T) {
	git := newMockGit()
	git.files["HEAD"] = map[string][]byte{"a.js": []byte("x\n")}
	s := newMockStore(t, git)
	ctx := context.Background()

	snap, err := s.Create(ctx)
	require.NoError(t, err)
	require.Equal(t, StateClean, snap.State)

	ok, err := s.ExportFile(ctx, snap, "a.js", filepath.Join(t.TempDir(), "a.js"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, git.calls, "show HEAD:a.js")
}

func TestStore_List(t *testing.T) {
	git := newMockGit()
	git.stash = []string{"guardian-snapshot-1", "WIP on main", "guardian-snapshot-2"}
	s := newMockStore(t, git)

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "stash@{0}", entries[0].Ref)
	assert.Equal(t, "stash@{2}", entries[1].Ref)
}

func TestStore_BackendUnavailableEverywhere(t *testing.T) {
	git := newMockGit()
	git.pending = true
	s := newMockStore(t, git)
	ctx := context.Background()
	snap, err := s.Create(ctx)
	require.NoError(t, err)

	git.unavailable = true
	assert.ErrorIs(t, s.Restore(ctx, snap), ErrBackendUnavailable)
	assert.ErrorIs(t, s.Drop(ctx, snap), ErrBackendUnavailable)
	_, err = s.ExportFile(ctx, snap, "a", filepath.Join(t.TempDir(), "a"))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	_, err = s.ChangedFiles(ctx)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
