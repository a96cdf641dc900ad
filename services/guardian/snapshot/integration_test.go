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
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestIntegration_RestoreRoundTrip(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	t.Parallel()

	repo := setupTestRepo(t)
	writeFile(t, repo, "tracked.js", "function keep() {}\n// edited before prepare\n")
	writeFile(t, repo, "wip.js", "const wip = () => 1;\n")

	store := newGitStore(t, repo)
	ctx := context.Background()

	snap, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if snap.State != StateActive {
		t.Fatalf("expected ACTIVE snapshot, got %s", snap.State)
	}

	// The working tree is untouched by Create.
	assertContent(t, repo, "tracked.js", "function keep() {}\n// edited before prepare\n")
	assertContent(t, repo, "wip.js", "const wip = () => 1;\n")

	// Mutate: edit, delete and create files, and write tooling state.
	writeFile(t, repo, "tracked.js", "gutted\n")
	if err := os.Remove(filepath.Join(repo, "wip.js")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, repo, "created.js", "new\n")
	writeFile(t, repo, filepath.Join(".guardian", "logs", "system.log"), "log line\n")

	if err := store.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	assertContent(t, repo, "tracked.js", "function keep() {}\n// edited before prepare\n")
	assertContent(t, repo, "wip.js", "const wip = () => 1;\n")
	if _, err := os.Stat(filepath.Join(repo, "created.js")); !os.IsNotExist(err) {
		t.Error("created.js should be removed by restore")
	}
	assertContent(t, repo, filepath.Join(".guardian", "logs", "system.log"), "log line\n")

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no guardian stash entries after restore, got %v", entries)
	}
}

func TestIntegration_ChangedFilesIncludesDeletions(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	t.Parallel()

	repo := setupTestRepo(t)
	writeFile(t, repo, "tracked.js", "function keep() {}\n// edited\n")
	if err := os.Remove(filepath.Join(repo, "README.md")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, repo, "fresh.js", "new\n")

	files, err := newGitStore(t, repo).ChangedFiles(context.Background())
	if err != nil {
		t.Fatalf("ChangedFiles failed: %v", err)
	}
	want := map[string]bool{"README.md": true, "tracked.js": true, "fresh.js": true}
	if len(files) != len(want) {
		t.Fatalf("ChangedFiles = %v, want %d paths", files, len(want))
	}
	for _, f := range files {
		if !want[f] {
			t.Errorf("unexpected path %q in %v", f, files)
		}
	}
}

func TestIntegration_DropKeepsMutation(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	t.Parallel()

	repo := setupTestRepo(t)
	writeFile(t, repo, "README.md", "# changed\n")
	store := newGitStore(t, repo)
	ctx := context.Background()

	snap, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	writeFile(t, repo, "README.md", "# changed again\n")
	if err := store.Drop(ctx, snap); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}

	assertContent(t, repo, "README.md", "# changed again\n")
	if out := runGit(t, repo, "stash", "list"); out != "" {
		t.Errorf("expected empty stash list, got %q", out)
	}
}

func TestIntegration_CleanSnapshot(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	t.Parallel()

	repo := setupTestRepo(t)
	store := newGitStore(t, repo)
	ctx := context.Background()

	snap, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if snap.State != StateClean {
		t.Fatalf("expected CLEAN snapshot, got %s", snap.State)
	}

	ok, err := store.ExportFile(ctx, snap, "README.md", filepath.Join(t.TempDir(), "README.md"))
	if err != nil || !ok {
		t.Errorf("ExportFile(README.md) = %v, %v; want true, nil", ok, err)
	}

	if err := store.Restore(ctx, snap); err != nil {
		t.Errorf("Restore of clean snapshot failed: %v", err)
	}
	if snap.State != StateConsumed {
		t.Errorf("expected CONSUMED, got %s", snap.State)
	}
}

func TestIntegration_ExportFile(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	t.Parallel()

	repo := setupTestRepo(t)
	writeFile(t, repo, "src/calc.js", "function calc() {}\n")
	store := newGitStore(t, repo)
	ctx := context.Background()

	snap, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer store.Drop(ctx, snap)

	writeFile(t, repo, "src/calc.js", "function calc2() {}\n")

	dest := filepath.Join(t.TempDir(), "calc.js")
	ok, err := store.ExportFile(ctx, snap, "src/calc.js", dest)
	if err != nil || !ok {
		t.Fatalf("ExportFile = %v, %v; want true, nil", ok, err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "function calc() {}\n" {
		t.Errorf("exported content = %q", data)
	}

	ok, err = store.ExportFile(ctx, snap, "src/never.js", filepath.Join(t.TempDir(), "never.js"))
	if err != nil || ok {
		t.Errorf("ExportFile(missing) = %v, %v; want false, nil", ok, err)
	}
}

func TestIntegration_NotARepository(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	t.Parallel()

	store := newGitStore(t, t.TempDir())
	if _, err := store.Create(context.Background()); err == nil {
		t.Error("expected ErrBackendUnavailable outside a repository")
	}
}

// =============================================================================
// Test Helpers
// =============================================================================

// gitAvailable checks if git is installed.
func gitAvailable() bool {
	cmd := exec.Command("git", "--version")
	return cmd.Run() == nil
}

func newGitStore(t *testing.T, repo string) *Store {
	t.Helper()
	store, err := NewStore(Config{
		RepoPath: repo,
		StateDir: ".guardian",
	})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

// setupTestRepo creates a temporary git repository with one commit.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "guardian@example.com")
	runGit(t, dir, "config", "user.name", "Guardian Test")
	runGit(t, dir, "checkout", "-b", "main")

	writeFile(t, dir, "README.md", "# Test Repo\n")
	writeFile(t, dir, "tracked.js", "function keep() {}\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "Initial commit")

	return dir
}

// runGit runs a git command in the specified directory.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\nOutput: %s", args, err, output)
	}
	return string(output)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func assertContent(t *testing.T, root, rel, want string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Errorf("reading %s: %v", rel, err)
		return
	}
	if string(data) != want {
		t.Errorf("%s = %q, want %q", rel, data, want)
	}
}
