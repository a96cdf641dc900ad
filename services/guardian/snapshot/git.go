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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrGitTimeout is wrapped by every git invocation that exceeds its timeout.
var ErrGitTimeout = errors.New("git operation timed out")

// ErrPathNotInRef is returned by Show when the path does not exist in the ref.
var ErrPathNotInRef = errors.New("path not present in ref")

// noLocalChanges is printed by `git stash push` when there was nothing to save.
const noLocalChanges = "No local changes to save"

// stashLinePattern parses lines like: stash@{0}: On main: message here
var stashLinePattern = regexp.MustCompile(`^(stash@\{(\d+)\}): .*?: (.*)$`)

// StashEntry is one line of `git stash list`.
type StashEntry struct {
	Index   int    `json:"index"`
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

// GitClient is the subset of git the snapshot store needs.
//
// # Description
//
// Paths are relative to the client's working directory. Exclude lists hold
// repository-relative paths that must never be staged, stashed or cleaned.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, although the store
// only calls them sequentially.
type GitClient interface {
	IsAvailable() bool
	IsGitRepository(ctx context.Context) bool
	TopLevel(ctx context.Context) (string, error)
	HasPendingChanges(ctx context.Context, excludes []string) (bool, error)
	ChangedPaths(ctx context.Context, excludes []string) ([]string, error)
	AddAll(ctx context.Context, excludes []string) error
	StashPush(ctx context.Context, message string, excludes []string) (bool, error)
	StashList(ctx context.Context) ([]StashEntry, error)
	StashApply(ctx context.Context, ref string) error
	StashPop(ctx context.Context, ref string) error
	StashDrop(ctx context.Context, ref string) error
	Show(ctx context.Context, ref, path string) ([]byte, error)
	ResetHard(ctx context.Context, ref string) error
	CleanUntracked(ctx context.Context, excludes []string) error
	Diff(ctx context.Context, args ...string) (string, error)
	HasMergeInProgress(ctx context.Context) bool
	HasRebaseInProgress(ctx context.Context) bool
}

// DefaultGitClient implements GitClient using the git command line.
//
// # Description
//
// Executes git commands with configurable timeout and working directory.
// All operations are performed in the configured repository path.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type DefaultGitClient struct {
	repoPath string
	timeout  time.Duration
	binary   string
}

// NewGitClient creates a new git client for the specified repository.
//
// # Inputs
//
//   - repoPath: Absolute path to the working tree.
//   - timeout: Maximum duration for each git operation. Defaults to 30s.
//
// # Outputs
//
//   - *DefaultGitClient: Ready-to-use git client.
//   - error: Non-nil if repoPath is not absolute.
func NewGitClient(repoPath string, timeout time.Duration) (*DefaultGitClient, error) {
	if !filepath.IsAbs(repoPath) {
		return nil, fmt.Errorf("repoPath must be absolute: %s", repoPath)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &DefaultGitClient{
		repoPath: repoPath,
		timeout:  timeout,
		binary:   "git",
	}, nil
}

// run executes a git command and returns trimmed stdout.
func (g *DefaultGitClient) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.runRaw(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// runRaw executes a git command and returns stdout untouched.
func (g *DefaultGitClient) runRaw(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = g.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("git %s: timeout after %v: %w", args[0], g.timeout, ErrGitTimeout)
		}
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

// runSilent executes a git command and returns only success/failure.
func (g *DefaultGitClient) runSilent(ctx context.Context, args ...string) error {
	_, err := g.runRaw(ctx, args...)
	return err
}

// pathspec builds `-- . :(exclude)a :(exclude)b` for the given excludes.
func pathspec(excludes []string) []string {
	if len(excludes) == 0 {
		return nil
	}
	args := []string{"--", "."}
	for _, p := range excludes {
		p = strings.TrimSuffix(filepath.ToSlash(p), "/")
		if p == "" || p == "." {
			continue
		}
		args = append(args, ":(exclude)"+p)
	}
	return args
}

// IsAvailable reports whether the git binary is on PATH.
func (g *DefaultGitClient) IsAvailable() bool {
	_, err := exec.LookPath(g.binary)
	return err == nil
}

// IsGitRepository checks if the path is inside a git working tree.
func (g *DefaultGitClient) IsGitRepository(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// TopLevel returns the absolute path of the working tree root.
func (g *DefaultGitClient) TopLevel(ctx context.Context) (string, error) {
	top, err := g.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("resolving top level: %w", err)
	}
	return top, nil
}

// HasPendingChanges reports whether tracked or untracked changes exist
// outside the excluded paths.
func (g *DefaultGitClient) HasPendingChanges(ctx context.Context, excludes []string) (bool, error) {
	args := append([]string{"status", "--porcelain"}, pathspec(excludes)...)
	out, err := g.run(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("getting status: %w", err)
	}
	return out != "", nil
}

// ChangedPaths lists every path the working tree changed outside the
// excluded paths: modified, added, untracked and deleted files. A rename
// reports both sides, so the old path is validated as a deletion.
func (g *DefaultGitClient) ChangedPaths(ctx context.Context, excludes []string) ([]string, error) {
	args := append([]string{"status", "--porcelain", "-uall"}, pathspec(excludes)...)
	// Raw output: the first status column may be a significant space.
	out, err := g.runRaw(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("getting status: %w", err)
	}
	return parsePorcelain(strings.TrimRight(string(out), "\n")), nil
}

func parsePorcelain(output string) []string {
	if output == "" {
		return nil
	}

	var paths []string
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		file := line[3:]
		if from, to, ok := strings.Cut(file, " -> "); ok {
			paths = append(paths, unquotePath(from))
			file = to
		}
		paths = append(paths, unquotePath(file))
	}
	return paths
}

func unquotePath(p string) string {
	if unquoted, err := strconv.Unquote(p); err == nil {
		return unquoted
	}
	return p
}

// AddAll stages all changes outside the excluded paths.
func (g *DefaultGitClient) AddAll(ctx context.Context, excludes []string) error {
	args := append([]string{"add", "-A"}, pathspec(excludes)...)
	return g.runSilent(ctx, args...)
}

// StashPush stashes all changes, untracked files included, under message.
//
// # Outputs
//
//   - bool: False when git reported nothing to save.
//   - error: Non-nil if the stash could not be created.
func (g *DefaultGitClient) StashPush(ctx context.Context, message string, excludes []string) (bool, error) {
	args := append([]string{"stash", "push", "-u", "-m", message}, pathspec(excludes)...)
	out, err := g.run(ctx, args...)
	if err != nil {
		return false, err
	}
	return !strings.Contains(out, noLocalChanges), nil
}

// StashList returns all stash entries, most recent first.
func (g *DefaultGitClient) StashList(ctx context.Context) ([]StashEntry, error) {
	output, err := g.run(ctx, "stash", "list")
	if err != nil {
		return nil, fmt.Errorf("listing stashes: %w", err)
	}
	return parseStashList(output), nil
}

func parseStashList(output string) []StashEntry {
	if output == "" {
		return nil
	}

	var entries []StashEntry
	for _, line := range strings.Split(output, "\n") {
		matches := stashLinePattern.FindStringSubmatch(line)
		if len(matches) != 4 {
			continue
		}
		index, err := strconv.Atoi(matches[2])
		if err != nil {
			continue
		}
		entries = append(entries, StashEntry{
			Index:   index,
			Ref:     matches[1],
			Message: matches[3],
		})
	}
	return entries
}

// StashApply applies the given stash entry and keeps it in the list.
func (g *DefaultGitClient) StashApply(ctx context.Context, ref string) error {
	return g.runSilent(ctx, "stash", "apply", "--index", ref)
}

// StashPop applies and removes the given stash entry.
func (g *DefaultGitClient) StashPop(ctx context.Context, ref string) error {
	return g.runSilent(ctx, "stash", "pop", "--index", ref)
}

// StashDrop removes the given stash entry without applying it.
func (g *DefaultGitClient) StashDrop(ctx context.Context, ref string) error {
	return g.runSilent(ctx, "stash", "drop", ref)
}

// Show returns the content of path as recorded in ref.
//
// # Description
//
// The path is resolved relative to the client's working directory. A path
// missing from the ref yields ErrPathNotInRef so callers can tell "no
// prior version" apart from a git failure.
func (g *DefaultGitClient) Show(ctx context.Context, ref, path string) ([]byte, error) {
	object := ref + ":./" + strings.TrimPrefix(filepath.ToSlash(path), "./")
	if err := g.runSilent(ctx, "cat-file", "-e", object); err != nil {
		if errors.Is(err, ErrGitTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", object, ErrPathNotInRef)
	}

	out, err := g.runRaw(ctx, "show", object)
	if err != nil {
		return nil, fmt.Errorf("showing %s: %w", object, err)
	}
	return out, nil
}

// ResetHard resets the index and working tree to ref.
func (g *DefaultGitClient) ResetHard(ctx context.Context, ref string) error {
	return g.runSilent(ctx, "reset", "--hard", ref)
}

// CleanUntracked removes untracked files and directories, keeping the
// excluded paths. Ignored files are never touched.
func (g *DefaultGitClient) CleanUntracked(ctx context.Context, excludes []string) error {
	args := []string{"clean", "-fd"}
	for _, p := range excludes {
		p = filepath.ToSlash(p)
		if p == "" {
			continue
		}
		args = append(args, "-e", p)
	}
	return g.runSilent(ctx, args...)
}

// Diff runs `git diff` with the given arguments and returns its output.
func (g *DefaultGitClient) Diff(ctx context.Context, args ...string) (string, error) {
	out, err := g.runRaw(ctx, append([]string{"diff", "--no-color", "--no-ext-diff"}, args...)...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// HasRebaseInProgress checks for .git/rebase-merge or .git/rebase-apply.
func (g *DefaultGitClient) HasRebaseInProgress(ctx context.Context) bool {
	gitDir, err := g.gitDir(ctx)
	if err != nil {
		return false
	}

	for _, name := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(gitDir, name)); err == nil {
			return true
		}
	}
	return false
}

// HasMergeInProgress checks for .git/MERGE_HEAD.
func (g *DefaultGitClient) HasMergeInProgress(ctx context.Context) bool {
	gitDir, err := g.gitDir(ctx)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(gitDir, "MERGE_HEAD"))
	return err == nil
}

func (g *DefaultGitClient) gitDir(ctx context.Context) (string, error) {
	dir, err := g.run(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(g.repoPath, dir)
	}
	return dir, nil
}
