// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package review checks a working-tree or ref-to-ref diff against the
// scope of the current plan step.
//
// The diff is parsed with sourcegraph/go-diff. Warnings never fail a
// review; only a protected file changed outside the plan step does.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ErrParseDiff wraps unified diff parse failures.
var ErrParseDiff = errors.New("parse diff")

var consoleLogLine = regexp.MustCompile(`console\.log\s*\(`)

// Differ produces unified diffs. Args follow `git diff`.
type Differ interface {
	Diff(ctx context.Context, args ...string) (string, error)
}

// Rules tunes the reviewer.
type Rules struct {
	// ProtectedFiles are matched as path suffixes.
	ProtectedFiles []string

	// DeletionRatioWarning is the removed/(added+removed) ratio above
	// which a warning is emitted, once MinDeletedLinesWarning is exceeded.
	DeletionRatioWarning   float64
	MinDeletedLinesWarning int

	// LargeDiffLines warns when more lines than this were added.
	LargeDiffLines int
}

// DefaultRules mirrors the default review configuration.
func DefaultRules() Rules {
	return Rules{
		ProtectedFiles:         []string{"guardian.yaml", "go.mod", "package.json"},
		DeletionRatioWarning:   0.8,
		MinDeletedLinesWarning: 20,
		LargeDiffLines:         500,
	}
}

// FileChange summarises one file in the diff.
type FileChange struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Deleted bool   `json:"deleted,omitempty"`
	Created bool   `json:"created,omitempty"`
}

// Result is the outcome of a review.
type Result struct {
	Passed     bool         `json:"passed"`
	Files      []FileChange `json:"files"`
	Added      int          `json:"added"`
	Removed    int          `json:"removed"`
	Warnings   []string     `json:"warnings"`
	OutOfScope []string     `json:"outOfScope"`
}

// Reviewer reviews diffs.
//
// # Thread Safety
//
// Stateless; safe for concurrent use if the Differ is.
type Reviewer struct {
	differ Differ
	rules  Rules
	logger *slog.Logger
}

// NewReviewer creates a Reviewer. logger may be nil.
func NewReviewer(differ Differ, rules Rules, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{differ: differ, rules: rules, logger: logger.With("component", "review.Reviewer")}
}

// WorkingTreeDiff returns the staged diff followed by the unstaged diff.
func (r *Reviewer) WorkingTreeDiff(ctx context.Context) (string, error) {
	staged, err := r.differ.Diff(ctx, "--cached")
	if err != nil {
		return "", fmt.Errorf("staged diff: %w", err)
	}
	unstaged, err := r.differ.Diff(ctx)
	if err != nil {
		return "", fmt.Errorf("unstaged diff: %w", err)
	}
	return staged + unstaged, nil
}

// RefDiff returns `git diff from to`. Empty refs default to HEAD~1 and HEAD.
func (r *Reviewer) RefDiff(ctx context.Context, from, to string) (string, error) {
	if from == "" {
		from = "HEAD~1"
	}
	if to == "" {
		to = "HEAD"
	}
	return r.differ.Diff(ctx, from, to)
}

// ReviewWorkingTree reviews uncommitted changes against planStep.
func (r *Reviewer) ReviewWorkingTree(ctx context.Context, planStep string) (*Result, error) {
	raw, err := r.WorkingTreeDiff(ctx)
	if err != nil {
		return nil, err
	}
	return r.Review(raw, planStep)
}

// Review analyses a unified diff.
//
// # Description
//
// Checks, in order: added console.log lines (warning), protected files
// not mentioned by planStep (out of scope, fails), a high deletion ratio
// (warning), and a large number of added lines (warning). An empty diff
// passes with a warning. Protected files are only enforced when planStep
// is non-empty; without a plan step they produce a warning.
//
// # Outputs
//
//   - *Result: Never nil on success.
//   - error: ErrParseDiff when raw is not a unified diff.
func (r *Reviewer) Review(raw, planStep string) (*Result, error) {
	result := &Result{Passed: true, Files: []FileChange{}, Warnings: []string{}, OutOfScope: []string{}}

	if strings.TrimSpace(raw) == "" {
		result.Warnings = append(result.Warnings, "no diff, nothing changed")
		return result, nil
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(raw)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseDiff, err)
	}

	consoleLogAdded := false
	for _, fd := range fileDiffs {
		change := fileChange(fd)
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
					change.Added++
					if consoleLogLine.MatchString(line) {
						consoleLogAdded = true
					}
				case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
					change.Removed++
				}
			}
		}
		result.Added += change.Added
		result.Removed += change.Removed
		result.Files = append(result.Files, change)
	}

	if consoleLogAdded {
		result.Warnings = append(result.Warnings, "console.log added, use the logger instead")
	}

	for _, f := range result.Files {
		if !r.isProtected(f.Path) {
			continue
		}
		switch {
		case planStep == "":
			result.Warnings = append(result.Warnings, "protected file changed: "+f.Path)
		case !mentions(planStep, f.Path):
			result.OutOfScope = append(result.OutOfScope, "protected file changed without plan mention: "+f.Path)
		}
	}

	if total := result.Added + result.Removed; result.Removed > 0 {
		ratio := float64(result.Removed) / float64(total)
		if ratio > r.rules.DeletionRatioWarning && result.Removed > r.rules.MinDeletedLinesWarning {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"high deletion ratio: %d lines removed (%.0f%%), run an integrity check", result.Removed, ratio*100))
		}
	}

	if r.rules.LargeDiffLines > 0 && result.Added > r.rules.LargeDiffLines {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"large diff: +%d lines in one step, consider splitting it", result.Added))
	}

	result.Passed = len(result.OutOfScope) == 0
	r.logger.Info("diff reviewed",
		"passed", result.Passed,
		"added", result.Added,
		"removed", result.Removed,
		"files", len(result.Files),
		"warnings", len(result.Warnings),
		"out_of_scope", len(result.OutOfScope))
	return result, nil
}

func (r *Reviewer) isProtected(p string) bool {
	for _, protected := range r.rules.ProtectedFiles {
		if p == protected || strings.HasSuffix(p, "/"+protected) {
			return true
		}
	}
	return false
}

func fileChange(fd *diff.FileDiff) FileChange {
	orig := stripPrefix(fd.OrigName)
	next := stripPrefix(fd.NewName)
	change := FileChange{Path: next}
	switch {
	case fd.NewName == "/dev/null":
		change.Path = orig
		change.Deleted = true
	case fd.OrigName == "/dev/null":
		change.Created = true
	}
	return change
}

func stripPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

// mentions reports whether planStep names p by base name or path,
// ignoring case and punctuation.
func mentions(planStep, p string) bool {
	step := alnum(planStep)
	return strings.Contains(step, alnum(path.Base(p))) || strings.Contains(step, alnum(p))
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
