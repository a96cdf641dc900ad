// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/policy"
	"github.com/dustin/go-humanize"
)

// LocalStageName is the configured name of LocalStage.
const LocalStageName = "local"

// LocalRules configures LocalStage.
type LocalRules struct {
	// LoggerPatterns: a JavaScript file passes the logger rule if it
	// contains any of these substrings.
	LoggerPatterns []string

	// ExcludeFromLoggerCheck lists base names exempt from the logger rule.
	ExcludeFromLoggerCheck []string

	// WarnOnConsoleLogs adds a warning per file using console.log(.
	WarnOnConsoleLogs bool

	// MaxFileLinesWarning adds a warning for longer files. 0 disables.
	MaxFileLinesWarning int

	// Secrets scans every file for credentials. High-confidence findings
	// fail the file, the rest are warnings. Nil disables the scan.
	Secrets SecretScanner
}

// SecretScanner finds credentials in file content.
type SecretScanner interface {
	Scan(path, content string) []policy.Finding
}

// LocalStage runs cheap static checks with no external calls.
type LocalStage struct {
	root  string
	rules LocalRules
}

// NewLocalStage creates a LocalStage resolving relative paths against root.
func NewLocalStage(root string, rules LocalRules) *LocalStage {
	return &LocalStage{root: root, rules: rules}
}

// Name implements Stage.
func (s *LocalStage) Name() string { return LocalStageName }

// Run implements Stage.
func (s *LocalStage) Run(ctx context.Context, files []string) StageOutcome {
	out := StageOutcome{Status: StatusPassed}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			out.Status = StatusFailed
			out.Messages = append(out.Messages, "cancelled: "+err.Error())
			return out
		}
		problems, warnings := s.checkFile(f)
		if len(problems) > 0 {
			out.Status = StatusFailed
			out.Messages = append(out.Messages, problems...)
		}
		out.Warnings = append(out.Warnings, warnings...)
	}
	return out
}

func (s *LocalStage) checkFile(file string) (problems, warnings []string) {
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, file)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{file + ": file not found"}, nil
		}
		return []string{fmt.Sprintf("%s: %v", file, err)}, nil
	}
	content := string(data)
	base := filepath.Base(file)

	if isJavaScript(file) && !slices.Contains(s.rules.ExcludeFromLoggerCheck, base) {
		if !containsAny(content, s.rules.LoggerPatterns) {
			problems = append(problems, fmt.Sprintf("%s: no logger usage found (expected one of %s)",
				file, strings.Join(s.rules.LoggerPatterns, ", ")))
		}
		if s.rules.WarnOnConsoleLogs {
			if n := strings.Count(content, "console.log("); n > 0 {
				warnings = append(warnings, fmt.Sprintf("%s: %d console.log() call(s), use the logger instead", file, n))
			}
		}
	}

	if s.rules.Secrets != nil {
		for _, f := range s.rules.Secrets.Scan(file, content) {
			if f.Confidence == policy.High {
				problems = append(problems, f.String())
			} else {
				warnings = append(warnings, f.String())
			}
		}
	}

	if limit := s.rules.MaxFileLinesWarning; limit > 0 {
		if lines := strings.Count(content, "\n") + 1; lines > limit {
			warnings = append(warnings, fmt.Sprintf("%s: %s lines exceeds the %s-line recommendation",
				file, humanize.Comma(int64(lines)), humanize.Comma(int64(limit))))
		}
	}
	return problems, warnings
}

func isJavaScript(file string) bool {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".js", ".cjs", ".mjs":
		return true
	}
	return false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
