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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/integrity"
	"github.com/AleutianAI/ChangeGuardian/services/guardian/snapshot"
)

// IntegrityStageName is the configured name of IntegrityStage.
const IntegrityStageName = "integrity"

// BaselineSource supplies the pre-change version of a file.
type BaselineSource interface {
	// Baseline returns the prior content of rel. found is false when
	// there is no prior version.
	Baseline(ctx context.Context, rel string) (content string, found bool, err error)

	// Describe names the source for log messages.
	Describe() string
}

// BackupsBaseline reads baselines from <Dir>/<relative path>.
type BackupsBaseline struct {
	Dir string
}

// Baseline implements BaselineSource.
func (b BackupsBaseline) Baseline(ctx context.Context, rel string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(b.Dir, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// Describe implements BaselineSource.
func (b BackupsBaseline) Describe() string { return "backup " + b.Dir }

// HeadReader reads a file from the HEAD revision.
type HeadReader interface {
	ShowHead(ctx context.Context, rel string) ([]byte, error)
}

// HeadBaseline reads baselines from the HEAD revision.
type HeadBaseline struct {
	Reader HeadReader
}

// Baseline implements BaselineSource.
func (h HeadBaseline) Baseline(ctx context.Context, rel string) (string, bool, error) {
	data, err := h.Reader.ShowHead(ctx, rel)
	if err != nil {
		if errors.Is(err, snapshot.ErrPathNotInRef) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// Describe implements BaselineSource.
func (h HeadBaseline) Describe() string { return "HEAD" }

// IntegrityStage compares each file against its baseline.
//
// # Description
//
// Files without a baseline are skipped. Every file is compared before the
// stage returns so the outcome lists all violations.
type IntegrityStage struct {
	root       string
	comparator *integrity.Comparator
	baseline   BaselineSource
}

// NewIntegrityStage creates an IntegrityStage.
func NewIntegrityStage(root string, comparator *integrity.Comparator, baseline BaselineSource) *IntegrityStage {
	if comparator == nil {
		comparator = integrity.NewComparator(nil, nil, integrity.DefaultOptions())
	}
	return &IntegrityStage{root: root, comparator: comparator, baseline: baseline}
}

// Name implements Stage.
func (s *IntegrityStage) Name() string { return IntegrityStageName }

// Run implements Stage.
func (s *IntegrityStage) Run(ctx context.Context, files []string) StageOutcome {
	out := StageOutcome{Status: StatusPassed}
	compared := 0

	for _, f := range files {
		rel, abs := s.paths(f)

		old, found, err := s.baseline.Baseline(ctx, rel)
		if err != nil {
			out.Status = StatusFailed
			out.Messages = append(out.Messages, fmt.Sprintf("%s: reading baseline from %s: %v", rel, s.baseline.Describe(), err))
			continue
		}
		if !found {
			out.Messages = append(out.Messages, rel+": no baseline, skipped")
			continue
		}

		current, err := os.ReadFile(abs)
		if err != nil && !os.IsNotExist(err) {
			out.Status = StatusFailed
			out.Messages = append(out.Messages, fmt.Sprintf("%s: %v", rel, err))
			continue
		}

		compared++
		result := s.comparator.CompareFor(rel, old, string(current))
		if !result.Passed {
			out.Status = StatusFailed
		}
		out.Messages = append(out.Messages, rel+": "+result.Summary())
	}

	if compared == 0 && out.Status == StatusPassed {
		out.Status = StatusSkipped
	}
	return out
}

func (s *IntegrityStage) paths(file string) (rel, abs string) {
	if filepath.IsAbs(file) {
		abs = file
		if r, err := filepath.Rel(s.root, file); err == nil {
			rel = r
		} else {
			rel = file
		}
	} else {
		rel = file
		abs = filepath.Join(s.root, file)
	}
	return filepath.ToSlash(filepath.Clean(rel)), abs
}
