// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package integrity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNilContext is returned when a nil context is passed.
var ErrNilContext = errors.New("context must not be nil")

// Options are the comparator switches.
type Options struct {
	// MinAbsoluteLoss is the number of lost lines below which rule 1
	// never fails. Default 3.
	MinAbsoluteLoss int

	// StrictSymbols enables rule 2. Default true.
	StrictSymbols bool
}

// DefaultOptions returns MinAbsoluteLoss 3 and StrictSymbols true.
func DefaultOptions() Options {
	return Options{MinAbsoluteLoss: 3, StrictSymbols: true}
}

// ComparisonResult is the outcome of comparing two revisions of one file.
type ComparisonResult struct {
	Passed         bool     `json:"passed"`
	OldLineCount   int      `json:"oldLineCount"`
	NewLineCount   int      `json:"newLineCount"`
	LineDelta      int      `json:"lineDelta"`
	ThresholdUsed  float64  `json:"thresholdUsed"`
	Tier           string   `json:"tier"`
	MissingSymbols []string `json:"missingSymbols"`

	// LossRatio is LineDelta/OldLineCount, 0 when nothing was lost.
	LossRatio float64 `json:"lossRatio"`

	// LineLossExceeded reports rule 1.
	LineLossExceeded bool `json:"lineLossExceeded"`

	// SymbolsMissing reports rule 2. Always false when strict mode is off.
	SymbolsMissing bool `json:"symbolsMissing"`

	// Churn counts line edits. Informational; never affects Passed.
	Churn LineChurn `json:"churn"`
}

// Summary renders a one-line diagnostic: what failed, measured numbers
// and the threshold used.
func (r *ComparisonResult) Summary() string {
	head := fmt.Sprintf("%d -> %d lines (delta %d, loss %.0f%%, limit %.0f%% [%s])",
		r.OldLineCount, r.NewLineCount, r.LineDelta, r.LossRatio*100, r.ThresholdUsed*100, r.Tier)
	if r.Passed {
		return "PASSED: " + head
	}

	var reasons []string
	if r.LineLossExceeded {
		reasons = append(reasons, "excessive line loss")
	}
	if r.SymbolsMissing {
		reasons = append(reasons, "missing symbols: "+strings.Join(r.MissingSymbols, ", "))
	}
	return "FAILED: " + head + ": " + strings.Join(reasons, "; ")
}

// Comparator decides PASS/FAIL between two revisions of a file.
//
// # Thread Safety
//
// Immutable after construction. Safe for concurrent use.
type Comparator struct {
	policy    *ThresholdPolicy
	extractor SymbolExtractor
	opts      Options
}

// NewComparator creates a Comparator.
//
// # Inputs
//
//   - policy: Size tiers. nil uses DefaultThresholdPolicy().
//   - extractor: Symbol extractor. nil uses the regex heuristic.
//   - opts: Rule switches.
//
// # Outputs
//
//   - *Comparator: Never nil.
func NewComparator(policy *ThresholdPolicy, extractor SymbolExtractor, opts Options) *Comparator {
	if policy == nil {
		policy = DefaultThresholdPolicy()
	}
	if extractor == nil {
		extractor = NewRegexExtractor()
	}
	if opts.MinAbsoluteLoss < 0 {
		opts.MinAbsoluteLoss = 0
	}
	return &Comparator{policy: policy, extractor: extractor, opts: opts}
}

// Policy returns the comparator's threshold policy.
func (c *Comparator) Policy() *ThresholdPolicy {
	return c.policy
}

// Options returns the comparator's rule switches.
func (c *Comparator) Options() Options {
	return c.opts
}

// Compare evaluates both rules over oldText and newText.
//
// # Description
//
// Line counts come from splitting on "\n", except that an empty text has
// zero lines. A trailing newline adds one. lineDelta = old - new;
// growth (negative delta) never fails rule 1. An empty old text cannot
// lose anything and passes rule 1. Rule 2 runs only in strict mode.
//
// # Inputs
//
//   - oldText: Content before the change.
//   - newText: Content after the change.
//
// # Outputs
//
//   - *ComparisonResult: Complete diagnostic. Never nil.
func (c *Comparator) Compare(oldText, newText string) *ComparisonResult {
	return c.compareWith(c.extractor, oldText, newText)
}

// CompareFor is Compare with the extractor specialised for path.
func (c *Comparator) CompareFor(path, oldText, newText string) *ComparisonResult {
	extractor := c.extractor
	if pa, ok := extractor.(PathAwareExtractor); ok {
		extractor = pa.ForPath(path)
	}
	return c.compareWith(extractor, oldText, newText)
}

func (c *Comparator) compareWith(extractor SymbolExtractor, oldText, newText string) *ComparisonResult {
	oldLines := lineCount(oldText)
	newLines := lineCount(newText)
	tier := c.policy.TierFor(oldLines)

	r := &ComparisonResult{
		OldLineCount:   oldLines,
		NewLineCount:   newLines,
		LineDelta:      oldLines - newLines,
		ThresholdUsed:  tier.Tolerance,
		Tier:           tier.Name,
		MissingSymbols: []string{},
	}

	if oldText != "" && r.LineDelta > 0 {
		r.LossRatio = float64(r.LineDelta) / float64(oldLines)
		r.LineLossExceeded = r.LineDelta >= c.opts.MinAbsoluteLoss && r.LossRatio > r.ThresholdUsed
	}

	if c.opts.StrictSymbols {
		r.MissingSymbols = MissingSymbols(extractor.Extract(oldText), extractor.Extract(newText))
		r.SymbolsMissing = len(r.MissingSymbols) > 0
	}

	if oldText != newText {
		r.Churn = ComputeLineChurn(oldText, newText)
	}

	r.Passed = !r.LineLossExceeded && !r.SymbolsMissing
	recordComparison(r)
	return r
}

// lineCount splits on "\n". The empty string is zero lines so an empty
// baseline never divides by zero.
func lineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

// CompareFiles reads oldPath and newPath and compares them.
//
// # Description
//
// I/O failures are returned as errors; callers decide whether that means
// fail-closed. The extractor is specialised for newPath.
//
// # Inputs
//
//   - ctx: Context for cancellation. Must not be nil.
//   - c: The comparator.
//   - oldPath: Baseline file.
//   - newPath: Changed file.
//
// # Outputs
//
//   - *ComparisonResult: Result when both files were read.
//   - error: Non-nil on nil context, cancellation or read failure.
func CompareFiles(ctx context.Context, c *Comparator, oldPath, newPath string) (*ComparisonResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	oldData, err := os.ReadFile(oldPath)
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}
	newData, err := os.ReadFile(newPath)
	if err != nil {
		return nil, fmt.Errorf("read changed file: %w", err)
	}
	return c.CompareFor(newPath, string(oldData), string(newData)), nil
}
