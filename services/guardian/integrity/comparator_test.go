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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linesOf builds an n-line source where every line is distinct and
// declares nothing the extractor would pick up.
func linesOf(n int) string {
	if n == 0 {
		return ""
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "x = x + " + strconv.Itoa(i) + ";"
	}
	return strings.Join(parts, "\n")
}

func newTestComparator() *Comparator {
	return NewComparator(DefaultThresholdPolicy(), NewRegexExtractor(), DefaultOptions())
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, lineCount(""))
	assert.Equal(t, 1, lineCount("a"))
	assert.Equal(t, 2, lineCount("a\n"))
	assert.Equal(t, 3, lineCount("a\nb\nc"))
}

func TestCompare_SmallLossWithinTinyTier(t *testing.T) {
	r := newTestComparator().Compare(linesOf(12), linesOf(9))

	assert.True(t, r.Passed)
	assert.Equal(t, 12, r.OldLineCount)
	assert.Equal(t, 9, r.NewLineCount)
	assert.Equal(t, 3, r.LineDelta)
	assert.Equal(t, 0.40, r.ThresholdUsed)
	assert.Equal(t, "tiny", r.Tier)
	assert.InDelta(t, 0.25, r.LossRatio, 1e-9)
	assert.False(t, r.LineLossExceeded)
	assert.Empty(t, r.MissingSymbols)
}

func TestCompare_HalvedMediumFileFails(t *testing.T) {
	r := newTestComparator().Compare(linesOf(120), linesOf(60))

	assert.False(t, r.Passed)
	assert.Equal(t, 60, r.LineDelta)
	assert.Equal(t, 0.10, r.ThresholdUsed)
	assert.True(t, r.LineLossExceeded)
	assert.False(t, r.SymbolsMissing)
	assert.Contains(t, r.Summary(), "excessive line loss")
}

func TestCompare_RenamedFunctionIsMissing(t *testing.T) {
	r := newTestComparator().Compare("function calc() {}", "function calc2() {}")

	assert.False(t, r.Passed)
	assert.False(t, r.LineLossExceeded)
	assert.True(t, r.SymbolsMissing)
	assert.Equal(t, []string{"function calc()"}, r.MissingSymbols)
	assert.True(t, strings.HasPrefix(r.Summary(), "FAILED:"))
	assert.Contains(t, r.Summary(), "function calc()")
}

func TestCompare_BothRulesReported(t *testing.T) {
	old := "function a() {}\n" + linesOf(150)
	r := newTestComparator().Compare(old, linesOf(10))

	assert.False(t, r.Passed)
	assert.True(t, r.LineLossExceeded)
	assert.True(t, r.SymbolsMissing)
	assert.Equal(t, []string{"function a()"}, r.MissingSymbols)
	assert.Contains(t, r.Summary(), "excessive line loss; missing symbols")
}

func TestCompare_IdenticalTextsPass(t *testing.T) {
	c := newTestComparator()
	for _, text := range []string{"", "a", linesOf(50), "class A {}\nfunction b() {}\n"} {
		r := c.Compare(text, text)
		assert.True(t, r.Passed, "identical input %q should pass", text)
		assert.Zero(t, r.LineDelta)
		assert.Equal(t, LineChurn{}, r.Churn)
	}
}

func TestCompare_GrowthNeverFailsLineRule(t *testing.T) {
	c := newTestComparator()
	for _, n := range []int{0, 5, 40, 150, 500} {
		r := c.Compare(linesOf(n), linesOf(n*2+1))
		assert.False(t, r.LineLossExceeded, "growth from %d lines", n)
		assert.Zero(t, r.LossRatio)
	}
}

func TestCompare_BelowMinimumAbsoluteLoss(t *testing.T) {
	// 2 of 3 lines is a 66% loss but under the absolute floor.
	r := newTestComparator().Compare(linesOf(3), linesOf(1))
	assert.True(t, r.Passed)
	assert.Equal(t, 2, r.LineDelta)
	assert.False(t, r.LineLossExceeded)
}

func TestCompare_MonotonicInLoss(t *testing.T) {
	c := newTestComparator()
	old := linesOf(120)
	failedAt := -1
	for n := 120; n >= 0; n-- {
		r := c.Compare(old, linesOf(n))
		if failedAt >= 0 {
			assert.True(t, r.LineLossExceeded, "shrinking further to %d lines must keep failing", n)
		} else if r.LineLossExceeded {
			failedAt = n
		}
	}
	// 120 * 0.10 = 12, so 13 lost lines is the first failure.
	assert.Equal(t, 107, failedAt)
}

func TestCompare_SymbolSupersetPasses(t *testing.T) {
	old := "function a() {}\nclass B {}\n"
	updated := "function a() {}\nclass B {}\nconst c = () => 1;\n"
	r := newTestComparator().Compare(old, updated)
	assert.True(t, r.Passed)
	assert.Empty(t, r.MissingSymbols)
}

func TestCompare_EmptyBaseline(t *testing.T) {
	r := newTestComparator().Compare("", "function a() {}\n")
	assert.True(t, r.Passed)
	assert.Equal(t, 0, r.OldLineCount)
	assert.Equal(t, "tiny", r.Tier)
	assert.Zero(t, r.LossRatio)
}

func TestCompare_StrictSymbolsOff(t *testing.T) {
	c := NewComparator(nil, nil, Options{MinAbsoluteLoss: 3, StrictSymbols: false})
	r := c.Compare("function calc() {}", "function calc2() {}")
	assert.True(t, r.Passed)
	assert.False(t, r.SymbolsMissing)
	assert.NotNil(t, r.MissingSymbols)
	assert.Empty(t, r.MissingSymbols)
}

func TestCompare_ChurnIsInformational(t *testing.T) {
	old := linesOf(30)
	rewritten := strings.ReplaceAll(old, "x = x", "y = y")
	r := newTestComparator().Compare(old, rewritten)
	assert.True(t, r.Passed)
	assert.Equal(t, 30, r.Churn.Changed)
}

func TestNewComparator_Defaults(t *testing.T) {
	c := NewComparator(nil, nil, Options{MinAbsoluteLoss: -4})
	require.NotNil(t, c.Policy())
	assert.Equal(t, 0, c.Options().MinAbsoluteLoss)
	assert.Equal(t, 0.05, c.Policy().ToleranceFor(1000))
}

func TestCompareFiles(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.js")
	newPath := filepath.Join(dir, "new.js")
	require.NoError(t, os.WriteFile(oldPath, []byte("function calc() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("function calc() {}\nfunction more() {}\n"), 0o644))

	c := newTestComparator()

	t.Run("compares contents", func(t *testing.T) {
		r, err := CompareFiles(context.Background(), c, oldPath, newPath)
		require.NoError(t, err)
		assert.True(t, r.Passed)
		assert.Equal(t, 2, r.OldLineCount)
		assert.Equal(t, 3, r.NewLineCount)
	})

	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // exercising the nil guard
		_, err := CompareFiles(nil, c, oldPath, newPath)
		assert.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := CompareFiles(ctx, c, oldPath, newPath)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := CompareFiles(context.Background(), c, filepath.Join(dir, "nope.js"), newPath)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
