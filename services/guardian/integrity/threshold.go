// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integrity detects destructive edits between two revisions of a file.
//
// A comparison applies two rules:
//
//  1. Line loss. The old file's size selects a tolerance from a
//     ThresholdPolicy. The change fails when at least MinAbsoluteLoss lines
//     vanished and the loss ratio exceeds the tolerance.
//  2. Symbol survival. Every top-level declaration signature found in the
//     old text must still be present in the new text.
//
// Both rules are always evaluated so the caller sees the complete
// diagnostic. Symbol detection is a lexical heuristic: a rename shows up as
// one signature vanishing and another appearing, and is reported as a loss.
//
// Everything here is pure over its inputs except CompareFiles.
package integrity

import (
	"sort"
)

// Tier is one size band of a ThresholdPolicy.
type Tier struct {
	// Name labels the band in diagnostics (e.g. "tiny").
	Name string

	// MaxLines is the exclusive upper bound. 0 marks the unbounded band.
	MaxLines int

	// Tolerance is the acceptable loss ratio in [0,1].
	Tolerance float64
}

// ThresholdPolicy maps a file's prior line count to a loss tolerance.
//
// # Description
//
// Bands are checked in ascending MaxLines order; the first band with
// lineCount < MaxLines wins. The unbounded band catches everything else.
// Smaller files get higher tolerance because percentage loss is noisy at
// small sizes.
//
// # Thread Safety
//
// Immutable after construction. Safe for concurrent use.
type ThresholdPolicy struct {
	bounded   []Tier
	unbounded Tier
}

// DefaultTiers returns the stock bands: <20 0.40, <100 0.15, <200 0.10, else 0.05.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "tiny", MaxLines: 20, Tolerance: 0.40},
		{Name: "small", MaxLines: 100, Tolerance: 0.15},
		{Name: "medium", MaxLines: 200, Tolerance: 0.10},
		{Name: "large", MaxLines: 0, Tolerance: 0.05},
	}
}

// DefaultThresholdPolicy returns a policy over DefaultTiers.
func DefaultThresholdPolicy() *ThresholdPolicy {
	return NewThresholdPolicy(DefaultTiers(), 0.15)
}

// NewThresholdPolicy builds a policy from tiers.
//
// # Description
//
// Tiers are copied and sorted by MaxLines. A tier with Tolerance 0
// inherits defaultTolerance. When no unbounded tier is given, the
// largest bounded tier also covers everything above it. With no tiers
// at all, defaultTolerance applies to every size.
//
// # Inputs
//
//   - tiers: Bands in any order. At most one should have MaxLines 0.
//   - defaultTolerance: Inherited tolerance.
//
// # Outputs
//
//   - *ThresholdPolicy: Never nil.
func NewThresholdPolicy(tiers []Tier, defaultTolerance float64) *ThresholdPolicy {
	p := &ThresholdPolicy{
		unbounded: Tier{Name: "default", Tolerance: defaultTolerance},
	}

	haveUnbounded := false
	for _, t := range tiers {
		if t.Tolerance == 0 {
			t.Tolerance = defaultTolerance
		}
		if t.MaxLines <= 0 {
			if !haveUnbounded {
				t.MaxLines = 0
				p.unbounded = t
				haveUnbounded = true
			}
			continue
		}
		p.bounded = append(p.bounded, t)
	}

	sort.SliceStable(p.bounded, func(i, j int) bool {
		return p.bounded[i].MaxLines < p.bounded[j].MaxLines
	})

	if !haveUnbounded && len(p.bounded) > 0 {
		last := p.bounded[len(p.bounded)-1]
		p.unbounded = Tier{Name: last.Name, Tolerance: last.Tolerance}
	}
	return p
}

// ToleranceFor returns the loss tolerance for a file of lineCount lines.
func (p *ThresholdPolicy) ToleranceFor(lineCount int) float64 {
	return p.TierFor(lineCount).Tolerance
}

// TierFor returns the band that applies to lineCount.
func (p *ThresholdPolicy) TierFor(lineCount int) Tier {
	for _, t := range p.bounded {
		if lineCount < t.MaxLines {
			return t
		}
	}
	return p.unbounded
}

// Tiers returns the resolved bands in evaluation order, unbounded last.
func (p *ThresholdPolicy) Tiers() []Tier {
	out := make([]Tier, 0, len(p.bounded)+1)
	out = append(out, p.bounded...)
	return append(out, p.unbounded)
}
